package zstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

// Writer instances can write a table.
type Writer struct {
	w io.Writer
	o *WriterOptions

	block  blockBuilder
	filter *filterWriter
	index  []indexEntry

	offset uint64 // bytes written so far

	snp []byte // snappy buffer
	tmp []byte // scratch buffer
}

type indexEntry struct {
	lastKey []byte
	handle  BlockHandle
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	o = o.norm()
	wr := &Writer{
		w:   w,
		o:   o,
		tmp: make([]byte, footerLen),
	}
	wr.block.interval = o.BlockRestartInterval
	if o.FilterPolicy != nil {
		wr.filter = newFilterWriter(o.FilterPolicy)
	}
	return wr
}

// Append appends an entry to the table. Keys must be appended in
// strictly ascending order of the configured comparer.
func (w *Writer) Append(key, value []byte) error {
	if w.tmp == nil {
		return errClosed
	}

	if (w.block.entries != 0 || len(w.index) != 0) && w.o.Comparer(key, w.block.lastKey) <= 0 {
		return fmt.Errorf("zstore: attempted an out-of-order append, %q must be > %q", key, w.block.lastKey)
	}

	if w.block.estimate() != 0 && w.block.estimate()+len(key)+len(value)+3*binary.MaxVarintLen32 > w.o.BlockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}

	if w.filter != nil {
		w.filter.addKey(key)
	}
	w.block.append(key, value)
	return nil
}

// Close finishes the table, writing the filter, metaindex and index
// blocks and the footer. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.tmp == nil {
		return errClosed
	}
	if err := w.flush(); err != nil {
		return err
	}

	// filter block
	var filterHandle BlockHandle
	hasFilter := false
	if w.filter != nil {
		h, err := w.writeRawBlock(w.filter.finish(), blockNoCompression)
		if err != nil {
			return err
		}
		filterHandle, hasFilter = h, true
	}

	// metaindex block
	var meta blockBuilder
	meta.interval = 1
	if hasFilter {
		n := filterHandle.encodeTo(w.tmp)
		meta.append([]byte("filter."+w.o.FilterPolicy.Name()), w.tmp[:n])
	}
	metaHandle, err := w.writeBlock(meta.finish())
	if err != nil {
		return err
	}

	// index block
	var index blockBuilder
	index.interval = 1
	for _, ent := range w.index {
		n := ent.handle.encodeTo(w.tmp)
		index.append(ent.lastKey, w.tmp[:n])
	}
	indexHandle, err := w.writeBlock(index.finish())
	if err != nil {
		return err
	}

	// footer
	ftr := footer{MetaIndex: metaHandle, Index: indexHandle}
	if err := w.writeRaw(ftr.encodeTo(w.tmp)); err != nil {
		return err
	}
	w.tmp = nil
	return nil
}

// flush finishes the current data block and records its index entry.
func (w *Writer) flush() error {
	if w.block.entries == 0 {
		return nil
	}

	handle, err := w.writeBlock(w.block.finish())
	if err != nil {
		return err
	}
	w.index = append(w.index, indexEntry{
		lastKey: append([]byte(nil), w.block.lastKey...),
		handle:  handle,
	})
	w.block.reset()

	if w.filter != nil {
		w.filter.startBlock(w.offset)
	}
	return nil
}

// writeBlock writes a finished block body, compressing it when the
// codec pays off.
func (w *Writer) writeBlock(body []byte) (BlockHandle, error) {
	switch w.o.Compression {
	case SnappyCompression:
		w.snp = snappy.Encode(w.snp[:cap(w.snp)], body)
		if len(w.snp) < len(body)-len(body)/4 {
			return w.writeRawBlock(w.snp, blockSnappyCompression)
		}
		return w.writeRawBlock(body, blockNoCompression)
	default:
		return w.writeRawBlock(body, blockNoCompression)
	}
}

func (w *Writer) writeRawBlock(body []byte, compression byte) (BlockHandle, error) {
	handle := BlockHandle{Offset: w.offset, Size: uint64(len(body))}

	if err := w.writeRaw(body); err != nil {
		return handle, err
	}
	w.tmp[0] = compression
	crc := crc32.Checksum(body, castagnoli)
	crc = crc32.Update(crc, castagnoli, w.tmp[:1])
	binary.LittleEndian.PutUint32(w.tmp[1:], crc)
	if err := w.writeRaw(w.tmp[:blockTrailerLen]); err != nil {
		return handle, err
	}
	return handle, nil
}

func (w *Writer) writeRaw(p []byte) error {
	n, err := w.w.Write(p)
	w.offset += uint64(n)
	return err
}

// --------------------------------------------------------------------

// blockBuilder accumulates prefix-compressed entries and the restart
// directory of a single block.
type blockBuilder struct {
	interval int
	buf      []byte
	restarts []uint32
	entries  int
	lastKey  []byte
	tmp      [3 * binary.MaxVarintLen32]byte
}

func (b *blockBuilder) append(key, value []byte) {
	shared := 0
	if b.entries%b.interval == 0 {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
	} else {
		shared = sharedPrefixLen(b.lastKey, key)
	}

	n := binary.PutUvarint(b.tmp[0:], uint64(shared))
	n += binary.PutUvarint(b.tmp[n:], uint64(len(key)-shared))
	n += binary.PutUvarint(b.tmp[n:], uint64(len(value)))
	b.buf = append(b.buf, b.tmp[:n]...)
	b.buf = append(b.buf, key[shared:]...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.entries++
}

// finish appends the restart directory and returns the block body. An
// empty builder yields a body with a single restart point and no
// entries.
func (b *blockBuilder) finish() []byte {
	if len(b.restarts) == 0 {
		b.restarts = append(b.restarts, 0)
	}
	var tmp [4]byte
	for _, off := range b.restarts {
		binary.LittleEndian.PutUint32(tmp[:], off)
		b.buf = append(b.buf, tmp[:]...)
	}
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b.restarts)))
	b.buf = append(b.buf, tmp[:]...)
	return b.buf
}

func (b *blockBuilder) reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.entries = 0
}

// estimate returns the current encoded size of the block body.
func (b *blockBuilder) estimate() int {
	if b.entries == 0 {
		return 0
	}
	return len(b.buf) + 4*len(b.restarts) + 4
}

func sharedPrefixLen(a, b []byte) int {
	n, i := len(a), 0
	if len(b) < n {
		n = len(b)
	}
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
