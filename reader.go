package zstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// anonFileID hands out IDs for tables opened from a bare io.ReaderAt.
// Path-opened tables hash their path instead, so their cached blocks
// survive re-opens. The high bit keeps the two ranges apart.
var anonFileID uint64

// SSTable is an open immutable table. Instances are shared through the
// table cache and reference-counted; the file handle is released when
// the last reference is dropped.
type SSTable struct {
	r      io.ReaderAt
	closer io.Closer
	size   int64
	path   string
	fileID uint64

	metaIndex BlockHandle
	index     *block
	filter    *filterBlockReader
	opts      *Options

	refs int32
}

// Open opens the table at path, consulting the table cache first. The
// returned table is referenced on behalf of the caller, who must Close
// it when done.
func Open(ctx context.Context, path string, o *Options) (*SSTable, error) {
	opts := o.norm()
	return opts.TableCache.getOrOpen(ctx, path, func(ctx context.Context) (*SSTable, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "zstore: open %s", path)
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrapf(err, "zstore: stat %s", path)
		}
		t, err := openTable(ctx, f, fi.Size(), xxhash.Sum64String(path)&^(1<<63), opts)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		t.path = path
		t.closer = f
		return t, nil
	})
}

// OpenReaderAt opens a table from an arbitrary random-access reader.
// It bypasses the table cache, but blocks are still cached.
func OpenReaderAt(ctx context.Context, r io.ReaderAt, size int64, o *Options) (*SSTable, error) {
	fileID := atomic.AddUint64(&anonFileID, 1) | 1<<63
	return openTable(ctx, r, size, fileID, o.norm())
}

func openTable(ctx context.Context, r io.ReaderAt, size int64, fileID uint64, opts *Options) (*SSTable, error) {
	if size < footerLen {
		return nil, errors.Wrap(ErrCorrupt, "file too small")
	}

	cr := checkedReaderAt{r: r, handler: opts.ReadErrorHandler, logger: opts.Logger}
	buf := make([]byte, footerLen)
	if m, err := cr.ReadAt(buf, size-footerLen); m < footerLen {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrap(err, "zstore: read footer")
	}

	var ftr footer
	if err := ftr.decodeFrom(buf); err != nil {
		return nil, err
	}

	t := &SSTable{
		r:         cr,
		size:      size,
		fileID:    fileID,
		metaIndex: ftr.MetaIndex,
		opts:      opts,
		refs:      1,
	}

	// The index block goes through the block cache but is only parsed
	// lazily, by the cursors that traverse it.
	index, err := t.block(ctx, ftr.Index)
	if err != nil {
		return nil, err
	}
	t.index = index

	if err := t.readMeta(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// readMeta locates the filter block through the metaindex block and
// constructs the filter reader. A missing filter entry is not an
// error. Neither block is cached.
func (t *SSTable) readMeta(ctx context.Context) error {
	if t.opts.FilterPolicy == nil {
		return nil
	}

	data, err := t.readBlockData(ctx, t.metaIndex)
	if err != nil {
		return err
	}
	meta, err := newBlock(data, t.opts.Comparer)
	if err != nil {
		return err
	}

	name := []byte("filter." + t.opts.FilterPolicy.Name())
	c := newBlockCursor(meta)
	c.Seek(name)
	if err := c.Err(); err != nil {
		return err
	}
	if !c.Valid() || !bytes.Equal(c.Key(), name) {
		return nil
	}

	h, n := decodeBlockHandle(c.Value())
	if n == 0 {
		return errors.Wrap(ErrCorrupt, "bad filter handle")
	}
	fdata, err := t.readBlockData(ctx, h)
	if err != nil {
		return err
	}
	filter, err := newFilterBlockReader(t.opts.FilterPolicy, fdata)
	if err != nil {
		return err
	}
	t.filter = filter
	return nil
}

// Path returns the file path the table was opened from, if any.
func (t *SSTable) Path() string { return t.path }

// Size returns the table file size in bytes.
func (t *SSTable) Size() int64 { return t.size }

// NumBlocks returns the number of data blocks.
func (t *SSTable) NumBlocks() int {
	if t.index.restarts == 0 {
		return 0 // the index block has no entries
	}
	return t.index.numRestarts
}

// Ref acquires an additional reference on the table.
func (t *SSTable) Ref() { atomic.AddInt32(&t.refs, 1) }

// Unref releases one reference; the file handle is closed when the
// last one is dropped.
func (t *SSTable) Unref() error {
	refs := atomic.AddInt32(&t.refs, -1)
	if refs < 0 {
		return errClosed
	}
	if refs == 0 && t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// Close releases the caller's reference.
func (t *SSTable) Close() error { return t.Unref() }

// Append retrieves a single value for a key and appends it to dst
// instead of allocating a new byte slice. The filter, if configured,
// is consulted before the data block is read.
// It may return an ErrNotFound error.
func (t *SSTable) Append(ctx context.Context, dst, key []byte) ([]byte, error) {
	idx := newBlockCursor(t.index)
	idx.Seek(key)
	if err := idx.Err(); err != nil {
		return dst, err
	}
	if !idx.Valid() {
		return dst, ErrNotFound
	}

	h, n := decodeBlockHandle(idx.Value())
	if n == 0 {
		return dst, errors.Wrap(ErrCorrupt, "bad index entry")
	}
	if t.filter != nil && !t.filter.mayContain(h.Offset, key) {
		return dst, ErrNotFound
	}

	b, err := t.block(ctx, h)
	if err != nil {
		return dst, err
	}
	c := newBlockCursor(b)
	c.Seek(key)
	if err := c.Err(); err != nil {
		t.dropBlock(h)
		return dst, err
	}
	if !c.Valid() || t.opts.Comparer(c.Key(), key) != 0 {
		return dst, ErrNotFound
	}
	return append(dst, c.Value()...), nil
}

// Get is a shortcut for Append(ctx, nil, key).
// It may return an ErrNotFound error.
func (t *SSTable) Get(ctx context.Context, key []byte) ([]byte, error) {
	return t.Append(ctx, nil, key)
}

// block returns the block at h through the block cache, reading it on
// a miss. Concurrent misses for the same block coalesce into a single
// read.
func (t *SSTable) block(ctx context.Context, h BlockHandle) (*block, error) {
	key := blockCacheKey{fileID: t.fileID, offset: h.Offset}
	return t.opts.BlockCache.getOrLoad(ctx, key, func(ctx context.Context) (*block, error) {
		return t.readBlock(ctx, h)
	})
}

// dropBlock invalidates a cached block that turned out to be corrupt.
// The containing table and the rest of the cache stay usable.
func (t *SSTable) dropBlock(h BlockHandle) {
	t.opts.Logger.Errorf("dropping corrupt block at %d from cache", h.Offset)
	t.opts.BlockCache.remove(blockCacheKey{fileID: t.fileID, offset: h.Offset})
}

func (t *SSTable) readBlock(ctx context.Context, h BlockHandle) (*block, error) {
	data, err := t.readBlockData(ctx, h)
	if err != nil {
		return nil, err
	}
	return newBlock(data, t.opts.Comparer)
}

// readBlockData reads the raw range for h, verifies the trailer
// checksum and strips the trailer, decompressing if needed.
func (t *SSTable) readBlockData(ctx context.Context, h BlockHandle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := int(h.Size) + blockTrailerLen
	pooled := n <= t.opts.BufferSize
	var raw []byte
	if pooled {
		raw = fetchBuffer(n)
	} else {
		raw = make([]byte, n)
	}
	release := func() {
		if pooled {
			releaseBuffer(raw)
		}
	}

	if m, err := t.r.ReadAt(raw, int64(h.Offset)); m < n {
		release()
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "zstore: read block at %d", h.Offset)
	}

	body := raw[:h.Size]
	if sum := crc32.Checksum(raw[:h.Size+1], castagnoli); sum != binary.LittleEndian.Uint32(raw[h.Size+1:]) {
		release()
		return nil, errors.Wrap(ErrCorrupt, "block checksum mismatch")
	}

	switch raw[h.Size] {
	case blockNoCompression:
		data := append(make([]byte, 0, len(body)), body...)
		release()
		return data, nil
	case blockSnappyCompression:
		sz, err := snappy.DecodedLen(body)
		if err != nil {
			release()
			return nil, errors.Wrap(ErrCorrupt, "bad compressed block")
		}
		data, err := snappy.Decode(make([]byte, sz), body)
		release()
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "bad compressed block")
		}
		return data, nil
	default:
		release()
		return nil, errors.Wrap(ErrCorrupt, "bad compression codec")
	}
}

// --------------------------------------------------------------------

// checkedReaderAt retries reads according to the configured error
// handler before surfacing the failure.
type checkedReaderAt struct {
	r       io.ReaderAt
	handler ReadErrorHandler
	logger  Logger
}

func (r checkedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	for attempts := 1; ; attempts++ {
		n, err := r.r.ReadAt(p, off)
		if err == nil || err == io.EOF {
			return n, err
		}
		if r.handler != nil && r.handler(err, attempts) {
			r.logger.Infof("retrying read of %d bytes at %d after error: %v", len(p), off, err)
			continue
		}
		return n, err
	}
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p[:cap(p)])
	}
}
