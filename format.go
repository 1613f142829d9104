package zstore

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	maxBlockHandleLen = 2 * binary.MaxVarintLen64
	footerLen         = 2*maxBlockHandleLen + 8
	blockTrailerLen   = 5 // compression tag + checksum
)

// BlockHandle points at a contiguous region of a table file.
type BlockHandle struct {
	Offset uint64 // block offset position
	Size   uint64 // block size, excluding the trailer
}

func (h BlockHandle) encodeTo(dst []byte) int {
	n := binary.PutUvarint(dst, h.Offset)
	n += binary.PutUvarint(dst[n:], h.Size)
	return n
}

// decodeBlockHandle returns the decoded handle and the number of bytes
// consumed, or zero if either varint is truncated.
func decodeBlockHandle(buf []byte) (BlockHandle, int) {
	offset, n := binary.Uvarint(buf)
	if n <= 0 {
		return BlockHandle{}, 0
	}
	size, m := binary.Uvarint(buf[n:])
	if m <= 0 {
		return BlockHandle{}, 0
	}
	return BlockHandle{Offset: offset, Size: size}, n + m
}

// footer is the fixed-length trailer of every table file.
type footer struct {
	MetaIndex BlockHandle
	Index     BlockHandle
}

func (f footer) encodeTo(dst []byte) []byte {
	dst = dst[:footerLen]
	for i := range dst {
		dst[i] = 0
	}
	n := f.MetaIndex.encodeTo(dst)
	f.Index.encodeTo(dst[n:])
	copy(dst[footerLen-8:], magic)
	return dst
}

func (f *footer) decodeFrom(buf []byte) error {
	if len(buf) < footerLen {
		return errors.Wrap(ErrCorrupt, "footer too short")
	}
	buf = buf[len(buf)-footerLen:]

	if !bytes.Equal(buf[footerLen-8:], magic) {
		return errors.Wrap(ErrCorrupt, "bad magic byte sequence")
	}

	var n, m int
	if f.MetaIndex, n = decodeBlockHandle(buf); n == 0 {
		return errors.Wrap(ErrCorrupt, "bad metaindex handle")
	}
	if f.Index, m = decodeBlockHandle(buf[n:]); m == 0 {
		return errors.Wrap(ErrCorrupt, "bad index handle")
	}
	return nil
}
