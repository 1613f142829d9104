package zstore

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// block holds the decoded body of a single table block: a sequence of
// prefix-compressed entries followed by the restart-point directory.
// Blocks are immutable after construction and may be shared between
// cursors and the block cache.
type block struct {
	data        []byte
	restarts    int // offset of the restart-point array
	numRestarts int
	cmp         Compare
}

func newBlock(data []byte, cmp Compare) (*block, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(ErrCorrupt, "block too short")
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	if numRestarts < 1 || len(data) < 4+4*numRestarts {
		return nil, errors.Wrap(ErrCorrupt, "bad restart count")
	}

	b := &block{
		data:        data,
		restarts:    len(data) - 4 - 4*numRestarts,
		numRestarts: numRestarts,
		cmp:         cmp,
	}
	prev := -1
	for i := 0; i < numRestarts; i++ {
		off := b.restart(i)
		if off <= prev || off > b.restarts {
			return nil, errors.Wrap(ErrCorrupt, "restart offset out of range")
		}
		prev = off
	}
	return b, nil
}

func (b *block) restart(i int) int {
	return int(binary.LittleEndian.Uint32(b.data[b.restarts+4*i:]))
}

func (b *block) size() int { return len(b.data) }

// decodeEntry parses the varint header of a single entry and returns
// the shared key length, the literal key length, the value length and
// the number of header bytes consumed, or zero on truncation.
func decodeEntry(buf []byte) (shared, nonShared, valueLen, n int) {
	u1, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return 0, 0, 0, 0
	}
	u2, n2 := binary.Uvarint(buf[n1:])
	if n2 <= 0 {
		return 0, 0, 0, 0
	}
	u3, n3 := binary.Uvarint(buf[n1+n2:])
	if n3 <= 0 {
		return 0, 0, 0, 0
	}
	return int(u1), int(u2), int(u3), n1 + n2 + n3
}

// blockCursor traverses the entries of a single block. The key buffer
// is owned by the cursor and reused between entries; the value is a
// view into the block and remains valid for as long as the cursor
// holds a reference to it.
type blockCursor struct {
	b          *block
	offset     int // start of the current entry
	nextOffset int
	key        []byte
	value      []byte
	valid      bool
	err        error
}

func newBlockCursor(b *block) *blockCursor {
	return &blockCursor{b: b, nextOffset: b.restart(0)}
}

// First positions the cursor at the first entry. An empty block leaves
// the cursor invalid.
func (c *blockCursor) First() {
	if c.err != nil {
		return
	}
	c.seekToRestart(0)
	c.parseNext()
}

// Last positions the cursor at the last entry.
func (c *blockCursor) Last() {
	if c.err != nil {
		return
	}
	c.seekToRestart(c.b.numRestarts - 1)
	if !c.parseNext() {
		return
	}
	for c.nextOffset < c.b.restarts {
		if !c.parseNext() {
			return
		}
	}
}

// Seek positions the cursor at the first entry with key >= target. It
// binary-searches the restart points for the greatest restart whose
// full key is < target, then scans forward. The cursor is left invalid
// when no such entry exists.
func (c *blockCursor) Seek(target []byte) {
	if c.err != nil {
		return
	}

	left, right := 0, c.b.numRestarts-1
	for left < right {
		mid := (left + right + 1) / 2
		off := c.b.restart(mid)
		shared, nonShared, _, n := decodeEntry(c.b.data[off:c.b.restarts])
		if n == 0 || shared != 0 || off+n+nonShared > c.b.restarts {
			c.corrupt("bad restart entry")
			return
		}
		midKey := c.b.data[off+n : off+n+nonShared]
		if c.b.cmp(midKey, target) < 0 {
			left = mid
		} else {
			right = mid - 1
		}
	}

	c.seekToRestart(left)
	for c.parseNext() {
		if c.b.cmp(c.key, target) >= 0 {
			return
		}
	}
}

// Next advances the cursor by one entry. Advancing past the last entry
// leaves the cursor invalid.
func (c *blockCursor) Next() {
	if c.err != nil {
		return
	}
	c.parseNext()
}

func (c *blockCursor) Key() []byte   { return c.key }
func (c *blockCursor) Value() []byte { return c.value }
func (c *blockCursor) Valid() bool   { return c.valid }
func (c *blockCursor) Err() error    { return c.err }

func (c *blockCursor) seekToRestart(i int) {
	c.key = c.key[:0]
	c.valid = false
	c.nextOffset = c.b.restart(i)
}

func (c *blockCursor) parseNext() bool {
	c.offset = c.nextOffset
	if c.offset >= c.b.restarts {
		c.valid = false
		return false
	}

	shared, nonShared, valueLen, n := decodeEntry(c.b.data[c.offset:c.b.restarts])
	if n == 0 || shared > len(c.key) {
		c.corrupt("bad entry header")
		return false
	}
	p := c.offset + n
	if p+nonShared+valueLen > c.b.restarts {
		c.corrupt("entry exceeds block bounds")
		return false
	}

	c.key = append(c.key[:shared], c.b.data[p:p+nonShared]...)
	c.value = c.b.data[p+nonShared : p+nonShared+valueLen]
	c.nextOffset = p + nonShared + valueLen
	c.valid = true
	return true
}

func (c *blockCursor) corrupt(msg string) {
	c.valid = false
	c.err = errors.Wrap(ErrCorrupt, msg)
}
