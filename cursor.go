package zstore

import (
	"context"

	"github.com/pkg/errors"
)

// Cursor is a positional reader over an ordered key-value stream.
// Keys and values returned by Key and Value remain valid until the
// next positioning call.
type Cursor interface {
	// First positions the cursor at the first entry.
	First(ctx context.Context) error
	// Last positions the cursor at the last entry.
	Last(ctx context.Context) error
	// Seek positions the cursor at the first entry with key >= target.
	Seek(ctx context.Context, target []byte) error
	// Next advances the cursor by one entry.
	Next(ctx context.Context) error
	// Key returns the key of the current entry.
	Key() []byte
	// Value returns the value of the current entry.
	Value() []byte
	// Valid reports whether the cursor is positioned at an entry.
	Valid() bool
	// Close releases the cursor. The cursor must not be used after
	// this method is called.
	Close() error
}

// Cursor returns a new cursor over the table. The cursor holds a
// reference on the table and must be closed.
func (t *SSTable) Cursor() Cursor {
	t.Ref()
	return &tableCursor{t: t, index: newBlockCursor(t.index)}
}

// tableCursor chains a cursor over the index block with a cursor over
// the data block the index currently points at.
type tableCursor struct {
	t      *SSTable
	index  *blockCursor
	data   *blockCursor
	dataH  BlockHandle
	closed bool
}

func (c *tableCursor) First(ctx context.Context) error {
	if c.closed {
		return errReleased
	}
	c.index.First()
	if err := c.advance(ctx); err != nil {
		return err
	}
	if c.data != nil {
		c.data.First()
	}
	return c.dataErr()
}

func (c *tableCursor) Last(ctx context.Context) error {
	if c.closed {
		return errReleased
	}
	c.index.Last()
	if err := c.advance(ctx); err != nil {
		return err
	}
	if c.data != nil {
		c.data.Last()
	}
	return c.dataErr()
}

func (c *tableCursor) Seek(ctx context.Context, target []byte) error {
	if c.closed {
		return errReleased
	}
	c.index.Seek(target)
	if err := c.advance(ctx); err != nil {
		return err
	}
	if c.data != nil {
		c.data.Seek(target)
	}
	return c.dataErr()
}

func (c *tableCursor) Next(ctx context.Context) error {
	if c.closed {
		return errReleased
	}
	if c.data == nil {
		return nil // exhausted
	}

	c.data.Next()
	if c.data.Valid() {
		return nil
	}
	if err := c.dataErr(); err != nil {
		return err
	}

	c.index.Next()
	if err := c.advance(ctx); err != nil {
		return err
	}
	if c.data != nil {
		c.data.First()
	}
	return c.dataErr()
}

func (c *tableCursor) Key() []byte {
	if c.data == nil {
		return nil
	}
	return c.data.Key()
}

func (c *tableCursor) Value() []byte {
	if c.data == nil {
		return nil
	}
	return c.data.Value()
}

func (c *tableCursor) Valid() bool {
	return !c.closed && c.data != nil && c.data.Valid()
}

func (c *tableCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.index = nil
	c.data = nil
	return c.t.Unref()
}

// advance follows the index cursor's current entry to its data block.
// An exhausted index cursor exhausts the whole cursor.
func (c *tableCursor) advance(ctx context.Context) error {
	if err := c.index.Err(); err != nil {
		c.data = nil
		return err
	}
	if !c.index.Valid() {
		c.data = nil
		return nil
	}

	h, n := decodeBlockHandle(c.index.Value())
	if n == 0 {
		c.data = nil
		return errors.Wrap(ErrCorrupt, "bad index entry")
	}
	b, err := c.t.block(ctx, h)
	if err != nil {
		c.data = nil
		return err
	}
	c.data = newBlockCursor(b)
	c.dataH = h
	return nil
}

// dataErr surfaces corruption hit by the data cursor. The faulty block
// is dropped from the cache; the cursor is invalidated but the table
// remains usable.
func (c *tableCursor) dataErr() error {
	if c.data == nil {
		return nil
	}
	if err := c.data.Err(); err != nil {
		c.t.dropBlock(c.dataH)
		c.data = nil
		return err
	}
	return nil
}
