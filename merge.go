package zstore

import (
	"bytes"
	"context"

	"golang.org/x/sync/errgroup"
)

// CombinedCursor merges several cursors into a single ordered stream.
// Positioning calls fan out across the sub-cursors concurrently; after
// they settle, the cursor with the globally smallest key becomes
// current. When two sub-cursors hold equal keys the one passed earlier
// to NewCombinedCursor wins, so callers should pass the newest table
// first.
type CombinedCursor struct {
	cursors []Cursor
	cmp     Compare
	cur     int
}

// NewCombinedCursor combines the given cursors. A nil cmp defaults to
// bytewise comparison; it must match the order of the underlying
// tables.
func NewCombinedCursor(cmp Compare, cursors ...Cursor) *CombinedCursor {
	if cmp == nil {
		cmp = bytes.Compare
	}
	return &CombinedCursor{cursors: cursors, cmp: cmp, cur: -1}
}

func (c *CombinedCursor) First(ctx context.Context) error {
	return c.positionAll(ctx, func(ctx context.Context, sub Cursor) error {
		return sub.First(ctx)
	})
}

func (c *CombinedCursor) Last(ctx context.Context) error {
	return c.positionAll(ctx, func(ctx context.Context, sub Cursor) error {
		return sub.Last(ctx)
	})
}

func (c *CombinedCursor) Seek(ctx context.Context, target []byte) error {
	return c.positionAll(ctx, func(ctx context.Context, sub Cursor) error {
		return sub.Seek(ctx, target)
	})
}

// Next advances only the sub-cursor whose entry was last returned,
// then re-selects the smallest.
func (c *CombinedCursor) Next(ctx context.Context) error {
	if c.cur < 0 {
		return nil // exhausted
	}
	if err := c.cursors[c.cur].Next(ctx); err != nil {
		c.cur = -1
		return err
	}
	c.findSmallest()
	return nil
}

func (c *CombinedCursor) Key() []byte {
	if c.cur < 0 {
		return nil
	}
	return c.cursors[c.cur].Key()
}

func (c *CombinedCursor) Value() []byte {
	if c.cur < 0 {
		return nil
	}
	return c.cursors[c.cur].Value()
}

// Valid reports whether any sub-cursor still holds an entry.
func (c *CombinedCursor) Valid() bool { return c.cur >= 0 }

// Close closes all sub-cursors, returning the first error.
func (c *CombinedCursor) Close() (err error) {
	for _, sub := range c.cursors {
		if e := sub.Close(); e != nil && err == nil {
			err = e
		}
	}
	c.cursors = nil
	c.cur = -1
	return
}

func (c *CombinedCursor) positionAll(ctx context.Context, op func(context.Context, Cursor) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range c.cursors {
		sub := sub
		g.Go(func() error { return op(ctx, sub) })
	}
	if err := g.Wait(); err != nil {
		c.cur = -1
		return err
	}
	c.findSmallest()
	return nil
}

func (c *CombinedCursor) findSmallest() {
	c.cur = -1
	for i, sub := range c.cursors {
		if !sub.Valid() {
			continue
		}
		if c.cur < 0 || c.cmp(sub.Key(), c.cursors[c.cur].Key()) < 0 {
			c.cur = i
		}
	}
}
