package game

import "sync/atomic"

// Sequence hands out identifiers.
type Sequence interface {
	Next() uint64
}

// Counter is a Sequence of strictly increasing values starting at 1.
type Counter struct {
	n atomic.Uint64
}

func NewCounter() *Counter { return &Counter{} }

func (c *Counter) Next() uint64 { return c.n.Add(1) }
