package storage

import (
	"context"
	"sync/atomic"
)

// Counter wraps a Store and counts every statement sent through it.
type Counter struct {
	Store
	n atomic.Int64
}

func Count(s Store) *Counter {
	return &Counter{Store: s}
}

func (c *Counter) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	c.n.Add(1)
	return c.Store.Exec(ctx, query, args...)
}

func (c *Counter) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	c.n.Add(1)
	return c.Store.Query(ctx, query, args...)
}

// Statements returns how many statements have been executed.
func (c *Counter) Statements() int64 {
	return c.n.Load()
}
