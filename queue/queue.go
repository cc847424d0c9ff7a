// Package queue holds listing ids waiting for priority enrichment.
package queue

import "context"

// Queue is a FIFO of listing ids.
type Queue interface {
	Push(ctx context.Context, ids ...string) error
	// Pop removes and returns up to n ids. An empty queue yields an empty
	// slice and no error.
	Pop(ctx context.Context, n int) ([]string, error)
	Len(ctx context.Context) (int, error)
	Close() error
}
