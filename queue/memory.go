package queue

import (
	"context"
	"sync"
)

// MemoryQueue is the in-process fallback used when REDIS_ADDR is empty.
type MemoryQueue struct {
	mu  sync.Mutex
	ids []string
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(ctx context.Context, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, ids...)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context, n int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		return []string{}, nil
	}
	if n > len(q.ids) {
		n = len(q.ids)
	}
	out := append([]string(nil), q.ids[:n]...)
	q.ids = q.ids[n:]
	return out, nil
}

func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids), nil
}

func (q *MemoryQueue) Close() error { return nil }
