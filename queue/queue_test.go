package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseQueue(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()

	ids, err := q.Pop(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, q.Push(ctx, "1", "2", "3"))
	require.NoError(t, q.Push(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	ids, err = q.Pop(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, err = q.Pop(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, ids)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue())
}

func TestRedisQueue(t *testing.T) {
	key := fmt.Sprintf("car-scraper:test:%d", time.Now().UnixNano())
	q := NewRedisQueue("localhost:6379", 0, key)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		t.Skip("Redis is not available, skipping test")
	}

	exerciseQueue(t, q)
}
