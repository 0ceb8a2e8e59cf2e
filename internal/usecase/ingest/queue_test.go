package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
)

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(3)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, &entity.DiscoveredItem{ID: id}))
	}
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Cap())

	for _, want := range []string{"a", "b", "c"} {
		item, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)
	}
}

func TestQueue_PushBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Push(context.Background(), &entity.DiscoveredItem{ID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, &entity.DiscoveredItem{ID: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	q := NewQueue(1)
	errs := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errs <- err
	}()

	q.Close()
	q.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Pop not released by Close")
	}
	assert.ErrorIs(t, q.Push(context.Background(), &entity.DiscoveredItem{}), ErrQueueClosed)
}

func TestNewQueue_MinimumSize(t *testing.T) {
	assert.Equal(t, 1, NewQueue(0).Cap())
}
