package protocol_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/MasterOfBinary/goloader/protocol"
)

func TestQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[int]("q", 3)
	assert.Equal(t, "q", q.Name())
	assert.Equal(t, 3, q.Cap())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		v, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	_, err := q.TryGet()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultQueueCapacity, NewQueue[int]("q", 0).Cap())
}

func TestQueue_Close(t *testing.T) {
	ctx := context.Background()
	q := NewQueue[string]("q", 2)
	require.NoError(t, q.Put(ctx, "a"))

	q.Close()
	q.Close()
	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Put(ctx, "b"), ErrClosed)

	v, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = q.Get(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.TryGet()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_Cancel(t *testing.T) {
	q := NewQueue[int]("q", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Put(context.Background(), 1))
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, q.Put(ctx2, 2), context.DeadlineExceeded)
}

func TestQueue_CloseWakesGetter(t *testing.T) {
	q := NewQueue[int]("q", 1)
	errs := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background())
		errs <- err
	}()

	time.Sleep(5 * time.Millisecond)
	q.Close()
	assert.ErrorIs(t, <-errs, ErrClosed)
}

func TestPair(t *testing.T) {
	p := NewPair("worker 0", 4)
	assert.Equal(t, "worker 0 request", p.Requests.Name())
	assert.Equal(t, "worker 0 response", p.Responses.Name())

	p.Close()
	assert.True(t, p.Requests.Closed())
	assert.True(t, p.Responses.Closed())
}
