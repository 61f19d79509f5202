package streaming

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainSource(items [][]byte) func() ([]byte, error) {
	i := 0
	return func() ([]byte, error) {
		if i >= len(items) {
			return nil, io.EOF
		}
		v := items[i]
		i++
		return v, nil
	}
}

func TestHandleDeliversChunksInOrderToEachListener(t *testing.T) {
	h := NewHandle(nil)
	_, ch1 := h.AddListener()
	_, ch2 := h.AddListener()

	items := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	go h.Run(drainSource(items))

	for _, want := range items {
		c := <-ch1
		assert.Equal(t, want, c.Data)
	}
	assert.True(t, (<-ch1).Done)

	for _, want := range items {
		c := <-ch2
		assert.Equal(t, want, c.Data)
	}
	assert.True(t, (<-ch2).Done)
}

func TestHandleLastListenerDetachTriggersInterrupt(t *testing.T) {
	var interrupted atomic.Bool
	h := NewHandle(func(_ context.Context) error {
		interrupted.Store(true)
		return nil
	})
	h.SetInterruptTimeout(100 * time.Millisecond)

	id, ch := h.AddListener()

	blocked := make(chan struct{})
	go h.Run(func() ([]byte, error) {
		<-blocked // never returns until test ends, simulating an active source
		return nil, io.EOF
	})

	h.RemoveListener(id)
	_, stillOpen := <-ch
	assert.False(t, stillOpen)

	require.Eventually(t, interrupted.Load, time.Second, 10*time.Millisecond)
	close(blocked)
}

func TestHandlePropagatesProducerErrorToAllListeners(t *testing.T) {
	h := NewHandle(nil)
	_, ch1 := h.AddListener()
	_, ch2 := h.AddListener()

	boom := errors.New("upstream reset")
	go h.Run(func() ([]byte, error) { return nil, boom })

	c1 := <-ch1
	c2 := <-ch2
	assert.ErrorIs(t, c1.Err, boom)
	assert.ErrorIs(t, c2.Err, boom)
}

func TestHandleCloseDetachesAllListenersConcurrently(t *testing.T) {
	h := NewHandle(func(_ context.Context) error { return nil })
	const n = 10
	var wg sync.WaitGroup
	chans := make([]<-chan Chunk, n)
	for i := 0; i < n; i++ {
		_, ch := h.AddListener()
		chans[i] = ch
	}

	h.Close(context.Background())

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, open := <-chans[i]
			assert.False(t, open)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.ListenerCount())
}
