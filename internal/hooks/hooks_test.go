package hooks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishInvokesAllRegisteredHandlersInOrder(t *testing.T) {
	b := New()
	var order []int
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		i := i
		b.On(EventStreamChunk, func(_ context.Context, _ Payload) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Publish(context.Background(), Payload{Event: EventStreamChunk})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublishIsConcurrencySafeWithRegistration(t *testing.T) {
	b := New()
	var count atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.On(EventRequestComplete, func(_ context.Context, _ Payload) {
				count.Add(1)
			})
		}()
	}
	wg.Wait()

	b.Publish(context.Background(), Payload{Event: EventRequestComplete})
	assert.Equal(t, int64(20), count.Load())
}

func TestPublishRecoversFromPanickingHandler(t *testing.T) {
	b := New()
	var ran bool
	b.On(EventStreamEnd, func(_ context.Context, _ Payload) {
		panic("boom")
	})
	b.On(EventStreamEnd, func(_ context.Context, _ Payload) {
		ran = true
	})

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), Payload{Event: EventStreamEnd})
	})
	assert.True(t, ran)
}

func TestPublishUnknownEventIsNoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Publish(context.Background(), Payload{Event: "nothing.registered"})
	})
}
