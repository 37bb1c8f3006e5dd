package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferAndPollRoundTrip(t *testing.T) {
	q := New(2)
	assert.True(t, q.Offer([]byte("a"), 10*time.Millisecond))
	assert.Equal(t, 1, q.Size())

	v, ok := q.Poll(10 * time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), v)
	assert.Equal(t, 0, q.Size())
}

func TestOfferDropsWhenFull(t *testing.T) {
	q := New(1)
	require.True(t, q.Offer([]byte("a"), 10*time.Millisecond))
	ok := q.Offer([]byte("b"), 20*time.Millisecond)
	assert.False(t, ok, "offer must drop rather than block indefinitely")
}

func TestPollTimesOutOnEmpty(t *testing.T) {
	q := New(4)
	start := time.Now()
	_, ok := q.Poll(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDrainUpToMax(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		require.True(t, q.Offer([]byte{byte(i)}, time.Millisecond))
	}
	out := q.Drain(3)
	assert.Len(t, out, 3)
	assert.Equal(t, 2, q.Size())

	out2 := q.Drain(10)
	assert.Len(t, out2, 2)
	assert.Equal(t, 0, q.Size())
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	q := New(3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Offer([]byte{byte(i)}, 5*time.Millisecond)
		}(i)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, q.Size(), 0)
	assert.LessOrEqual(t, q.Size(), q.Capacity())
}

func TestUtilisation(t *testing.T) {
	q := New(4)
	assert.Equal(t, 0.0, q.Utilisation())
	q.Offer([]byte("x"), time.Millisecond)
	q.Offer([]byte("y"), time.Millisecond)
	assert.Equal(t, 0.5, q.Utilisation())
}

type fakeQueueSink struct {
	mu    sync.Mutex
	sizes []int
	ratio float64
}

func (s *fakeQueueSink) SetQueueSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, n)
}

func (s *fakeQueueSink) SetQueueUtilisation(ratio float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratio = ratio
}

func (s *fakeQueueSink) observedAtLeastOnce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sizes) > 0
}

func TestMonitorReportsSizeAndUtilisationWithoutDrops(t *testing.T) {
	q := New(4)
	q.Offer([]byte("x"), time.Millisecond)
	sink := &fakeQueueSink{}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	q.Monitor(ctx, 5*time.Millisecond, 0, sink)

	assert.True(t, sink.observedAtLeastOnce(), "monitor must report on its own cadence, independent of drops")
	assert.Equal(t, 0.25, sink.ratio)
}

func TestMonitorStopsWhenContextCancelled(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		q.Monitor(ctx, time.Millisecond, 0, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after context cancellation")
	}
}
