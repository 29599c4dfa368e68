package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSink = errors.New("sink down")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(func() error { return errSink })
	}
}

func TestBreakerOpensAfterThresholdAndRejects(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 5)
	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, 1, b.Trips())

	called := false
	err := b.Do(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerProbeAfterReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }

	failN(b, 2)
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())

	failN(b, 2)
	now = now.Add(2 * time.Second)
	_ = b.Do(func() error { return errSink })
	assert.Equal(t, StateOpen, b.State(), "failed probe reopens")
	assert.Equal(t, 3, b.Trips())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(5, 30*time.Second)
	failN(b, 3)
	require.NoError(t, b.Do(func() error { return nil }))
	failN(b, 3)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "closed", b.State().String())
}

func TestBreakerConcurrentAccess(t *testing.T) {
	b := NewBreaker(100, 30*time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Do(func() error { return nil })
			_ = b.State()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}
