package reservation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%03d", prefix, n.Add(1)) }
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock, *events.Recorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &events.Recorder{}
	base := []Option{
		WithClock(clock.Now),
		WithSink(rec),
		WithIDGenerator(sequentialIDs("res")),
	}
	return NewStore(append(base, opts...)...), clock, rec
}
