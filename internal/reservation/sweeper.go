package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Expired int `json:"expired"`
	Warned  int `json:"warned"`
	Reaped  int `json:"reaped"`
}

func (r SweepResult) empty() bool {
	return r == SweepResult{}
}

// Sweep expires lapsed reservations, warns once about reservations inside the
// warning window and deletes resolved conflict records past retention. It
// holds the store lock for the whole pass.
func (s *Store) Sweep(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var res SweepResult

	for _, r := range s.reservations {
		if !r.IsActive(now) {
			s.expireLocked(ctx, r)
			res.Expired++
		}
	}

	horizon := now.Add(s.cfg.ExpirationWarning)
	for id, r := range s.reservations {
		if r.ExpiresAt.After(horizon) {
			continue
		}
		if _, done := s.warned[id]; done {
			continue
		}
		s.warned[id] = struct{}{}
		s.sink.Emit(core.ReservationsChannel(r.ProjectID), core.EventReservationExpiring, expiringPayload(r, now))
		res.Warned++
	}

	for id, c := range s.conflicts {
		if c.Status != core.ConflictResolved || c.ResolvedAt == nil {
			continue
		}
		if now.Sub(*c.ResolvedAt) > s.cfg.ConflictRetention {
			delete(s.conflicts, id)
			res.Reaped++
		}
	}
	return res
}

// Sweeper runs Store.Sweep on a ticker until stopped.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func newSweeper(store *Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (sw *Sweeper) start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)
	go func() {
		defer close(sw.done)
		defer sw.store.clearSweeper(sw)
		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.tick(ctx)
			}
		}
	}()
}

func (sw *Sweeper) stop() {
	sw.cancel()
	<-sw.done
}

// tick runs one sweep. A panic is logged and the next tick still runs.
func (sw *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sw.logger.ErrorContext(ctx, "sweeper tick failed", "error", fmt.Sprint(r))
		}
	}()
	res := sw.store.Sweep(ctx)
	if res.empty() {
		return
	}
	sw.logger.InfoContext(ctx, "sweeper pass",
		"expired", res.Expired,
		"warned", res.Warned,
		"reaped", res.Reaped)
}

// StartCleanupJob starts the background sweeper. It reports false when the
// sweeper is already running.
func (s *Store) StartCleanupJob(ctx context.Context) bool {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweeper != nil {
		return false
	}
	s.sweeper = newSweeper(s, s.cfg.CleanupInterval, s.logger)
	s.sweeper.start(ctx)
	return true
}

// StopCleanupJob stops the sweeper and waits for an in-flight pass. It is a
// no-op when the sweeper is not running.
func (s *Store) StopCleanupJob() {
	s.sweepMu.Lock()
	sw := s.sweeper
	s.sweeper = nil
	s.sweepMu.Unlock()
	if sw != nil {
		sw.stop()
	}
}

// clearSweeper drops the handle when sw exits on its own, so a cancelled
// context does not leave a dead sweeper that blocks StartCleanupJob.
func (s *Store) clearSweeper(sw *Sweeper) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweeper == sw {
		s.sweeper = nil
	}
}

// CleanupRunning reports whether the sweeper is running.
func (s *Store) CleanupRunning() bool {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.sweeper != nil
}
