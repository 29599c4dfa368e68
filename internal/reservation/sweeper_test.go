package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

func TestSweepExpiresWarnsAndIsIdempotent(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()

	short := create(t, s, "p", "a", core.ModeExclusive, 20, "short.go").Reservation
	soon := create(t, s, "p", "b", core.ModeExclusive, 45, "soon.go").Reservation
	create(t, s, "p", "c", core.ModeExclusive, 600, "long.go")

	// A denied request leaves an open conflict blocked by short.
	require.False(t, create(t, s, "p", "d", core.ModeExclusive, 60, "short.go").Granted)

	res := s.Sweep(ctx)
	assert.Equal(t, SweepResult{Warned: 1}, res)

	clock.Advance(20 * time.Second)
	res = s.Sweep(ctx)
	assert.Equal(t, SweepResult{Expired: 1, Warned: 1}, res)
	assert.Nil(t, s.GetReservation(ctx, short.ID))
	assert.NotNil(t, s.GetReservation(ctx, soon.ID))

	res = s.Sweep(ctx)
	assert.True(t, res.empty(), "second pass at the same instant changes nothing")

	expired := rec.OfType(core.EventReservationExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, short.ID, expired[0].Payload["reservation_id"])
	assert.Len(t, rec.OfType(core.EventReservationExpiring), 2)

	conflicts := s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p"})
	require.Len(t, conflicts.Items, 1)
	assert.Equal(t, core.ResolutionExpired, conflicts.Items[0].ResolutionReason)
	assert.Equal(t, resolvedBySweeper, conflicts.Items[0].ResolvedBy)
}

func TestRenewalResetsExpiryWarning(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "a", core.ModeExclusive, 40, "a.go").Reservation

	clock.Advance(15 * time.Second)
	require.Equal(t, 1, s.Sweep(ctx).Warned)
	require.Equal(t, 0, s.Sweep(ctx).Warned)

	_, err := s.RenewReservation(ctx, r.ID, "a", 10)
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	assert.Equal(t, 1, s.Sweep(ctx).Warned)
	assert.Len(t, rec.OfType(core.EventReservationExpiring), 2)
}

func TestSweepReapsResolvedConflictsAfterRetention(t *testing.T) {
	s, clock, _ := newTestStore(t, WithConfig(Config{ConflictRetention: time.Hour, MaxRenewals: DefaultMaxRenewals}))
	ctx := context.Background()

	holder := create(t, s, "p", "a", core.ModeExclusive, 300, "x.go").Reservation
	denied := create(t, s, "p", "b", core.ModeExclusive, 300, "x.go")
	require.Len(t, denied.Conflicts, 1)
	require.False(t, create(t, s, "p", "c", core.ModeExclusive, 300, "x.go").Granted)

	_, err := s.ResolveConflict(ctx, denied.Conflicts[0].ConflictID, "operator", "")
	require.NoError(t, err)

	// The holder expires on this pass, which resolves the remaining conflict.
	clock.Advance(time.Hour)
	assert.Equal(t, SweepResult{Expired: 1}, s.Sweep(ctx))

	clock.Advance(time.Second)
	assert.Equal(t, SweepResult{Reaped: 1}, s.Sweep(ctx))
	assert.Nil(t, s.GetConflict(ctx, denied.Conflicts[0].ConflictID))
	assert.Nil(t, s.GetReservation(ctx, holder.ID))
	assert.Len(t, s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p"}).Items, 1)
}

func TestCleanupJobLifecycle(t *testing.T) {
	s, clock, rec := newTestStore(t, WithConfig(Config{CleanupInterval: 5 * time.Millisecond, MaxRenewals: DefaultMaxRenewals}))
	ctx := context.Background()

	create(t, s, "p", "a", core.ModeExclusive, 1, "a.go")
	clock.Advance(2 * time.Second)

	require.True(t, s.StartCleanupJob(ctx))
	assert.False(t, s.StartCleanupJob(ctx))
	assert.True(t, s.CleanupRunning())

	require.Eventually(t, func() bool {
		return len(rec.OfType(core.EventReservationExpired)) == 1
	}, time.Second, 5*time.Millisecond)

	s.StopCleanupJob()
	s.StopCleanupJob()
	assert.False(t, s.CleanupRunning())
	assert.True(t, s.StartCleanupJob(ctx), "restart after stop")
	s.StopCleanupJob()
}

func TestCleanupJobRestartsAfterContextCancel(t *testing.T) {
	s, clock, rec := newTestStore(t, WithConfig(Config{CleanupInterval: 5 * time.Millisecond, MaxRenewals: DefaultMaxRenewals}))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.StartCleanupJob(ctx))
	cancel()
	require.Eventually(t, func() bool { return !s.CleanupRunning() }, time.Second, 5*time.Millisecond)

	create(t, s, "p", "a", core.ModeExclusive, 1, "a.go")
	clock.Advance(2 * time.Second)

	require.True(t, s.StartCleanupJob(context.Background()))
	t.Cleanup(s.StopCleanupJob)
	require.Eventually(t, func() bool {
		return len(rec.OfType(core.EventReservationExpired)) == 1
	}, time.Second, 5*time.Millisecond)
}
