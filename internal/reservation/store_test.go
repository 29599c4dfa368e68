package reservation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

func create(t *testing.T, s *Store, project, agent string, mode core.Mode, ttl int, patterns ...string) CreateResult {
	t.Helper()
	res, err := s.CreateReservation(context.Background(), CreateRequest{
		ProjectID:  project,
		AgentID:    agent,
		Patterns:   patterns,
		Mode:       mode,
		TTLSeconds: ttl,
	})
	require.NoError(t, err)
	return res
}

func TestCreateClampsTTL(t *testing.T) {
	s, _, _ := newTestStore(t)
	tests := []struct {
		ttl  int
		want int
	}{
		{10000, 3600},
		{-5, 300},
		{0, 300},
		{120, 120},
	}
	for i, tt := range tests {
		res := create(t, s, "p1", fmt.Sprintf("agent-%d", i), core.ModeShared, tt.ttl, "src/*.go")
		require.True(t, res.Granted)
		assert.Equal(t, tt.want, res.Reservation.TTLSeconds, "ttl %d", tt.ttl)
		assert.Equal(t, time.Duration(tt.want)*time.Second, res.Reservation.ExpiresAt.Sub(res.Reservation.CreatedAt))
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, rec := newTestStore(t)
	ctx := context.Background()

	for _, patterns := range [][]string{nil, {}, {"  ", ""}} {
		res, err := s.CreateReservation(ctx, CreateRequest{ProjectID: "p", AgentID: "a", Patterns: patterns})
		require.ErrorIs(t, err, core.ErrValidation)
		assert.False(t, res.Granted)
		assert.Nil(t, res.Reservation)
		assert.NotNil(t, res.Conflicts)
		assert.Empty(t, res.Conflicts)
		assert.Equal(t, core.CodeValidation, res.Error)
	}

	_, err := s.CreateReservation(ctx, CreateRequest{ProjectID: "p", AgentID: "a", Patterns: []string{"x"}, Mode: "write"})
	require.ErrorIs(t, err, core.ErrValidation)
	assert.Empty(t, rec.Events())
}

func TestCreateDefaultsModeAndNormalizesPatterns(t *testing.T) {
	s, _, _ := newTestStore(t)
	res := create(t, s, "p", "a", "", 0, " ./src//main.go ", "")
	require.True(t, res.Granted)
	assert.Equal(t, core.ModeExclusive, res.Reservation.Mode)
	assert.Equal(t, []string{"src/main.go"}, res.Reservation.Patterns)
}

func TestConflictRoundTrip(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()

	a := create(t, s, "p1", "agent-1", core.ModeExclusive, 300, "src/*.ts")
	require.True(t, a.Granted)
	require.Len(t, rec.OfType(core.EventReservationAcquired), 1)

	clock.Advance(time.Second)
	b := create(t, s, "p1", "agent-2", core.ModeExclusive, 300, "src/routes.ts")
	require.False(t, b.Granted)
	assert.Nil(t, b.Reservation)
	assert.Equal(t, core.CodeConflict, b.Error)
	require.Len(t, b.Conflicts, 1)
	assert.Equal(t, a.Reservation.ID, b.Conflicts[0].Existing.ID)
	assert.Equal(t, "src/*.ts", b.Conflicts[0].OverlappingPattern)
	assert.Len(t, rec.OfType(core.EventConflictDetected), 1)

	page := s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p1"})
	require.Len(t, page.Items, 1)
	assert.Equal(t, core.ConflictOpen, page.Items[0].Status)

	rel, err := s.ReleaseReservation(ctx, a.Reservation.ID, "agent-1")
	require.NoError(t, err)
	assert.True(t, rel.Released)
	assert.Len(t, rec.OfType(core.EventReservationReleased), 1)
	assert.Len(t, rec.OfType(core.EventConflictResolved), 1)

	page = s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p1"})
	require.Len(t, page.Items, 1)
	got := page.Items[0]
	assert.Equal(t, core.ConflictResolved, got.Status)
	assert.Equal(t, core.ResolutionReleased, got.ResolutionReason)
	require.NotNil(t, got.ResolvedAt)

	b = create(t, s, "p1", "agent-2", core.ModeExclusive, 300, "src/routes.ts")
	assert.True(t, b.Granted)
}

func TestSharedReadersThenExclusiveWriter(t *testing.T) {
	s, clock, _ := newTestStore(t)

	one := create(t, s, "p", "agent-1", core.ModeShared, 60, "docs/**")
	clock.Advance(time.Second)
	two := create(t, s, "p", "agent-2", core.ModeShared, 60, "docs/readme.md")
	require.True(t, one.Granted)
	require.True(t, two.Granted)

	clock.Advance(time.Second)
	three := create(t, s, "p", "agent-3", core.ModeExclusive, 60, "docs/readme.md")
	require.False(t, three.Granted)
	require.Len(t, three.Conflicts, 2)
	assert.Equal(t, one.Reservation.ID, three.Conflicts[0].Existing.ID)
	assert.Equal(t, two.Reservation.ID, three.Conflicts[1].Existing.ID)
}

func TestReservationsAreProjectScoped(t *testing.T) {
	s, _, _ := newTestStore(t)
	require.True(t, create(t, s, "p1", "a", core.ModeExclusive, 0, "**").Granted)
	assert.True(t, create(t, s, "p2", "b", core.ModeExclusive, 0, "**").Granted)
}

func TestConcurrentExclusiveCreatesGrantOne(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.CreateReservation(ctx, CreateRequest{
				ProjectID: "p",
				AgentID:   fmt.Sprintf("agent-%d", i),
				Patterns:  []string{"pkg/**/*.go"},
				Mode:      core.ModeExclusive,
			})
			if err == nil && res.Granted {
				granted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestCheckReservation(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	ex := create(t, s, "p", "writer", core.ModeExclusive, 300, "src/**")
	sh := create(t, s, "p", "reader", core.ModeShared, 300, "docs/*.md")

	t.Run("holder allowed", func(t *testing.T) {
		got, err := s.CheckReservation(ctx, "p", "writer", "src/a/b.go")
		require.NoError(t, err)
		assert.True(t, got.Allowed)
		assert.Equal(t, "writer", got.HeldBy)
		assert.Equal(t, ex.Reservation.ID, got.ReservationID)
	})
	t.Run("exclusive blocks others", func(t *testing.T) {
		got, err := s.CheckReservation(ctx, "p", "someone", "/src/a/b.go")
		require.NoError(t, err)
		assert.False(t, got.Allowed)
		assert.Equal(t, "writer", got.HeldBy)
		assert.Equal(t, core.ModeExclusive, got.Mode)
		require.NotNil(t, got.ExpiresAt)
		assert.Equal(t, ex.Reservation.ExpiresAt, *got.ExpiresAt)
	})
	t.Run("shared reported", func(t *testing.T) {
		got, err := s.CheckReservation(ctx, "p", "someone", "docs/x.md")
		require.NoError(t, err)
		assert.True(t, got.Allowed)
		assert.Equal(t, "reader", got.HeldBy)
		assert.Equal(t, core.ModeShared, got.Mode)
		assert.Equal(t, sh.Reservation.ID, got.ReservationID)
	})
	t.Run("unmatched", func(t *testing.T) {
		got, err := s.CheckReservation(ctx, "p", "someone", "README.md")
		require.NoError(t, err)
		assert.Equal(t, CheckResult{Allowed: true}, got)
	})
	t.Run("empty path", func(t *testing.T) {
		_, err := s.CheckReservation(ctx, "p", "someone", " ")
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestCheckReservationSelfAccessBeatsOtherExclusive(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	// Neither pattern matches the other as a literal, so both leases are
	// granted even though both match lib/a.go.
	older := create(t, s, "p", "first", core.ModeExclusive, 300, "*/a.go")
	require.True(t, older.Granted)
	clock.Advance(time.Second)
	require.True(t, create(t, s, "p", "second", core.ModeExclusive, 300, "lib/*.go").Granted)

	got, err := s.CheckReservation(ctx, "p", "second", "lib/a.go")
	require.NoError(t, err)
	assert.True(t, got.Allowed)
	assert.Equal(t, "second", got.HeldBy)

	got, err = s.CheckReservation(ctx, "p", "third", "lib/a.go")
	require.NoError(t, err)
	assert.False(t, got.Allowed)
	assert.Equal(t, older.Reservation.ID, got.ReservationID)
}

func TestReleaseErrors(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeExclusive, 60, "a.go").Reservation

	res, err := s.ReleaseReservation(ctx, "missing", "owner")
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, ReleaseResult{Error: core.CodeNotFound}, res)

	res, err = s.ReleaseReservation(ctx, r.ID, "intruder")
	require.ErrorIs(t, err, core.ErrNotHolder)
	assert.False(t, res.Released)
	assert.NotNil(t, s.GetReservation(ctx, r.ID))
}

func TestReleaseAfterLapseExpires(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeExclusive, 60, "a.go").Reservation

	clock.Advance(61 * time.Second)
	_, err := s.ReleaseReservation(ctx, r.ID, "owner")
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Len(t, rec.OfType(core.EventReservationExpired), 1)
	assert.Equal(t, 0, s.engine.Len("p"))
}

func TestRenewReservation(t *testing.T) {
	s, clock, rec := newTestStore(t, WithConfig(Config{MaxRenewals: 3}))
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeExclusive, 60, "a.go").Reservation

	prev := r.ExpiresAt
	for i := 1; i <= 3; i++ {
		clock.Advance(10 * time.Second)
		res, err := s.RenewReservation(ctx, r.ID, "owner", 0)
		require.NoError(t, err)
		require.True(t, res.Renewed)
		assert.Equal(t, prev.Add(60*time.Second), *res.NewExpiresAt)
		assert.Equal(t, i, res.Reservation.RenewCount)
		prev = *res.NewExpiresAt
	}

	res, err := s.RenewReservation(ctx, r.ID, "owner", 0)
	require.ErrorIs(t, err, core.ErrRenewalLimitReached)
	assert.Equal(t, core.CodeRenewalLimitReached, res.Error)
	assert.Equal(t, prev, s.GetReservation(ctx, r.ID).ExpiresAt)
	assert.Len(t, rec.OfType(core.EventReservationRenewed), 3)
}

func TestRenewClampsAndChecksHolder(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeShared, 60, "a.go").Reservation

	_, err := s.RenewReservation(ctx, r.ID, "other", 10)
	require.ErrorIs(t, err, core.ErrNotHolder)
	_, err = s.RenewReservation(ctx, "nope", "owner", 10)
	require.ErrorIs(t, err, core.ErrNotFound)

	res, err := s.RenewReservation(ctx, r.ID, "owner", 99999)
	require.NoError(t, err)
	assert.Equal(t, 3600, res.Reservation.TTLSeconds)
	assert.Equal(t, r.ExpiresAt.Add(time.Hour), *res.NewExpiresAt)
}

func TestRenewReindexesEngine(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeExclusive, 60, "a.go").Reservation

	clock.Advance(50 * time.Second)
	_, err := s.RenewReservation(ctx, r.ID, "owner", 120)
	require.NoError(t, err)

	// Past the original expiry the renewed lease must still block.
	clock.Advance(30 * time.Second)
	res := create(t, s, "p", "other", core.ModeExclusive, 60, "a.go")
	assert.False(t, res.Granted)
}

func TestGetReservationLazyExpiry(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()
	r := create(t, s, "p", "owner", core.ModeExclusive, 60, "a.go").Reservation

	got := s.GetReservation(ctx, r.ID)
	require.NotNil(t, got)
	got.Patterns[0] = "mutated"
	assert.Equal(t, "a.go", s.GetReservation(ctx, r.ID).Patterns[0])

	clock.Advance(60 * time.Second)
	assert.Nil(t, s.GetReservation(ctx, r.ID))
	assert.Nil(t, s.GetReservation(ctx, "unknown"))
}

func TestExpiredReservationDoesNotBlock(t *testing.T) {
	s, clock, _ := newTestStore(t)
	require.True(t, create(t, s, "p", "a", core.ModeExclusive, 60, "x/**").Granted)
	clock.Advance(2 * time.Minute)
	assert.True(t, create(t, s, "p", "b", core.ModeExclusive, 60, "x/y").Granted)
}
