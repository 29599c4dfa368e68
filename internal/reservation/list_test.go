package reservation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
)

func TestListReservationsForwardPagesCoverAllOnce(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		r := create(t, s, "p", fmt.Sprintf("agent-%d", i), core.ModeShared, 300, "src/**").Reservation
		want = append([]string{r.ID}, want...)
		clock.Advance(time.Second)
	}

	var got []string
	cursor := ""
	for pages := 0; ; pages++ {
		require.Less(t, pages, 5)
		page := s.ListReservations(ctx, ListReservationsRequest{
			ProjectID: "p",
			Params:    pagination.Params{Limit: 2, StartingAfter: cursor},
		})
		for _, r := range page.Items {
			got = append(got, r.ID)
		}
		if !page.HasMore {
			assert.Empty(t, page.NextCursor)
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, want, got)
}

func TestListReservationsFilters(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	create(t, s, "p", "alice", core.ModeShared, 300, "docs/**")
	clock.Advance(time.Second)
	create(t, s, "p", "bob", core.ModeShared, 300, "src/*.go")
	create(t, s, "other", "alice", core.ModeShared, 300, "docs/**")
	create(t, s, "p", "carol", core.ModeShared, 10, "docs/a.md")
	clock.Advance(10 * time.Second)

	page := s.ListReservations(ctx, ListReservationsRequest{ProjectID: "p"})
	require.Len(t, page.Items, 2, "expired and other-project reservations are excluded")
	assert.Equal(t, "bob", page.Items[0].AgentID)

	page = s.ListReservations(ctx, ListReservationsRequest{ProjectID: "p", AgentID: "alice"})
	require.Len(t, page.Items, 1)

	page = s.ListReservations(ctx, ListReservationsRequest{ProjectID: "p", FilePath: "src/main.go"})
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].AgentID)
}

func TestListConflictsFiltersAndOrder(t *testing.T) {
	s, clock, _ := newTestStore(t)
	ctx := context.Background()

	create(t, s, "p", "holder", core.ModeExclusive, 300, "x/**")
	clock.Advance(time.Second)
	first := create(t, s, "p", "alice", core.ModeShared, 300, "x/a")
	clock.Advance(time.Second)
	second := create(t, s, "p", "bob", core.ModeExclusive, 300, "x/b")
	require.Len(t, first.Conflicts, 1)
	require.Len(t, second.Conflicts, 1)

	_, err := s.ResolveConflict(ctx, first.Conflicts[0].ConflictID, "ops", "handled")
	require.NoError(t, err)

	page := s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p"})
	require.Len(t, page.Items, 2)
	assert.Equal(t, second.Conflicts[0].ConflictID, page.Items[0].ConflictID)

	page = s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p", Status: core.ConflictOpen})
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].RequesterID)
	assert.Equal(t, core.ModeExclusive, page.Items[0].RequestedMode)

	page = s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "p", RequesterID: "alice"})
	require.Len(t, page.Items, 1)
	assert.Equal(t, core.ConflictResolved, page.Items[0].Status)

	assert.Empty(t, s.ListConflicts(ctx, ListConflictsRequest{ProjectID: "elsewhere"}).Items)
}

func TestResolveConflict(t *testing.T) {
	s, clock, rec := newTestStore(t)
	ctx := context.Background()

	create(t, s, "p", "holder", core.ModeExclusive, 300, "a.go")
	denied := create(t, s, "p", "other", core.ModeExclusive, 300, "a.go")
	id := denied.Conflicts[0].ConflictID

	_, err := s.ResolveConflict(ctx, "missing", "ops", "")
	require.ErrorIs(t, err, core.ErrNotFound)

	got, err := s.ResolveConflict(ctx, id, "ops", "")
	require.NoError(t, err)
	assert.Equal(t, core.ConflictResolved, got.Status)
	assert.Equal(t, "manual", got.ResolutionReason)
	assert.Equal(t, "ops", got.ResolvedBy)
	resolvedAt := *got.ResolvedAt

	clock.Advance(time.Minute)
	again, err := s.ResolveConflict(ctx, id, "someone-else", "late")
	require.NoError(t, err)
	assert.Equal(t, "ops", again.ResolvedBy)
	assert.Equal(t, resolvedAt, *again.ResolvedAt)
	assert.Len(t, rec.OfType(core.EventConflictResolved), 1)
}

func TestGetReservationStats(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	create(t, s, "p", "alice", core.ModeExclusive, 20, "a.go")
	create(t, s, "p", "alice", core.ModeShared, 300, "docs/**")
	create(t, s, "p", "bob", core.ModeShared, 300, "docs/x.md")
	create(t, s, "q", "carol", core.ModeExclusive, 300, "**")
	create(t, s, "p", "dave", core.ModeExclusive, 300, "a.go")

	st := s.GetReservationStats(ctx, "p")
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 1, st.Exclusive)
	assert.Equal(t, 2, st.Shared)
	assert.Equal(t, 1, st.ExpiringSoon)
	assert.Equal(t, map[string]int{"alice": 2, "bob": 1}, st.ByAgent)
	assert.Equal(t, 1, st.OpenConflicts)
	assert.Zero(t, st.ResolvedConflicts)

	all := s.GetReservationStats(ctx, "")
	assert.Equal(t, 4, all.Active)
	assert.Equal(t, 2, all.Exclusive)
}
