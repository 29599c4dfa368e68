package reservation

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
)

// ListReservationsRequest filters and pages active reservations.
type ListReservationsRequest struct {
	ProjectID string
	AgentID   string
	FilePath  string
	pagination.Params
}

// ListConflictsRequest filters and pages conflict records.
type ListConflictsRequest struct {
	ProjectID   string
	Status      core.ConflictStatus
	RequesterID string
	pagination.Params
}

// ListReservations pages the active reservations of a project, newest first.
// FilePath keeps only reservations with a pattern matching that path.
func (s *Store) ListReservations(ctx context.Context, req ListReservationsRequest) pagination.Page[core.Reservation] {
	s.mu.RLock()
	now := s.now()
	var items []core.Reservation
	for _, r := range s.reservations {
		if r.ProjectID != req.ProjectID || !r.IsActive(now) {
			continue
		}
		if req.AgentID != "" && r.AgentID != req.AgentID {
			continue
		}
		if req.FilePath != "" && !s.matchesAny(ctx, r, req.FilePath) {
			continue
		}
		items = append(items, r.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(items, func(a, b core.Reservation) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return pagination.Paginate(items, reservationKey, req.Params, s.cfg.limits(), s.codec)
}

// ListConflicts pages the conflict records of a project, most recently
// detected first.
func (s *Store) ListConflicts(ctx context.Context, req ListConflictsRequest) pagination.Page[core.ConflictRecord] {
	s.mu.RLock()
	var items []core.ConflictRecord
	for _, c := range s.conflicts {
		if c.ProjectID != req.ProjectID {
			continue
		}
		if req.Status != "" && c.Status != req.Status {
			continue
		}
		if req.RequesterID != "" && c.RequesterID != req.RequesterID {
			continue
		}
		items = append(items, c.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(items, func(a, b core.ConflictRecord) int {
		return newestFirst(a.DetectedAt, a.ConflictID, b.DetectedAt, b.ConflictID)
	})
	return pagination.Paginate(items, conflictKey, req.Params, s.cfg.limits(), s.codec)
}

func reservationKey(r core.Reservation) pagination.Key {
	return pagination.Key{ID: r.ID, SortValue: r.CreatedAt}
}

func conflictKey(c core.ConflictRecord) pagination.Key {
	return pagination.Key{ID: c.ConflictID, SortValue: c.DetectedAt}
}

func newestFirst(at time.Time, aID string, bt time.Time, bID string) int {
	if c := bt.Compare(at); c != 0 {
		return c
	}
	return cmp.Compare(bID, aID)
}

// sortedActiveLocked returns the active reservations of a project, oldest first.
func (s *Store) sortedActiveLocked(projectID string, now time.Time) []*core.Reservation {
	var out []*core.Reservation
	for _, r := range s.reservations {
		if r.ProjectID == projectID && r.IsActive(now) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *core.Reservation) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
