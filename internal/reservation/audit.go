package reservation

import (
	"context"
	"slices"
	"strings"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/conflict"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

const (
	resolvedBySweeper = "system:sweeper"
	resolutionManual  = "manual"
)

func (s *Store) recordConflictLocked(requesterID string, patterns []string, mode core.Mode, c conflict.Conflict) *core.ConflictRecord {
	rec := &core.ConflictRecord{
		ConflictID:            c.ConflictID,
		ProjectID:             c.ProjectID,
		Status:                core.ConflictOpen,
		DetectedAt:            c.DetectedAt,
		RequesterID:           requesterID,
		RequestedPatterns:     slices.Clone(patterns),
		RequestedMode:         mode,
		ExistingReservationID: c.Existing.ID,
		ExistingAgentID:       c.Existing.RequesterID,
		OverlappingPattern:    c.OverlappingPattern,
	}
	s.conflicts[rec.ConflictID] = rec
	return rec
}

// resolveBlockedLocked closes every open record blocked by r.
func (s *Store) resolveBlockedLocked(r *core.Reservation, by, reason string) int {
	now := s.now()
	n := 0
	for _, rec := range s.conflicts {
		if rec.ExistingReservationID != r.ID {
			continue
		}
		if rec.Resolve(now, by, reason) {
			n++
			s.sink.Emit(core.ConflictsChannel(rec.ProjectID), core.EventConflictResolved, conflictPayload(rec))
		}
	}
	return n
}

// ResolveConflict closes a conflict record on behalf of an operator.
// Resolving a record that is already resolved returns it unchanged.
func (s *Store) ResolveConflict(ctx context.Context, conflictID, resolvedBy, reason string) (core.ConflictRecord, error) {
	if strings.TrimSpace(reason) == "" {
		reason = resolutionManual
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conflicts[conflictID]
	if !ok {
		return core.ConflictRecord{}, core.ErrNotFound.WithMessagef("conflict %s not found", conflictID)
	}
	if rec.Resolve(s.now(), resolvedBy, reason) {
		s.sink.Emit(core.ConflictsChannel(rec.ProjectID), core.EventConflictResolved, conflictPayload(rec))
		s.logger.InfoContext(ctx, "conflict resolved",
			"conflict_id", rec.ConflictID,
			"project_id", rec.ProjectID,
			"resolved_by", resolvedBy,
			"reason", reason)
	}
	return rec.Clone(), nil
}

// GetConflict returns the record for conflictID, or nil when unknown.
func (s *Store) GetConflict(ctx context.Context, conflictID string) *core.ConflictRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.conflicts[conflictID]
	if !ok {
		return nil
	}
	out := rec.Clone()
	return &out
}
