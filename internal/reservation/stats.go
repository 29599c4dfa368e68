package reservation

import (
	"context"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

// Stats summarizes reservations and conflicts.
type Stats struct {
	ProjectID         string         `json:"project_id,omitempty"`
	Active            int            `json:"active"`
	Exclusive         int            `json:"exclusive"`
	Shared            int            `json:"shared"`
	ExpiringSoon      int            `json:"expiring_soon"`
	ByAgent           map[string]int `json:"by_agent"`
	OpenConflicts     int            `json:"open_conflicts"`
	ResolvedConflicts int            `json:"resolved_conflicts"`
}

// GetReservationStats counts active reservations and conflict records for a
// project. An empty projectID counts every project.
func (s *Store) GetReservationStats(ctx context.Context, projectID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	soon := now.Add(s.cfg.ExpirationWarning)
	st := Stats{ProjectID: projectID, ByAgent: make(map[string]int)}
	for _, r := range s.reservations {
		if projectID != "" && r.ProjectID != projectID {
			continue
		}
		if !r.IsActive(now) {
			continue
		}
		st.Active++
		if r.Exclusive() {
			st.Exclusive++
		} else {
			st.Shared++
		}
		if !r.ExpiresAt.After(soon) {
			st.ExpiringSoon++
		}
		st.ByAgent[r.AgentID]++
	}
	for _, c := range s.conflicts {
		if projectID != "" && c.ProjectID != projectID {
			continue
		}
		if c.Status == core.ConflictResolved {
			st.ResolvedConflicts++
		} else {
			st.OpenConflicts++
		}
	}
	return st
}
