package reservation

import (
	"slices"
	"time"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
)

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func iso(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

func reservationPayload(r *core.Reservation) map[string]any {
	p := map[string]any{
		"reservation_id": r.ID,
		"project_id":     r.ProjectID,
		"agent_id":       r.AgentID,
		"patterns":       slices.Clone(r.Patterns),
		"mode":           string(r.Mode),
		"ttl_seconds":    r.TTLSeconds,
		"created_at":     iso(r.CreatedAt),
		"expires_at":     iso(r.ExpiresAt),
		"renew_count":    r.RenewCount,
	}
	if r.Metadata.Reason != "" {
		p["reason"] = r.Metadata.Reason
	}
	if r.Metadata.TaskID != "" {
		p["task_id"] = r.Metadata.TaskID
	}
	return p
}

func expiringPayload(r *core.Reservation, now time.Time) map[string]any {
	p := reservationPayload(r)
	p["expires_in_ms"] = max(r.ExpiresAt.Sub(now), 0).Milliseconds()
	return p
}

func conflictPayload(c *core.ConflictRecord) map[string]any {
	p := map[string]any{
		"conflict_id":             c.ConflictID,
		"project_id":              c.ProjectID,
		"status":                  string(c.Status),
		"detected_at":             iso(c.DetectedAt),
		"requester_id":            c.RequesterID,
		"requested_patterns":      slices.Clone(c.RequestedPatterns),
		"requested_mode":          string(c.RequestedMode),
		"existing_reservation_id": c.ExistingReservationID,
		"existing_agent_id":       c.ExistingAgentID,
		"overlapping_pattern":     c.OverlappingPattern,
	}
	if c.ResolvedAt != nil {
		p["resolved_at"] = iso(*c.ResolvedAt)
		p["resolved_by"] = c.ResolvedBy
		p["resolution_reason"] = c.ResolutionReason
	}
	return p
}
