package core

import (
	"slices"
	"time"
)

// Mode is the access intent of a reservation.
type Mode string

const (
	// ModeExclusive is write intent: it contends with every overlapping holder.
	ModeExclusive Mode = "exclusive"
	// ModeShared is read intent: it contends only with overlapping exclusive holders.
	ModeShared Mode = "shared"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeExclusive || m == ModeShared
}

// ReservationMetadata is free-form context shown in audit views.
type ReservationMetadata struct {
	Reason string `json:"reason,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

// Reservation is a time-boxed lease held by one agent over a set of glob patterns.
type Reservation struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"project_id"`
	AgentID    string              `json:"agent_id"`
	Patterns   []string            `json:"patterns"`
	Mode       Mode                `json:"mode"`
	TTLSeconds int                 `json:"ttl_seconds"`
	CreatedAt  time.Time           `json:"created_at"`
	ExpiresAt  time.Time           `json:"expires_at"`
	RenewCount int                 `json:"renew_count"`
	Metadata   ReservationMetadata `json:"metadata"`
}

// IsActive reports whether the lease is still held at now.
func (r Reservation) IsActive(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// Exclusive reports whether the reservation was granted in exclusive mode.
func (r Reservation) Exclusive() bool {
	return r.Mode == ModeExclusive
}

// Clone returns a copy that shares no mutable state with r.
func (r Reservation) Clone() Reservation {
	r.Patterns = slices.Clone(r.Patterns)
	return r
}

// ConflictStatus is the lifecycle state of a ConflictRecord.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution reasons recorded when a conflict closes without operator input.
const (
	ResolutionReleased = "reservation_released"
	ResolutionExpired  = "reservation_expired"
)

// ConflictRecord is the audit entry written for every conflict that denied a request.
type ConflictRecord struct {
	ConflictID            string         `json:"conflict_id"`
	ProjectID             string         `json:"project_id"`
	Status                ConflictStatus `json:"status"`
	DetectedAt            time.Time      `json:"detected_at"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty"`
	RequesterID           string         `json:"requester_id"`
	RequestedPatterns     []string       `json:"requested_patterns"`
	RequestedMode         Mode           `json:"requested_mode"`
	ExistingReservationID string         `json:"existing_reservation_id"`
	ExistingAgentID       string         `json:"existing_agent_id"`
	OverlappingPattern    string         `json:"overlapping_pattern"`
	ResolutionReason      string         `json:"resolution_reason,omitempty"`
	ResolvedBy            string         `json:"resolved_by,omitempty"`
}

// Resolve closes an open record. It reports false if the record was already resolved.
func (c *ConflictRecord) Resolve(at time.Time, by, reason string) bool {
	if c.Status == ConflictResolved {
		return false
	}
	c.Status = ConflictResolved
	c.ResolvedAt = &at
	c.ResolvedBy = by
	c.ResolutionReason = reason
	return true
}

// Clone returns a copy that shares no mutable state with c.
func (c ConflictRecord) Clone() ConflictRecord {
	c.RequestedPatterns = slices.Clone(c.RequestedPatterns)
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		c.ResolvedAt = &at
	}
	return c
}
