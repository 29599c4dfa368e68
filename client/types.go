package client

import (
	"net/url"
	"strconv"
	"time"
)

const (
	ModeExclusive = "exclusive"
	ModeShared    = "shared"
)

type Reservation struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	AgentID    string    `json:"agent_id"`
	Patterns   []string  `json:"patterns"`
	Mode       string    `json:"mode"`
	TTLSeconds int       `json:"ttl_seconds"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	RenewCount int       `json:"renew_count"`
	Metadata   struct {
		Reason string `json:"reason,omitempty"`
		TaskID string `json:"task_id,omitempty"`
	} `json:"metadata"`
}

type CreateRequest struct {
	ProjectID  string   `json:"project_id"`
	AgentID    string   `json:"agent_id,omitempty"`
	Patterns   []string `json:"patterns"`
	Mode       string   `json:"mode,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
}

// Conflict pairs a requested pattern with the reservation it ran into.
type Conflict struct {
	ConflictID         string    `json:"conflict_id"`
	RequestedPattern   string    `json:"requested_pattern"`
	OverlappingPattern string    `json:"overlapping_pattern"`
	DetectedAt         time.Time `json:"detected_at"`
	Existing           struct {
		ID          string    `json:"id"`
		RequesterID string    `json:"requester_id"`
		Patterns    []string  `json:"patterns"`
		Exclusive   bool      `json:"exclusive"`
		ExpiresAt   time.Time `json:"expires_at"`
	} `json:"existing_reservation"`
}

type CreateResult struct {
	Reservation *Reservation `json:"reservation"`
	Conflicts   []Conflict   `json:"conflicts"`
	Granted     bool         `json:"granted"`
	Error       string       `json:"error,omitempty"`
}

type CheckResult struct {
	Allowed       bool       `json:"allowed"`
	HeldBy        string     `json:"held_by,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Mode          string     `json:"mode,omitempty"`
	ReservationID string     `json:"reservation_id,omitempty"`
}

type RenewResult struct {
	Renewed      bool         `json:"renewed"`
	NewExpiresAt *time.Time   `json:"new_expires_at,omitempty"`
	Reservation  *Reservation `json:"reservation,omitempty"`
}

type ConflictRecord struct {
	ConflictID            string     `json:"conflict_id"`
	ProjectID             string     `json:"project_id"`
	Status                string     `json:"status"`
	DetectedAt            time.Time  `json:"detected_at"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	RequesterID           string     `json:"requester_id"`
	RequestedPatterns     []string   `json:"requested_patterns"`
	RequestedMode         string     `json:"requested_mode"`
	ExistingReservationID string     `json:"existing_reservation_id"`
	ExistingAgentID       string     `json:"existing_agent_id"`
	OverlappingPattern    string     `json:"overlapping_pattern"`
	ResolutionReason      string     `json:"resolution_reason,omitempty"`
	ResolvedBy            string     `json:"resolved_by,omitempty"`
}

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

type Page[T any] struct {
	Items      []T    `json:"items"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
	PrevCursor string `json:"prev_cursor,omitempty"`
}

// ListFilter narrows List and Conflicts. FilePath applies to reservations,
// Status to conflicts.
type ListFilter struct {
	AgentID       string
	FilePath      string
	Status        string
	Limit         int
	StartingAfter string
	EndingBefore  string
}

func (f ListFilter) values(q url.Values) url.Values {
	if f.AgentID != "" {
		q.Set("agent", f.AgentID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.StartingAfter != "" {
		q.Set("starting_after", f.StartingAfter)
	}
	if f.EndingBefore != "" {
		q.Set("ending_before", f.EndingBefore)
	}
	return q
}
