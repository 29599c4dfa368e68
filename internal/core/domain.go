package core

// EventType names a lifecycle notification sent to the event sink.
type EventType string

// Reservation lifecycle events, published on ChannelReservations.
const (
	EventReservationAcquired EventType = "reservation.acquired"
	EventReservationReleased EventType = "reservation.released"
	EventReservationRenewed  EventType = "reservation.renewed"
	EventReservationExpired  EventType = "reservation.expired"
	EventReservationExpiring EventType = "reservation.expiring"
)

// Conflict lifecycle events, published on ChannelConflicts.
const (
	EventConflictDetected EventType = "conflict.detected"
	EventConflictResolved EventType = "conflict.resolved"
)

// Channel types understood by the event sink.
const (
	ChannelReservations = "workspace:reservations"
	ChannelConflicts    = "workspace:conflicts"
)

// Channel addresses a project-scoped stream on the event sink.
type Channel struct {
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
}

// ReservationsChannel returns the reservation channel for a project.
func ReservationsChannel(projectID string) Channel {
	return Channel{Type: ChannelReservations, ProjectID: projectID}
}

// ConflictsChannel returns the conflict channel for a project.
func ConflictsChannel(projectID string) Channel {
	return Channel{Type: ChannelConflicts, ProjectID: projectID}
}
