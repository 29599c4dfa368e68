// Package httpapi exposes the reservation store over a small JSON API.
package httpapi

import (
	"context"
	"log/slog"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

// ReservationStore is the subset of reservation.Store the handlers need.
type ReservationStore interface {
	CreateReservation(ctx context.Context, req reservation.CreateRequest) (reservation.CreateResult, error)
	CheckReservation(ctx context.Context, projectID, agentID, filePath string) (reservation.CheckResult, error)
	ReleaseReservation(ctx context.Context, reservationID, agentID string) (reservation.ReleaseResult, error)
	RenewReservation(ctx context.Context, reservationID, agentID string, additionalTTLSeconds int) (reservation.RenewResult, error)
	GetReservation(ctx context.Context, id string) *core.Reservation
	ListReservations(ctx context.Context, req reservation.ListReservationsRequest) pagination.Page[core.Reservation]
	ListConflicts(ctx context.Context, req reservation.ListConflictsRequest) pagination.Page[core.ConflictRecord]
	GetConflict(ctx context.Context, conflictID string) *core.ConflictRecord
	ResolveConflict(ctx context.Context, conflictID, resolvedBy, reason string) (core.ConflictRecord, error)
	GetReservationStats(ctx context.Context, projectID string) reservation.Stats
}

type Service struct {
	store  ReservationStore
	logger *slog.Logger
}

func NewService(store ReservationStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}
