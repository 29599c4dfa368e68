// Package logging builds the process slog logger and carries the request
// correlation id through context.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// UnknownCorrelationID is logged when a context carries no correlation id.
const UnknownCorrelationID = "unknown"

const correlationKey = "correlation_id"

// Options selects the handler. Zero values log INFO as JSON to stderr.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New returns a logger whose records carry the context's correlation id.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(opts.Format, FormatText) {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(NewCorrelationHandler(h))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type correlationCtxKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// CorrelationID returns the id stored in ctx, or UnknownCorrelationID.
func CorrelationID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(correlationCtxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return UnknownCorrelationID
}

// NewCorrelationID generates a fresh id for requests that arrive without one.
func NewCorrelationID() string {
	return uuid.NewString()
}

// CorrelationHandler adds correlation_id to every record.
type CorrelationHandler struct {
	next slog.Handler
}

func NewCorrelationHandler(next slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{next: next}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String(correlationKey, CorrelationID(ctx)))
	return h.next.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{next: h.next.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{next: h.next.WithGroup(name)}
}
