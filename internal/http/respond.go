package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/logging"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
)

const correlationHeader = "X-Correlation-ID"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeStoreError maps a store error to its HTTP status.
func (s *Service) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var e *core.Error
	if !errors.As(err, &e) {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, statusFor(e.Code), string(e.Code), e.Message)
}

func statusFor(code core.ErrorCode) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeNotHolder:
		return http.StatusForbidden
	case core.CodeRenewalLimitReached, core.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "invalid JSON body")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
// An empty body leaves v at its zero value.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "invalid JSON body")
		return false
	}
	return true
}

func pageParams(r *http.Request) (pagination.Params, bool) {
	q := r.URL.Query()
	p := pagination.Params{
		StartingAfter: q.Get("starting_after"),
		EndingBefore:  q.Get("ending_before"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, false
		}
		p.Limit = n
	}
	return p, true
}

// withCorrelation reads or assigns X-Correlation-ID, echoes it and stores it
// on the request context for log enrichment.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = logging.NewCorrelationID()
		}
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}
