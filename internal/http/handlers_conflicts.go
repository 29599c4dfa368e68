package httpapi

import (
	"net/http"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Reason     string `json:"reason"`
}

func (s *Service) listConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, ok := project(w, r, q.Get("project"))
	if !ok {
		return
	}
	status := core.ConflictStatus(q.Get("status"))
	switch status {
	case "", core.ConflictOpen, core.ConflictResolved:
	default:
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "status must be open or resolved")
		return
	}
	params, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "limit must be an integer")
		return
	}
	page := s.store.ListConflicts(r.Context(), reservation.ListConflictsRequest{
		ProjectID:   projectID,
		Status:      status,
		RequesterID: q.Get("agent"),
		Params:      params,
	})
	writeJSON(w, http.StatusOK, page)
}

func (s *Service) getConflict(w http.ResponseWriter, r *http.Request) {
	rec := s.store.GetConflict(r.Context(), r.PathValue("id"))
	if rec == nil || !visible(r, rec.ProjectID) {
		writeError(w, http.StatusNotFound, string(core.CodeNotFound), "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) resolveConflict(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if rec := s.store.GetConflict(r.Context(), id); rec != nil && !visible(r, rec.ProjectID) {
		writeError(w, http.StatusNotFound, string(core.CodeNotFound), "conflict not found")
		return
	}
	by := agent(r, req.ResolvedBy)
	if by == "" {
		by = "operator"
	}
	rec, err := s.store.ResolveConflict(r.Context(), id, by, req.Reason)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
