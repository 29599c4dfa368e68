package httpapi

import (
	"net/http"
	"strings"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

type createReservationRequest struct {
	ProjectID  string    `json:"project_id"`
	AgentID    string    `json:"agent_id"`
	Patterns   []string  `json:"patterns"`
	Mode       core.Mode `json:"mode"`
	TTLSeconds int       `json:"ttl_seconds"`
	Reason     string    `json:"reason"`
	TaskID     string    `json:"task_id"`
}

type renewRequest struct {
	AgentID              string `json:"agent_id"`
	AdditionalTTLSeconds int    `json:"additional_ttl_seconds"`
}

// project resolves the project a request targets, writing 400 or 403 when
// it cannot.
func project(w http.ResponseWriter, r *http.Request, requested string) (string, bool) {
	info, _ := auth.FromContext(r.Context())
	p, ok := info.ProjectFor(requested)
	if ok {
		return p, true
	}
	if strings.TrimSpace(requested) == "" {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "project is required")
	} else {
		writeError(w, http.StatusForbidden, "forbidden", "project not permitted for this key")
	}
	return "", false
}

func agent(r *http.Request, requested string) string {
	info, _ := auth.FromContext(r.Context())
	return info.AgentFor(requested)
}

// visible reports whether the caller may see records of projectID.
func visible(r *http.Request, projectID string) bool {
	info, _ := auth.FromContext(r.Context())
	return info.Mode != auth.ModeAPIKey || info.Project == projectID
}

func (s *Service) createReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	projectID, ok := project(w, r, req.ProjectID)
	if !ok {
		return
	}
	agentID := agent(r, req.AgentID)
	if agentID == "" {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "agent_id is required")
		return
	}

	res, err := s.store.CreateReservation(r.Context(), reservation.CreateRequest{
		ProjectID:  projectID,
		AgentID:    agentID,
		Patterns:   req.Patterns,
		Mode:       req.Mode,
		TTLSeconds: req.TTLSeconds,
		Reason:     req.Reason,
		TaskID:     req.TaskID,
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if !res.Granted {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Service) listReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, ok := project(w, r, q.Get("project"))
	if !ok {
		return
	}
	params, ok := pageParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, string(core.CodeValidation), "limit must be an integer")
		return
	}
	page := s.store.ListReservations(r.Context(), reservation.ListReservationsRequest{
		ProjectID: projectID,
		AgentID:   q.Get("agent"),
		FilePath:  q.Get("path"),
		Params:    params,
	})
	writeJSON(w, http.StatusOK, page)
}

func (s *Service) checkReservation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID, ok := project(w, r, q.Get("project"))
	if !ok {
		return
	}
	res, err := s.store.CheckReservation(r.Context(), projectID, agent(r, q.Get("agent")), q.Get("path"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) reservationStats(w http.ResponseWriter, r *http.Request) {
	info, _ := auth.FromContext(r.Context())
	projectID := strings.TrimSpace(r.URL.Query().Get("project"))
	if info.Mode == auth.ModeAPIKey {
		var ok bool
		if projectID, ok = project(w, r, projectID); !ok {
			return
		}
	}
	writeJSON(w, http.StatusOK, s.store.GetReservationStats(r.Context(), projectID))
}

func (s *Service) getReservation(w http.ResponseWriter, r *http.Request) {
	res := s.store.GetReservation(r.Context(), r.PathValue("id"))
	if res == nil || !visible(r, res.ProjectID) {
		writeError(w, http.StatusNotFound, string(core.CodeNotFound), "reservation not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) releaseReservation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.reservationVisible(w, r, id) {
		return
	}
	res, err := s.store.ReleaseReservation(r.Context(), id, agent(r, r.URL.Query().Get("agent_id")))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) renewReservation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req renewRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if !s.reservationVisible(w, r, id) {
		return
	}
	res, err := s.store.RenewReservation(r.Context(), id, agent(r, req.AgentID), req.AdditionalTTLSeconds)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// reservationVisible hides other projects' reservations from key holders.
// Unknown ids fall through so the store reports them.
func (s *Service) reservationVisible(w http.ResponseWriter, r *http.Request, id string) bool {
	if res := s.store.GetReservation(r.Context(), id); res != nil && !visible(r, res.ProjectID) {
		writeError(w, http.StatusNotFound, string(core.CodeNotFound), "reservation not found")
		return false
	}
	return true
}
