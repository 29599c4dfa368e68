package httpapi

import "net/http"

// NewRouter wires the API. mw, when set, wraps every route including the
// websocket endpoint; correlation ids are handled outside it.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler {
		if mw != nil {
			return mw(h)
		}
		return h
	}
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, wrap(h))
	}

	route("POST /api/reservations", svc.createReservation)
	route("GET /api/reservations", svc.listReservations)
	route("GET /api/reservations/check", svc.checkReservation)
	route("GET /api/reservations/stats", svc.reservationStats)
	route("GET /api/reservations/{id}", svc.getReservation)
	route("DELETE /api/reservations/{id}", svc.releaseReservation)
	route("POST /api/reservations/{id}/renew", svc.renewReservation)

	route("GET /api/conflicts", svc.listConflicts)
	route("GET /api/conflicts/{id}", svc.getConflict)
	route("POST /api/conflicts/{id}/resolve", svc.resolveConflict)

	if wsHandler != nil {
		mux.Handle("GET /ws/projects/", wrap(wsHandler))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return withCorrelation(mux)
}
