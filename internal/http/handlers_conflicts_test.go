package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/core"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/pagination"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

func TestConflictEndpoints(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/reservations", "holder", createBody("p", core.ModeExclusive, "lib/**")).StatusCode)
	denied := decode[reservation.CreateResult](t,
		env.do(t, http.MethodPost, "/api/reservations", "asker", createBody("p", core.ModeShared, "lib/x.go")))
	require.Len(t, denied.Conflicts, 1)
	id := denied.Conflicts[0].ConflictID

	resp := env.do(t, http.MethodGet, "/api/conflicts?project=p&status=open", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[pagination.Page[core.ConflictRecord]](t, resp)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "asker", page.Items[0].RequesterID)
	assert.Equal(t, "holder", page.Items[0].ExistingAgentID)

	resp = env.do(t, http.MethodGet, "/api/conflicts?project=p&status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/conflicts/"+id, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.ConflictOpen, decode[core.ConflictRecord](t, resp).Status)

	resp = env.do(t, http.MethodPost, "/api/conflicts/"+id+"/resolve", "", map[string]string{"resolved_by": "ops", "reason": "talked it out"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[core.ConflictRecord](t, resp)
	assert.Equal(t, core.ConflictResolved, rec.Status)
	assert.Equal(t, "ops", rec.ResolvedBy)
	assert.Equal(t, "talked it out", rec.ResolutionReason)
	assert.Len(t, env.events.OfType(core.EventConflictResolved), 1)

	resp = env.do(t, http.MethodPost, "/api/conflicts/missing/resolve", "", map[string]string{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	page = decode[pagination.Page[core.ConflictRecord]](t, env.do(t, http.MethodGet, "/api/conflicts?project=p&status=open", "", nil))
	assert.Empty(t, page.Items)
}
