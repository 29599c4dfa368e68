package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joyshmitz/flywheel-gateway-sub010/internal/auth"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/events"
	"github.com/joyshmitz/flywheel-gateway-sub010/internal/reservation"
)

// testEnv serves the API over httptest. Requests come from localhost, so the
// auth middleware lets them through and reads X-Agent-ID.
type testEnv struct {
	srv    *httptest.Server
	store  *reservation.Store
	events *events.Recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rec := &events.Recorder{}
	store := reservation.NewStore(reservation.WithSink(rec))
	svc := NewService(store, nil)
	srv := httptest.NewServer(NewRouter(svc, nil, auth.Middleware(nil)))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, events: rec}
}

func (e *testEnv) do(t *testing.T, method, path, agentID string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if agentID != "" {
		req.Header.Set(auth.AgentHeader, agentID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
