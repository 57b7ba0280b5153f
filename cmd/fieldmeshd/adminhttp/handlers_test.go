package adminhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmesh/core/engine"
	"github.com/fieldmesh/core/engine/storage/memstore"
	"github.com/fieldmesh/core/engine/telemetry/logging"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := memstore.Open("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	events, err := memstore.OpenEventSink("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	eng, err := engine.New(engine.Defaults(), store, events, logging.New(nil))
	require.NoError(t, err)

	return NewRouter(Options{Engine: eng, Events: NewEventsReader(events)})
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthzAndSnapshot(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/snapshot", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeviceLifecycle(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/devices", map[string]any{
		"name": "pump-1",
		"conf": map[string]any{
			"kind": "log",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	w = doJSON(t, r, http.MethodPut, "/devices/"+created["id"]+"/start", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPut, "/devices/"+created["id"]+"/stop", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/devices/"+created["id"], nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateDeviceRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/devices", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartUnknownDeviceReturnsNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/devices/00000000-0000-0000-0000-000000000001/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndpointRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/apps", map[string]any{
		"name": "logger-app",
		"conf": map[string]any{
			"kind": "log",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, r, http.MethodPost, "/apps/"+created["id"]+"/sink", map[string]any{
		"conf": map[string]any{
			"kind": "log",
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var ep map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ep))
	require.NotEmpty(t, ep["id"])

	w = doJSON(t, r, http.MethodDelete, "/apps/"+created["id"]+"/sink/"+ep["id"], nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRuleCreateIsNotImplemented(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/rules", map[string]any{"name": "whatever"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
