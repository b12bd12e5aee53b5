package noteserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/notecap/internal/notes"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	if opts.Store == nil {
		store, err := notes.OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		opts.Store = store
	}
	router, err := NewRouter(opts)
	require.NoError(t, err)
	return router
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateListDeleteRoundTrip(t *testing.T) {
	h := newTestRouter(t, Options{})

	rec := doJSON(t, h, http.MethodPost, "/api/todos", notes.CreateRequest{DeviceID: "dev-1", Text: " buy milk ", Source: notes.SourceVoice}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created notes.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "buy milk", created.Text)
	require.Equal(t, notes.SourceVoice, created.Source)

	rec = doJSON(t, h, http.MethodGet, "/api/todos?deviceId=dev-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Items []notes.Note `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Items, 1)
	require.Equal(t, created.ID, listed.Items[0].ID)

	rec = doJSON(t, h, http.MethodDelete, "/api/todos/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/todos/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRequiresDeviceID(t *testing.T) {
	h := newTestRouter(t, Options{})
	rec := doJSON(t, h, http.MethodGet, "/api/todos", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "deviceId is required")
}

func TestListEmptyReturnsEmptyArray(t *testing.T) {
	h := newTestRouter(t, Options{})
	rec := doJSON(t, h, http.MethodGet, "/api/todos?deviceId=nobody", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestCreateRejectsInvalidNotes(t *testing.T) {
	h := newTestRouter(t, Options{})

	rec := doJSON(t, h, http.MethodPost, "/api/todos", notes.CreateRequest{DeviceID: "dev-1", Text: "   ", Source: notes.SourceText}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/todos", notes.CreateRequest{DeviceID: "dev-1", Text: "x", Source: "fax"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/todos", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestTokenIsEnforcedOnTodosOnly(t *testing.T) {
	h := newTestRouter(t, Options{Token: "s3cret"})

	rec := doJSON(t, h, http.MethodGet, "/api/todos?deviceId=dev-1", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/todos?deviceId=dev-1", nil, http.Header{"Authorization": {"Bearer wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/todos?deviceId=dev-1", nil, http.Header{"Authorization": {"Bearer s3cret"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsPingFailure(t *testing.T) {
	h := newTestRouter(t, Options{Ping: func(context.Context) error { return errors.New("db locked") }})
	rec := doJSON(t, h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "db locked")
}

func TestMetricsRouteMountedWhenProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("notecap_up 1\n"))
	})
	h := newTestRouter(t, Options{Metrics: metrics})
	rec := doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "notecap_up")

	h = newTestRouter(t, Options{})
	rec = doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	h := newTestRouter(t, Options{Store: failingStore{}})
	rec := doJSON(t, h, http.MethodGet, "/api/todos?deviceId=dev-1", nil, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestNewRouterRequiresStore(t *testing.T) {
	_, err := NewRouter(Options{})
	require.Error(t, err)
}

type failingStore struct{}

func (failingStore) Create(context.Context, notes.CreateRequest) (notes.Note, error) {
	return notes.Note{}, errors.New("disk on fire")
}

func (failingStore) List(context.Context, string) ([]notes.Note, error) {
	return nil, errors.New("disk on fire")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("disk on fire") }
