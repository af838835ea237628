package forward

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/agentchat/pkg/mockpeer"
)

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestForwardRelaysToBackend(t *testing.T) {
	peer := mockpeer.New(mockpeer.Config{Agent: "Billing Agent"})
	backend := httptest.NewServer(peer.Handler())
	defer backend.Close()
	defer peer.Close()

	h := NewHandler(Config{BackendURL: backend.URL + "/chat"})
	rec := post(t, h, `{"messages":[{"role":"user","content":"refund please"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "You said: refund please", out["response"])
	require.Equal(t, "Billing Agent", out["agent"])
}

func TestForwardPassesBodyAndStatusThrough(t *testing.T) {
	var got, contentType string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"detail":"nope"}`))
	}))
	defer backend.Close()

	rec := post(t, NewHandler(Config{BackendURL: backend.URL}), `{"a": 1}`)
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.JSONEq(t, `{"detail":"nope"}`, rec.Body.String())
	require.JSONEq(t, `{"a":1}`, got)
	require.Equal(t, "application/json", contentType)
}

func TestForwardRejectsNonPost(t *testing.T) {
	h := NewHandler(Config{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
}

func TestForwardRejectsInvalidJSON(t *testing.T) {
	rec := post(t, NewHandler(Config{}), `{"messages":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestForwardUnreachableBackend(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	rec := post(t, NewHandler(Config{BackendURL: url}), `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"error":"upstream error"}`, rec.Body.String())
}

func TestForwardNonJSONBackendResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	}))
	defer backend.Close()

	rec := post(t, NewHandler(Config{BackendURL: backend.URL}), `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.JSONEq(t, `{"error":"upstream error"}`, rec.Body.String())
}

func TestForwardDefaultsBackendURL(t *testing.T) {
	h := NewHandler(Config{}).(*handler)
	require.Equal(t, DefaultBackendURL, h.backendURL)
}
