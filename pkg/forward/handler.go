// Package forward relays chat requests from the browser-facing side to the
// conversational backend's request/response endpoint.
package forward

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultBackendURL = "http://localhost:8000/chat"

type Config struct {
	BackendURL string
	// Client defaults to a client without timeout; the request context bounds
	// the upstream call.
	Client *http.Client
	Logger *zerolog.Logger
}

type handler struct {
	backendURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewHandler returns the forwarding handler. It accepts POST with a JSON body,
// re-encodes it and posts it to the backend, answering with the backend's
// status and JSON body.
func NewHandler(cfg Config) http.Handler {
	h := &handler{
		backendURL: strings.TrimSpace(cfg.BackendURL),
		client:     cfg.Client,
	}
	if h.backendURL == "" {
		h.backendURL = DefaultBackendURL
	}
	if h.client == nil {
		h.client = &http.Client{}
	}
	if cfg.Logger != nil {
		h.logger = *cfg.Logger
	} else {
		h.logger = log.With().Str("component", "forward").Logger()
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	status, data, err := h.relay(r, body)
	if err != nil {
		h.logger.Warn().Err(err).Str("backend", h.backendURL).Msg("upstream call failed")
		writeJSONError(w, http.StatusBadGateway, "upstream error")
		return
	}
	h.logger.Debug().Int("status", status).Int("bytes", len(data)).Msg("forwarded chat request")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *handler) relay(r *http.Request, body json.RawMessage) (int, []byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.backendURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build upstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "post upstream")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "read upstream body")
	}
	if !json.Valid(data) {
		return 0, nil, errors.Errorf("upstream returned non-json body (status %d)", resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
