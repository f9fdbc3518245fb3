package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"rtp-header-probe/internal/config"
	"rtp-header-probe/internal/logging"
	"rtp-header-probe/internal/probe"
)

type ListenerManager interface {
	Open(port int) (probe.ListenerView, error)
	Get(port int) (probe.ListenerView, bool)
	List() []probe.ListenerView
	Close(port int) bool
	Streams(port int) ([]probe.Stream, bool)
	AllStreams() []probe.ListenerStreams
}

type Handler struct {
	manager         ListenerManager
	servicePassword string
}

func NewHandler(cfg config.Config, manager ListenerManager) *Handler {
	return &Handler{
		manager:         manager,
		servicePassword: cfg.ServicePassword,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/health", h.withAccessTokenAuth(http.HandlerFunc(h.handleHealth)))
	mux.Handle("POST /v1/listener", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerOpen)))
	mux.Handle("GET /v1/listeners", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerList)))
	mux.Handle("GET /v1/listener/{port}", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerGetByPort)))
	mux.Handle("DELETE /v1/listener/{port}", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerDeleteByPort)))
	mux.Handle("POST /v1/listener/{port}/delete", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerDeleteByPort)))
	mux.Handle("GET /v1/listener/{port}/streams", h.withAccessTokenAuth(http.HandlerFunc(h.handleListenerStreamsByPort)))
	mux.Handle("GET /v1/streams", h.withAccessTokenAuth(http.HandlerFunc(h.handleAllStreams)))
}

func (h *Handler) withAccessTokenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if token == "" || token != h.servicePassword {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type openListenerRequest struct {
	Port int `json:"port"`
}

type listenerResponse struct {
	Port               int    `json:"port"`
	CreatedAt          string `json:"created_at"`
	Packets            uint64 `json:"packets"`
	Bytes              uint64 `json:"bytes"`
	Parsed             uint64 `json:"parsed"`
	ParseErrors        uint64 `json:"parse_errors"`
	HeaderTooSmall     uint64 `json:"header_too_small"`
	CSRCTruncated      uint64 `json:"csrc_truncated"`
	ExtensionMissing   uint64 `json:"extension_missing"`
	ExtensionTruncated uint64 `json:"extension_truncated"`
	Streams            int    `json:"streams"`
}

type streamResponse struct {
	SSRC          string `json:"ssrc"`
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	FirstSeen     string `json:"first_seen"`
	LastSeen      string `json:"last_seen"`
	LastSource    string `json:"last_source"`
	LastSequence  uint16 `json:"last_sequence"`
	LastTimestamp uint32 `json:"last_timestamp"`
	Version       uint8  `json:"version"`
	PayloadType   uint8  `json:"payload_type"`
	Marker        bool   `json:"marker"`
	Padding       bool   `json:"padding"`
	CSRCCount     uint8  `json:"csrc_count"`
	HasExtension  bool   `json:"has_extension"`
	ExtensionID   string `json:"extension_id,omitempty"`
}

type listListenersResponse struct {
	Listeners []listenerResponse `json:"listeners"`
}

type listenerStreamsResponse struct {
	Port    int              `json:"port"`
	Streams []streamResponse `json:"streams"`
}

type allStreamsResponse struct {
	Listeners []listenerStreamsResponse `json:"listeners"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newListenerResponse(view probe.ListenerView) listenerResponse {
	return listenerResponse{
		Port:               view.Port,
		CreatedAt:          formatTime(view.CreatedAt),
		Packets:            view.Counters.Packets,
		Bytes:              view.Counters.Bytes,
		Parsed:             view.Counters.Parsed,
		ParseErrors:        view.Counters.ParseErrors(),
		HeaderTooSmall:     view.Counters.HeaderTooSmall,
		CSRCTruncated:      view.Counters.CSRCTruncated,
		ExtensionMissing:   view.Counters.ExtensionMissing,
		ExtensionTruncated: view.Counters.ExtensionTruncated,
		Streams:            view.Streams,
	}
}

func newStreamResponse(stream probe.Stream) streamResponse {
	resp := streamResponse{
		SSRC:          fmt.Sprintf("0x%08x", stream.SSRC),
		Packets:       stream.Packets,
		Bytes:         stream.Bytes,
		FirstSeen:     formatTime(stream.FirstSeen),
		LastSeen:      formatTime(stream.LastSeen),
		LastSource:    stream.LastSource,
		LastSequence:  stream.LastSequence,
		LastTimestamp: stream.LastTimestamp,
		Version:       stream.Version,
		PayloadType:   stream.PayloadType,
		Marker:        stream.Marker,
		Padding:       stream.Padding,
		CSRCCount:     stream.CSRCCount,
		HasExtension:  stream.HasExtension,
	}
	if stream.HasExtension {
		resp.ExtensionID = fmt.Sprintf("0x%04x", stream.ExtensionID)
	}
	return resp
}

func newStreamResponses(streams []probe.Stream) []streamResponse {
	out := make([]streamResponse, 0, len(streams))
	for _, stream := range streams {
		out = append(out, newStreamResponse(stream))
	}
	return out
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleListenerOpen(w http.ResponseWriter, r *http.Request) {
	var req openListenerRequest
	// An empty body opens a listener on an allocator-chosen port.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logging.L().Warn("listener.open failed", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}
	if req.Port < 0 || req.Port > 65535 {
		logging.L().Warn("listener.open failed", "error", "port out of range", "port", req.Port)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "port must be 0..65535 (0 allocates)"})
		return
	}
	view, err := h.manager.Open(req.Port)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, probe.ErrNoPortsAvailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, probe.ErrListenerExists):
			status = http.StatusConflict
		}
		logging.L().Error("listener.open failed", "error", err, "port", req.Port)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	logging.WithListener(view.Port).Info("listener.open", "requested_port", req.Port)
	writeJSON(w, http.StatusOK, newListenerResponse(view))
}

func (h *Handler) handleListenerList(w http.ResponseWriter, r *http.Request) {
	views := h.manager.List()
	resp := listListenersResponse{Listeners: make([]listenerResponse, 0, len(views))}
	for _, view := range views {
		resp.Listeners = append(resp.Listeners, newListenerResponse(view))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListenerGetByPort(w http.ResponseWriter, r *http.Request) {
	port, ok := parsePort(w, r)
	if !ok {
		return
	}
	h.handleListenerGet(w, r, port)
}

func (h *Handler) handleListenerDeleteByPort(w http.ResponseWriter, r *http.Request) {
	port, ok := parsePort(w, r)
	if !ok {
		return
	}
	h.handleListenerDelete(w, r, port)
}

func (h *Handler) handleListenerStreamsByPort(w http.ResponseWriter, r *http.Request) {
	port, ok := parsePort(w, r)
	if !ok {
		return
	}
	h.handleListenerStreams(w, r, port)
}

func (h *Handler) handleListenerGet(w http.ResponseWriter, r *http.Request, port int) {
	view, found := h.manager.Get(port)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "listener not found"})
		return
	}
	writeJSON(w, http.StatusOK, newListenerResponse(view))
}

func (h *Handler) handleListenerDelete(w http.ResponseWriter, r *http.Request, port int) {
	var duration time.Duration
	if view, found := h.manager.Get(port); found && !view.CreatedAt.IsZero() {
		duration = time.Since(view.CreatedAt)
	}
	if closed := h.manager.Close(port); !closed {
		logging.WithListener(port).Warn("listener.close failed", "error", "listener not found")
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "listener not found"})
		return
	}
	logAttrs := []any{"reason", "api"}
	if duration > 0 {
		logAttrs = append(logAttrs, "duration", duration)
	}
	logging.WithListener(port).Info("listener.close", logAttrs...)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleListenerStreams(w http.ResponseWriter, r *http.Request, port int) {
	streams, found := h.manager.Streams(port)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "listener not found"})
		return
	}
	writeJSON(w, http.StatusOK, listenerStreamsResponse{Port: port, Streams: newStreamResponses(streams)})
}

func (h *Handler) handleAllStreams(w http.ResponseWriter, r *http.Request) {
	groups := h.manager.AllStreams()
	resp := allStreamsResponse{Listeners: make([]listenerStreamsResponse, 0, len(groups))}
	for _, group := range groups {
		resp.Listeners = append(resp.Listeners, listenerStreamsResponse{Port: group.Port, Streams: newStreamResponses(group.Streams)})
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePort(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("port")
	if raw == "" {
		http.NotFound(w, r)
		return 0, false
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "port must be 1..65535"})
		return 0, false
	}
	return port, true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
