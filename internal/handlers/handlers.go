package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/detector"
	"github.com/jonnyallum/safeguardian/internal/monitor"
	"github.com/jonnyallum/safeguardian/internal/notification"
	"github.com/jonnyallum/safeguardian/internal/realtime"
)

// Handler wires the HTTP API to the monitoring pipeline.
type Handler struct {
	monitor  *monitor.Monitor
	engine   *alerting.Engine
	notifier *notification.Manager
	scorer   *detector.Scorer
	hub      *realtime.Hub
	logger   *slog.Logger
	started  time.Time
}

// New creates the HTTP handler set.
func New(mon *monitor.Monitor, engine *alerting.Engine, notifier *notification.Manager, scorer *detector.Scorer, hub *realtime.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		monitor:  mon,
		engine:   engine,
		notifier: notifier,
		scorer:   scorer,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}
}

// Router builds the service's route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/sessions", h.startSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.stopSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/pause", h.pauseSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/resume", h.resumeSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/messages", h.ingestMessage).Methods(http.MethodPost)

	api.HandleFunc("/analyze/thread", h.analyzeThread).Methods(http.MethodPost)

	api.HandleFunc("/alerts", h.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.getAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/acknowledge", h.acknowledgeAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/resolve", h.resolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/escalate", h.escalateAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/status", h.updateAlertStatus).Methods(http.MethodPost)

	api.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.ServeWS)
	}

	r.Use(h.loggingMiddleware)
	return r
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			h.logger.Error("Failed to encode response", "error", err)
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

type startSessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
	ChildID   string `json:"child_id"`
	Platform  string `json:"platform,omitempty"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChildID == "" {
		h.respondError(w, http.StatusBadRequest, "child_id is required")
		return
	}

	view, err := h.monitor.StartSession(req.SessionID, req.ChildID, req.Platform)
	if err != nil {
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"sessions": h.monitor.Sessions(),
	}
	if r.URL.Query().Get("include_stopped") == "true" {
		payload["stopped"] = h.monitor.StoppedSessions()
	}
	h.respondJSON(w, http.StatusOK, payload)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, ok := h.monitor.Session(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.monitor.StopSession(id); err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "stopped"})
}

func (h *Handler) pauseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.monitor.PauseSession(id); err != nil {
		h.sessionStateError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "paused"})
}

func (h *Handler) resumeSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.monitor.ResumeSession(id); err != nil {
		h.sessionStateError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "active"})
}

func (h *Handler) sessionStateError(w http.ResponseWriter, err error) {
	if errors.Is(err, monitor.ErrSessionNotFound) {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondError(w, http.StatusConflict, err.Error())
}

type ingestMessageRequest struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
}

func (h *Handler) ingestMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Empty content is still scored: the scorer resolves it to the
	// low-confidence default rather than rejecting the message.
	var req ingestMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.monitor.ProcessMessage(&monitor.Message{
		ID:             req.MessageID,
		SessionID:      id,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
	})
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "queued"})
	case errors.Is(err, monitor.ErrSessionNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, monitor.ErrSessionNotActive):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrQueueFull):
		h.respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type analyzeThreadRequest struct {
	Messages []detector.ThreadMessage `json:"messages"`
}

func (h *Handler) analyzeThread(w http.ResponseWriter, r *http.Request) {
	var req analyzeThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		h.respondError(w, http.StatusBadRequest, "messages are required")
		return
	}
	h.respondJSON(w, http.StatusOK, h.scorer.AnalyzeThread(req.Messages))
}

func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"monitoring": h.monitor.Stats(),
		"alerts":     h.engine.Stats(),
	}
	if h.notifier != nil {
		payload["notifications"] = h.notifier.Stats()
	}
	if h.hub != nil {
		payload["websocket_clients"] = h.hub.ClientCount()
	}
	h.respondJSON(w, http.StatusOK, payload)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": time.Since(h.started).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}
