package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/jonnyallum/safeguardian/internal/alerting"
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status alerting.Status
	if raw := q.Get("status"); raw != "" {
		parsed, err := alerting.ParseStatus(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}

	var severity alerting.Severity
	if raw := q.Get("severity"); raw != "" {
		parsed, err := alerting.ParseSeverity(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		severity = parsed
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	alerts := h.engine.List(status, severity, q.Get("session_id"), limit)
	h.respondJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (h *Handler) getAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	alert, ok := h.engine.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	h.respondJSON(w, http.StatusOK, alert)
}

type alertActionRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
	Level  string `json:"level,omitempty"`
	Status string `json:"status,omitempty"`
}

func decodeActionRequest(r *http.Request) alertActionRequest {
	var req alertActionRequest
	// Body is optional for acknowledge/resolve.
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Actor == "" {
		req.Actor = "api"
	}
	return req
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req := decodeActionRequest(r)
	if err := h.engine.Acknowledge(r.Context(), id, req.Actor); err != nil {
		h.alertActionError(w, err)
		return
	}
	h.respondAlert(w, id)
}

func (h *Handler) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req := decodeActionRequest(r)
	if err := h.engine.Resolve(r.Context(), id, req.Actor); err != nil {
		h.alertActionError(w, err)
		return
	}
	h.respondAlert(w, id)
}

func (h *Handler) escalateAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req := decodeActionRequest(r)

	level, err := alerting.ParseEscalationLevel(req.Level)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "Manual escalation"
	}

	if err := h.engine.Escalate(r.Context(), id, level, reason, req.Actor); err != nil {
		h.alertActionError(w, err)
		return
	}
	h.respondAlert(w, id)
}

func (h *Handler) updateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req := decodeActionRequest(r)

	status, err := alerting.ParseStatus(req.Status)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.engine.UpdateStatus(r.Context(), id, status, req.Actor); err != nil {
		h.alertActionError(w, err)
		return
	}
	h.respondAlert(w, id)
}

func (h *Handler) respondAlert(w http.ResponseWriter, id string) {
	alert, ok := h.engine.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "alert not found")
		return
	}
	h.respondJSON(w, http.StatusOK, alert)
}

// alertActionError maps engine errors onto HTTP statuses: unknown alerts are
// 404, invalid transitions 409.
func (h *Handler) alertActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, alerting.ErrAlertNotFound) {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondError(w, http.StatusConflict, err.Error())
}
