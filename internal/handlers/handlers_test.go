package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/detector"
	"github.com/jonnyallum/safeguardian/internal/monitor"
	"github.com/jonnyallum/safeguardian/internal/storage"
)

type testEnv struct {
	server  *httptest.Server
	monitor *monitor.Monitor
	engine  *alerting.Engine
	store   *storage.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()

	engine := alerting.NewEngine(
		config.AlertingConfig{ResolvedRetention: time.Hour, HistoryLimit: 100},
		config.RecipientsConfig{Guardian: []string{"guardian@example.com"}},
		nil,
		logger,
		alerting.WithAlertStore(store),
	)

	scorer := detector.NewScorer()
	mon := monitor.New(
		config.MonitoringConfig{
			SessionQueueSize:     64,
			IdleTimeout:          time.Hour,
			RateLimitWindow:      time.Minute,
			RateLimitThreshold:   10,
			StoppedHistoryLimit:  10,
			DrainGracePeriod:     time.Second,
			AlertConfidenceFloor: 0.7,
		},
		scorer,
		detector.NewTracker(),
		logger,
		monitor.WithAlertSink(engine),
		monitor.WithAnalysisStore(store),
	)

	h := New(mon, engine, nil, scorer, nil, logger)
	server := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		server.Close()
		engine.Stop()
	})
	return &testEnv{server: server, monitor: mon, engine: engine, store: store}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded))
	}
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/v1/sessions", map[string]string{
		"child_id": "child-1",
		"platform": "discord",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := body["id"].(string)
	require.NotEmpty(t, sessionID)

	resp, body = env.request(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])

	resp, _ = env.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/pause", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.request(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/resume", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.request(t, http.MethodDelete, "/api/v1/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.request(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.request(t, http.MethodPost, "/api/v1/sessions", map[string]string{"platform": "discord"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestMessage(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.request(t, http.MethodPost, "/api/v1/sessions", map[string]string{"child_id": "child-1"})
	sessionID := body["id"].(string)

	resp, _ := env.request(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/messages", sessionID), map[string]string{
		"content":   "ok see you at lunch",
		"sender_id": "friend-1",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/sessions/missing/messages", map[string]string{
		"content": "hello",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Empty content is accepted and scored as the low-confidence default.
	resp, _ = env.request(t, http.MethodPost, fmt.Sprintf("/api/v1/sessions/%s/messages", sessionID), map[string]string{})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t)

	alert, err := env.engine.CreateAlert(context.Background(), &alerting.Request{
		SessionID:  "session-1",
		ChildID:    "child-1",
		Severity:   alerting.SeverityMedium,
		RiskLevel:  "medium",
		Confidence: 0.6,
	})
	require.NoError(t, err)

	resp, body := env.request(t, http.MethodGet, "/api/v1/alerts", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = env.request(t, http.MethodGet, "/api/v1/alerts/"+alert.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "active", body["status"])

	resp, body = env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/acknowledge", map[string]string{"actor": "tester"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["status"])

	resp, body = env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/escalate", map[string]string{
		"level":  "system_admin",
		"reason": "needs review",
		"actor":  "tester",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "escalated", body["status"])
	assert.Equal(t, "system_admin", body["escalation_level"])

	resp, body = env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", body["status"])

	// Terminal status, further actions conflict.
	resp, _ = env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/acknowledge", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.request(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAlertFilterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/v1/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.request(t, http.MethodGet, "/api/v1/alerts?severity=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.request(t, http.MethodGet, "/api/v1/alerts?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateAlertStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	alert, err := env.engine.CreateAlert(context.Background(), &alerting.Request{
		SessionID: "session-1",
		ChildID:   "child-1",
		Severity:  alerting.SeverityLow,
		RiskLevel: "low",
	})
	require.NoError(t, err)

	resp, body := env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/status", map[string]string{
		"status": "investigating",
		"actor":  "tester",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "investigating", body["status"])

	resp, _ = env.request(t, http.MethodPost, "/api/v1/alerts/"+alert.ID+"/status", map[string]string{
		"status": "nonsense",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeThreadEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/v1/analyze/thread", map[string]any{
		"messages": []map[string]string{
			{"content": "ok see you at lunch"},
			{"content": "ok see you at lunch"},
			{"content": "you can trust me. keep this between us. want to meet up and hang out"},
			{"content": "you can trust me. keep this between us. want to meet up and hang out"},
		},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["overall_risk"])
	assert.NotEmpty(t, body["summary"])

	resp, _ = env.request(t, http.MethodPost, "/api/v1/analyze/thread", map[string]any{"messages": []any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "monitoring")
	assert.Contains(t, body, "alerts")
}
