package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/detector"
	"github.com/jonnyallum/safeguardian/internal/storage"
)

const (
	benignMessage   = "ok see you at lunch"
	groomingMessage = "you can trust me. keep this between us. i'll take care of you. want to meet up and hang out"
)

type recordingSink struct {
	mu       sync.Mutex
	requests []*alerting.Request
	block    chan struct{}
	started  chan struct{}
}

func (s *recordingSink) CreateAlert(_ context.Context, req *alerting.Request) (*alerting.Alert, error) {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return &alerting.Alert{ID: "alert-1", SessionID: req.SessionID}, nil
}

func (s *recordingSink) all() []*alerting.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*alerting.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func testConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		SessionQueueSize:     64,
		IdleTimeout:          30 * time.Minute,
		RateLimitWindow:      time.Minute,
		RateLimitThreshold:   10,
		StoppedHistoryLimit:  10,
		DrainGracePeriod:     time.Second,
		HighRiskThreshold:    0.7,
		AlertConfidenceFloor: 0.7,
	}
}

func testMonitor(t *testing.T, cfg config.MonitoringConfig, opts ...Option) *Monitor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(cfg, detector.NewScorer(), detector.NewTracker(), logger, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func waitForMessages(t *testing.T, m *Monitor, sessionID string, want int64) View {
	t.Helper()
	var view View
	require.Eventually(t, func() bool {
		v, ok := m.Session(sessionID)
		if !ok {
			return false
		}
		view = v
		return v.MessageCount >= want
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

func TestStartSession(t *testing.T) {
	m := testMonitor(t, testConfig())

	view, err := m.StartSession("", "child-1", "discord")
	require.NoError(t, err)
	assert.NotEmpty(t, view.ID)
	assert.Equal(t, "child-1", view.ChildID)
	assert.Equal(t, SessionActive, view.Status)

	_, err = m.StartSession(view.ID, "child-1", "discord")
	assert.Error(t, err)

	require.NoError(t, m.StopSession(view.ID))
	_, ok := m.Session(view.ID)
	assert.False(t, ok)
	assert.Len(t, m.StoppedSessions(), 1)
}

func TestStartSessionRequiresChild(t *testing.T) {
	m := testMonitor(t, testConfig())
	_, err := m.StartSession("", "", "discord")
	assert.Error(t, err)
}

func TestProcessMessageUnknownSession(t *testing.T) {
	m := testMonitor(t, testConfig())
	err := m.ProcessMessage(&Message{SessionID: "missing", Content: benignMessage})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPauseAndResume(t *testing.T) {
	m := testMonitor(t, testConfig())
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	require.NoError(t, m.PauseSession(view.ID))
	err = m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage})
	assert.ErrorIs(t, err, ErrSessionNotActive)

	// Pausing twice fails, resuming restores processing.
	assert.Error(t, m.PauseSession(view.ID))
	require.NoError(t, m.ResumeSession(view.ID))
	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	waitForMessages(t, m, view.ID, 1)
}

func TestRiskScoreEMA(t *testing.T) {
	m := testMonitor(t, testConfig())
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	// A benign message nudges the score by at most 0.2 of a tiny sample.
	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	got := waitForMessages(t, m, view.ID, 1)
	assert.Less(t, got.RiskScore, 0.05)
}

func TestRiskScoreConvergesWithoutOvershoot(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	const n = 30
	for i := 0; i < n; i++ {
		require.NoError(t, m.ProcessMessage(&Message{
			SessionID:      view.ID,
			ConversationID: "conv-1",
			Content:        groomingMessage,
		}))
	}
	got := waitForMessages(t, m, view.ID, n)

	// Critical messages at confidence 1.0 drive the EMA toward 1.0; the
	// clamp keeps it from ever passing it.
	assert.Greater(t, got.RiskScore, 0.9)
	assert.LessOrEqual(t, got.RiskScore, 1.0)
	assert.NotEmpty(t, sink.all())
	assert.Equal(t, got.AlertCount, int64(len(sink.all())))
}

func TestHighRiskMessageRaisesAlert(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	require.NoError(t, m.ProcessMessage(&Message{
		SessionID:      view.ID,
		ConversationID: "conv-1",
		Content:        groomingMessage,
	}))
	waitForMessages(t, m, view.ID, 1)

	requests := sink.all()
	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, view.ID, req.SessionID)
	assert.Equal(t, "child-1", req.ChildID)
	assert.Equal(t, "critical", req.RiskLevel)
	assert.NotEmpty(t, req.Patterns)
	assert.NotEmpty(t, req.Explanation)
}

func TestBenignMessagesRaiseNoAlert(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	}
	waitForMessages(t, m, view.ID, 5)
	assert.Empty(t, sink.all())
}

func TestRateAlertFiresOncePastThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitThreshold = 10
	sink := &recordingSink{}
	m := testMonitor(t, cfg, WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	// 11 benign messages inside the window: only the 11th exceeds the
	// threshold.
	for i := 0; i < 11; i++ {
		require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	}
	waitForMessages(t, m, view.ID, 11)

	requests := sink.all()
	require.Len(t, requests, 1)
	assert.Equal(t, alerting.SeverityMedium, requests[0].Severity)
	assert.Equal(t, "unusual_activity", requests[0].Metadata["alert_kind"])
}

func TestRateAlertNotFiredAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	}
	waitForMessages(t, m, view.ID, 10)
	assert.Empty(t, sink.all())
}

func TestSustainedRiskAlertFiresOncePerSession(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	// Critical messages at confidence 1.0 push the EMA past the 0.7
	// threshold on the sixth message; the crossing is reported exactly once.
	for i := 0; i < 10; i++ {
		require.NoError(t, m.ProcessMessage(&Message{
			SessionID:      view.ID,
			ConversationID: "conv-1",
			Content:        groomingMessage,
		}))
	}
	waitForMessages(t, m, view.ID, 10)

	sustained := 0
	for _, req := range sink.all() {
		if req.Metadata["alert_kind"] == "sustained_high_risk" {
			sustained++
			assert.Equal(t, alerting.SeverityHigh, req.Severity)
			assert.Equal(t, view.ID, req.SessionID)
		}
	}
	assert.Equal(t, 1, sustained)
}

func TestRateWindowHonorsMessageTimestamps(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	// Eleven replayed messages spaced ten seconds apart never put more than
	// the threshold inside the sixty-second window, so no flood alert fires.
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 11; i++ {
		require.NoError(t, m.ProcessMessage(&Message{
			SessionID: view.ID,
			Content:   benignMessage,
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
		}))
	}
	waitForMessages(t, m, view.ID, 11)
	assert.Empty(t, sink.all())

	// The same count stamped into one instant is a flood.
	burst, err := m.StartSession("s2", "child-1", "discord")
	require.NoError(t, err)
	at := time.Now().UTC()
	for i := 0; i < 11; i++ {
		require.NoError(t, m.ProcessMessage(&Message{
			SessionID: burst.ID,
			Content:   benignMessage,
			Timestamp: at,
		}))
	}
	waitForMessages(t, m, burst.ID, 11)

	requests := sink.all()
	require.Len(t, requests, 1)
	assert.Equal(t, "unusual_activity", requests[0].Metadata["alert_kind"])
}

func TestQueueFullRejectsMessage(t *testing.T) {
	cfg := testConfig()
	cfg.SessionQueueSize = 1
	sink := &recordingSink{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	m := testMonitor(t, cfg, WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	// First message blocks the session goroutine inside the alert sink.
	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: groomingMessage}))
	<-sink.started

	// Second fills the queue, third is rejected.
	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))
	err = m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(sink.block)
	waitForMessages(t, m, view.ID, 2)
}

func TestSweepIdle(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 10 * time.Millisecond
	m := testMonitor(t, cfg)

	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, m.SweepIdle())

	_, ok := m.Session(view.ID)
	assert.False(t, ok)
	require.Len(t, m.StoppedSessions(), 1)
	assert.Equal(t, SessionStopped, m.StoppedSessions()[0].Status)
}

func TestAgeDirectoryFeedsScoring(t *testing.T) {
	store := storage.NewMemoryStore()
	store.SetUserAge("adult-1", 35)
	store.SetUserAge("child-1", 12)

	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink), WithAgeDirectory(store), WithAnalysisStore(store))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	require.NoError(t, m.ProcessMessage(&Message{
		SessionID:   view.ID,
		SenderID:    "adult-1",
		RecipientID: "child-1",
		Content:     benignMessage,
	}))
	got := waitForMessages(t, m, view.ID, 1)

	// The age gap contributes risk even for a benign message.
	assert.Greater(t, got.RiskScore, 0.0)

	analyses := store.Analyses()
	require.Len(t, analyses, 1)
	assert.Equal(t, view.ID, analyses[0].SessionID)
	assert.NotEmpty(t, analyses[0].RiskFactors)
}

func TestMonitorStats(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, testConfig(), WithAlertSink(sink))
	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)

	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: groomingMessage}))
	waitForMessages(t, m, view.ID, 1)

	stats := m.Stats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, int64(1), stats.TotalSessions)
	assert.Equal(t, int64(1), stats.TotalMessages)
	assert.Equal(t, int64(1), stats.HighRiskDetections)
	assert.Equal(t, int64(1), stats.TotalAlerts)
	assert.Greater(t, stats.UptimeSeconds, 0.0)
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := New(cfg, detector.NewScorer(), detector.NewTracker(), logger)

	view, err := m.StartSession("s1", "child-1", "discord")
	require.NoError(t, err)
	require.NoError(t, m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.StartSession("s2", "child-2", "discord")
	assert.ErrorIs(t, err, ErrShuttingDown)
	err = m.ProcessMessage(&Message{SessionID: view.ID, Content: benignMessage})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestDeriveSeverity(t *testing.T) {
	tests := []struct {
		name   string
		result *detector.Result
		want   alerting.Severity
	}{
		{
			"critical with meeting request at very high confidence",
			&detector.Result{Level: detector.RiskCritical, Confidence: 0.95, Patterns: []detector.Pattern{detector.PatternMeetingRequest}},
			alerting.SeverityEmergency,
		},
		{
			"critical without dangerous pattern",
			&detector.Result{Level: detector.RiskCritical, Confidence: 0.8},
			alerting.SeverityCritical,
		},
		{
			"high risk",
			&detector.Result{Level: detector.RiskHigh, Confidence: 0.75},
			alerting.SeverityHigh,
		},
		{
			"three patterns force high",
			&detector.Result{Level: detector.RiskMedium, Confidence: 0.5, Patterns: []detector.Pattern{detector.PatternSecrecy, detector.PatternGiftOffering, detector.PatternTrustBuilding}},
			alerting.SeverityHigh,
		},
		{
			"medium risk",
			&detector.Result{Level: detector.RiskMedium, Confidence: 0.5},
			alerting.SeverityMedium,
		},
		{
			"low risk",
			&detector.Result{Level: detector.RiskLow, Confidence: 0.1},
			alerting.SeverityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveSeverity(tt.result))
		})
	}
}
