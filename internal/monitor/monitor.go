package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/detector"
	"github.com/jonnyallum/safeguardian/internal/metrics"
	"github.com/jonnyallum/safeguardian/internal/storage"
)

// Exponential moving average weights for the session risk score.
const (
	emaKeepWeight   = 0.8
	emaSampleWeight = 0.2

	escalationBonusWeight = 0.2
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("session is not active")
	ErrQueueFull        = errors.New("session queue full")
	ErrShuttingDown     = errors.New("monitor is shutting down")
)

// AlertSink receives alert requests raised by the monitor.
type AlertSink interface {
	CreateAlert(ctx context.Context, req *alerting.Request) (*alerting.Alert, error)
}

// Broadcaster pushes session updates to connected dashboard clients.
type Broadcaster interface {
	BroadcastSessionUpdate(payload any)
}

// Stats is a point-in-time view of the monitor's counters.
type Stats struct {
	ActiveSessions     int     `json:"active_sessions"`
	TotalSessions      int64   `json:"total_sessions"`
	TotalMessages      int64   `json:"total_messages"`
	TotalAlerts        int64   `json:"total_alerts"`
	HighRiskDetections int64   `json:"high_risk_detections"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
}

// Monitor owns the monitored sessions. Each session gets one goroutine
// consuming a bounded queue, so per-session analysis order matches arrival
// order and a flooded session never blocks the others.
type Monitor struct {
	cfg       config.MonitoringConfig
	logger    *slog.Logger
	scorer    *detector.Scorer
	tracker   *detector.Tracker
	collector *metrics.Collector

	ages        storage.AgeDirectory
	analyses    storage.AnalysisStore
	alerts      AlertSink
	broadcaster Broadcaster

	mu       sync.RWMutex
	sessions map[string]*session
	history  []View
	stopping bool

	wg sync.WaitGroup

	statsMu       sync.Mutex
	totalSessions int64
	totalMessages int64
	totalAlerts   int64
	highRisk      int64
	startTime     time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithAgeDirectory attaches the user age lookup.
func WithAgeDirectory(d storage.AgeDirectory) Option {
	return func(m *Monitor) { m.ages = d }
}

// WithAnalysisStore attaches per-message analysis persistence.
func WithAnalysisStore(s storage.AnalysisStore) Option {
	return func(m *Monitor) { m.analyses = s }
}

// WithAlertSink attaches the alert engine.
func WithAlertSink(sink AlertSink) Option {
	return func(m *Monitor) { m.alerts = sink }
}

// WithBroadcaster attaches the realtime hub.
func WithBroadcaster(b Broadcaster) Option {
	return func(m *Monitor) { m.broadcaster = b }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.collector = c }
}

// New creates a session monitor.
func New(cfg config.MonitoringConfig, scorer *detector.Scorer, tracker *detector.Tracker, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		scorer:   scorer,
		tracker:  tracker,
		sessions: make(map[string]*session),
	}
	m.statsMu.Lock()
	m.startTime = time.Now()
	m.statsMu.Unlock()
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession begins monitoring a child's session. An empty sessionID gets a
// generated one.
func (m *Monitor) StartSession(sessionID, childID, platform string) (View, error) {
	if childID == "" {
		return View{}, fmt.Errorf("session requires a child_id")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	queueSize := m.cfg.SessionQueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	now := time.Now().UTC()
	s := &session{
		id:           sessionID,
		childID:      childID,
		platform:     platform,
		status:       SessionActive,
		startedAt:    now,
		lastActivity: now,
		queue:        make(chan *Message, queueSize),
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return View{}, ErrShuttingDown
	}
	if _, exists := m.sessions[sessionID]; exists {
		m.mu.Unlock()
		return View{}, fmt.Errorf("session already exists: %s", sessionID)
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	m.statsMu.Lock()
	m.totalSessions++
	m.statsMu.Unlock()

	m.wg.Add(1)
	go m.sessionLoop(s)

	if m.collector != nil {
		m.collector.SetActiveSessions(float64(m.activeCount()))
	}
	m.logger.Info("Monitoring session started",
		"session_id", sessionID,
		"child_id", childID,
		"platform", platform)

	return s.view(), nil
}

// ProcessMessage queues a message for analysis. It never blocks: a full
// session queue rejects the message with ErrQueueFull.
func (m *Monitor) ProcessMessage(msg *Message) error {
	m.mu.RLock()
	s, ok := m.sessions[msg.SessionID]
	stopping := m.stopping
	m.mu.RUnlock()
	if stopping {
		return ErrShuttingDown
	}
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status != SessionActive {
		return ErrSessionNotActive
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.ConversationID == "" {
		msg.ConversationID = msg.SessionID
	}

	select {
	case s.queue <- msg:
		return nil
	default:
		if m.collector != nil {
			m.collector.RecordQueueRejection()
		}
		m.logger.Warn("Session queue full, rejecting message",
			"session_id", msg.SessionID,
			"queue_size", cap(s.queue))
		return ErrQueueFull
	}
}

// sessionLoop is the single consumer for one session's queue. On shutdown it
// drains whatever is already queued before exiting.
func (m *Monitor) sessionLoop(s *session) {
	defer m.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			m.handleMessage(s, msg)
		case <-s.done:
			for {
				select {
				case msg := <-s.queue:
					m.handleMessage(s, msg)
				default:
					return
				}
			}
		}
	}
}

// handleMessage runs the full per-message pipeline: age lookup, scoring,
// conversation escalation, risk EMA, rate window, persistence, alerting.
func (m *Monitor) handleMessage(s *session, msg *Message) {
	start := time.Now()
	ctx := context.Background()

	senderAge, recipientAge := 0, 0
	if m.ages != nil {
		if age, ok := m.ages.LoadUserAge(ctx, msg.SenderID); ok {
			senderAge = age
		}
		if age, ok := m.ages.LoadUserAge(ctx, msg.RecipientID); ok {
			recipientAge = age
		}
	}

	result := m.scorer.Score(msg.Content, senderAge, recipientAge)
	bonus := m.tracker.Update(msg.ConversationID, result)

	// Session risk is an EMA over per-message samples. The escalation bonus
	// feeds the sample, and the clamp keeps the EMA inside [0,1].
	sample := clamp01(result.Level.Score()*result.Confidence + escalationBonusWeight*bonus)

	now := time.Now().UTC()
	s.mu.Lock()
	s.riskScore = emaKeepWeight*s.riskScore + emaSampleWeight*sample
	s.messageCount++
	s.lastActivity = now
	// The rate window keys on message timestamps, so replayed or delayed
	// messages keep their original spacing.
	s.recent = append(s.recent, msg.Timestamp)
	windowCount := s.pruneRecentLocked(msg.Timestamp, m.cfg.RateLimitWindow)
	risk := s.riskScore
	sustained := m.cfg.HighRiskThreshold > 0 && !s.highRiskNotified && risk >= m.cfg.HighRiskThreshold
	if sustained {
		s.highRiskNotified = true
	}
	s.mu.Unlock()

	m.statsMu.Lock()
	m.totalMessages++
	if result.Level.AtLeast(detector.RiskHigh) {
		m.highRisk++
	}
	m.statsMu.Unlock()

	if m.collector != nil {
		m.collector.RecordMessageProcessed(string(result.Level))
		m.collector.ObserveAnalysisDuration(time.Since(start).Seconds())
		if result.Level.AtLeast(detector.RiskHigh) {
			m.collector.RecordHighRiskDetection()
		}
	}

	m.persistAnalysis(ctx, msg, result)

	if windowCount > m.cfg.RateLimitThreshold {
		m.raiseRateAlert(ctx, s, windowCount)
	}

	if sustained {
		m.raiseSustainedRiskAlert(ctx, s, risk)
	}

	if result.Level.AtLeast(detector.RiskHigh) && result.Confidence > m.cfg.AlertConfidenceFloor {
		m.raiseRiskAlert(ctx, s, msg, result, bonus)
	}

	if m.broadcaster != nil {
		m.broadcaster.BroadcastSessionUpdate(map[string]any{
			"type":       "session_update",
			"session_id": s.id,
			"risk_score": risk,
			"risk_level": string(result.Level),
			"timestamp":  now,
		})
	}
}

// deriveSeverity maps a detection onto an alert severity.
func deriveSeverity(result *detector.Result) alerting.Severity {
	switch {
	case result.Level == detector.RiskCritical && result.Confidence > 0.9 &&
		(result.HasPattern(detector.PatternMeetingRequest) || result.HasPattern(detector.PatternSexualContent)):
		return alerting.SeverityEmergency
	case result.Level == detector.RiskCritical && result.Confidence > 0.7:
		return alerting.SeverityCritical
	case result.Level == detector.RiskHigh || len(result.Patterns) >= 3:
		return alerting.SeverityHigh
	case result.Level == detector.RiskMedium || len(result.Patterns) >= 1:
		return alerting.SeverityMedium
	default:
		return alerting.SeverityLow
	}
}

func (m *Monitor) raiseRiskAlert(ctx context.Context, s *session, msg *Message, result *detector.Result, bonus float64) {
	if m.alerts == nil {
		return
	}

	patterns := make([]string, 0, len(result.Patterns))
	for _, p := range result.Patterns {
		patterns = append(patterns, string(p))
	}

	req := &alerting.Request{
		SessionID:       s.id,
		ChildID:         s.childID,
		ConversationID:  msg.ConversationID,
		Severity:        deriveSeverity(result),
		RiskLevel:       string(result.Level),
		Confidence:      result.Confidence,
		Patterns:        patterns,
		Explanation:     result.Explanation,
		Recommendations: result.Recommendations,
		MessageHash:     result.MessageHash,
		Metadata: map[string]any{
			"escalation_bonus": bonus,
			"message_id":       msg.ID,
			"platform":         s.platform,
		},
	}

	if _, err := m.alerts.CreateAlert(ctx, req); err != nil {
		m.logger.Error("Failed to create alert",
			"session_id", s.id,
			"risk_level", result.Level,
			"error", err)
		return
	}

	s.mu.Lock()
	s.alertCount++
	s.mu.Unlock()

	m.statsMu.Lock()
	m.totalAlerts++
	m.statsMu.Unlock()
}

// raiseSustainedRiskAlert fires once per session, when the risk EMA first
// crosses the configured high-risk threshold. Individual messages may each
// sit below the per-message alert gate while the session as a whole trends
// dangerous; this is the signal for that case.
func (m *Monitor) raiseSustainedRiskAlert(ctx context.Context, s *session, risk float64) {
	if m.alerts == nil {
		return
	}

	req := &alerting.Request{
		SessionID: s.id,
		ChildID:   s.childID,
		Severity:  alerting.SeverityHigh,
		RiskLevel: string(detector.RiskHigh),
		Title:     "Sustained high session risk",
		Description: fmt.Sprintf("Session risk score reached %.2f, above the threshold of %.2f",
			risk, m.cfg.HighRiskThreshold),
		Metadata: map[string]any{
			"alert_kind": "sustained_high_risk",
			"risk_score": risk,
		},
	}

	if _, err := m.alerts.CreateAlert(ctx, req); err != nil {
		m.logger.Error("Failed to create sustained-risk alert", "session_id", s.id, "error", err)
		return
	}

	s.mu.Lock()
	s.alertCount++
	s.mu.Unlock()

	m.statsMu.Lock()
	m.totalAlerts++
	m.statsMu.Unlock()
}

// raiseRateAlert fires an unusual-activity alert for message flooding. It
// fires on every message whose trailing-window count exceeds the threshold.
func (m *Monitor) raiseRateAlert(ctx context.Context, s *session, count int) {
	if m.alerts == nil {
		return
	}

	req := &alerting.Request{
		SessionID: s.id,
		ChildID:   s.childID,
		Severity:  alerting.SeverityMedium,
		RiskLevel: string(detector.RiskMedium),
		Title:     "Unusual messaging activity detected",
		Description: fmt.Sprintf("Session received %d messages within %s, above the threshold of %d",
			count, m.cfg.RateLimitWindow, m.cfg.RateLimitThreshold),
		Metadata: map[string]any{
			"alert_kind":    "unusual_activity",
			"message_count": count,
		},
	}

	if _, err := m.alerts.CreateAlert(ctx, req); err != nil {
		m.logger.Error("Failed to create rate alert", "session_id", s.id, "error", err)
		return
	}

	s.mu.Lock()
	s.alertCount++
	s.mu.Unlock()

	m.statsMu.Lock()
	m.totalAlerts++
	m.statsMu.Unlock()
}

func (m *Monitor) persistAnalysis(ctx context.Context, msg *Message, result *detector.Result) {
	if m.analyses == nil {
		return
	}

	patterns := make([]string, 0, len(result.Patterns))
	for _, p := range result.Patterns {
		patterns = append(patterns, string(p))
	}
	record := &storage.AnalysisRecord{
		ID:              uuid.New().String(),
		SessionID:       msg.SessionID,
		RiskLevel:       string(result.Level),
		Confidence:      result.Confidence,
		Patterns:        patterns,
		RiskFactors:     result.RiskFactors,
		Explanation:     result.Explanation,
		Recommendations: result.Recommendations,
		Timestamp:       result.Timestamp,
		MessageHash:     result.MessageHash,
	}
	if err := m.analyses.PersistAnalysis(ctx, record); err != nil {
		m.logger.Error("Failed to persist analysis", "session_id", msg.SessionID, "error", err)
	}
}

// PauseSession suspends analysis for a session; queued messages stay queued.
func (m *Monitor) PauseSession(sessionID string) error {
	return m.setStatus(sessionID, SessionActive, SessionPaused)
}

// ResumeSession reactivates a paused session.
func (m *Monitor) ResumeSession(sessionID string) error {
	return m.setStatus(sessionID, SessionPaused, SessionActive)
}

func (m *Monitor) setStatus(sessionID string, from, to SessionStatus) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return fmt.Errorf("session %s is %s, expected %s", sessionID, s.status, from)
	}
	s.status = to
	m.logger.Info("Session status changed", "session_id", sessionID, "from", from, "to", to)
	return nil
}

// StopSession ends monitoring. The session's goroutine drains its queue and
// exits; the final view moves to the bounded stopped history.
func (m *Monitor) StopSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.status != SessionStopped {
		s.status = SessionStopped
		close(s.done)
	}
	s.mu.Unlock()

	view := s.view()
	m.mu.Lock()
	m.history = append(m.history, view)
	if m.cfg.StoppedHistoryLimit > 0 && len(m.history) > m.cfg.StoppedHistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.StoppedHistoryLimit:]
	}
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.SetActiveSessions(float64(m.activeCount()))
	}
	m.logger.Info("Monitoring session stopped",
		"session_id", sessionID,
		"messages", view.MessageCount,
		"alerts", view.AlertCount,
		"final_risk", view.RiskScore)
	return nil
}

// Session returns a snapshot of a live session.
func (m *Monitor) Session(sessionID string) (View, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// Sessions returns snapshots of all live sessions.
func (m *Monitor) Sessions() []View {
	m.mu.RLock()
	list := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	views := make([]View, 0, len(list))
	for _, s := range list {
		views = append(views, s.view())
	}
	return views
}

// StoppedSessions returns the bounded history of stopped sessions.
func (m *Monitor) StoppedSessions() []View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]View, len(m.history))
	copy(out, m.history)
	return out
}

// SweepIdle stops sessions with no activity past the idle timeout and
// returns how many were stopped. Called from the scheduler.
func (m *Monitor) SweepIdle() int {
	cutoff := time.Now().UTC().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastActivity.Before(cutoff) {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.logger.Info("Stopping idle session", "session_id", id)
		if err := m.StopSession(id); err != nil {
			m.logger.Error("Failed to stop idle session", "session_id", id, "error", err)
		}
	}
	return len(idle)
}

func (m *Monitor) activeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats reports the monitor's counters.
func (m *Monitor) Stats() Stats {
	active := m.activeCount()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return Stats{
		ActiveSessions:     active,
		TotalSessions:      m.totalSessions,
		TotalMessages:      m.totalMessages,
		TotalAlerts:        m.totalAlerts,
		HighRiskDetections: m.highRisk,
		UptimeSeconds:      time.Since(m.startTime).Seconds(),
	}
}

// Shutdown rejects new work, stops every session, and waits for queue
// draining up to the configured grace period.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopSession(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Error("Failed to stop session during shutdown", "session_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	grace := m.cfg.DrainGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-done:
		m.logger.Info("Monitor drained cleanly", "sessions_stopped", len(ids))
		return nil
	case <-time.After(grace):
		return fmt.Errorf("monitor drain exceeded grace period %s", grace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
