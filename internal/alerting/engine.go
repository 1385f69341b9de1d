package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/metrics"
	"github.com/jonnyallum/safeguardian/internal/storage"
)

// ErrAlertNotFound is returned for operations on unknown alert IDs.
var ErrAlertNotFound = errors.New("alert not found")

// knownChannels is the set of notification channels rule actions may target.
var knownChannels = map[string]bool{
	"email":     true,
	"sms":       true,
	"push":      true,
	"webhook":   true,
	"dashboard": true,
}

// Notifier receives notification requests for an alert. Implementations must
// not block; enqueue and return.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *Alert, channel string, recipients []string)
}

// EventPublisher emits alert lifecycle events to the message bus.
type EventPublisher interface {
	PublishAlertEvent(ctx context.Context, eventType string, alert *Alert) error
}

// Request carries everything the monitor knows about a detection that needs
// an alert.
type Request struct {
	SessionID       string         `json:"session_id"`
	ChildID         string         `json:"child_id"`
	ConversationID  string         `json:"conversation_id,omitempty"`
	Severity        Severity       `json:"severity"`
	RiskLevel       string         `json:"risk_level"`
	Confidence      float64        `json:"confidence"`
	Patterns        []string       `json:"patterns,omitempty"`
	Explanation     string         `json:"explanation,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	MessageHash     string         `json:"message_hash,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Title           string         `json:"title,omitempty"`
	Description     string         `json:"description,omitempty"`
}

// Stats is a point-in-time view of the engine's counters.
type Stats struct {
	TotalAlerts        int64          `json:"total_alerts"`
	ActiveAlerts       int            `json:"active_alerts"`
	Escalations        int64          `json:"escalations"`
	Resolved           int64          `json:"resolved"`
	AvgResponseSeconds float64        `json:"avg_response_seconds"`
	BySeverity         map[string]int `json:"by_severity"`
}

// Engine owns the alert lifecycle: creation, rule execution, escalation
// timers, status transitions, and cleanup.
type Engine struct {
	cfg        config.AlertingConfig
	recipients config.RecipientsConfig
	logger     *slog.Logger
	rules      []*Rule

	notifier  Notifier
	publisher EventPublisher
	store     storage.AlertStore
	collector *metrics.Collector

	mu      sync.RWMutex
	alerts  map[string]*Alert
	history []*Alert

	statsMu           sync.Mutex
	totalCreated      int64
	totalEscalated    int64
	totalResolved     int64
	responseTotal     time.Duration
	responseCount     int64

	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches the notification dispatcher.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithPublisher attaches the alert event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithAlertStore attaches the persistence collaborator.
func WithAlertStore(s storage.AlertStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// NewEngine creates an alert engine with the given rule set. A nil or empty
// rule set falls back to DefaultRules.
func NewEngine(cfg config.AlertingConfig, recipients config.RecipientsConfig, rules []*Rule, logger *slog.Logger, opts ...Option) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	e := &Engine{
		cfg:        cfg,
		recipients: recipients,
		logger:     logger,
		rules:      rules,
		alerts:     make(map[string]*Alert),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateAlert registers a new alert, runs the matching rules' actions in
// order, and arms the auto-escalation timer when the alert is still active
// afterwards.
func (e *Engine) CreateAlert(ctx context.Context, req *Request) (*Alert, error) {
	if req.SessionID == "" {
		return nil, fmt.Errorf("alert request missing session_id")
	}
	if _, err := ParseSeverity(string(req.Severity)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	alert := &Alert{
		ID:              uuid.New().String(),
		SessionID:       req.SessionID,
		ChildID:         req.ChildID,
		ConversationID:  req.ConversationID,
		Severity:        req.Severity,
		Status:          StatusActive,
		EscalationLevel: LevelGuardian,
		Title:           req.Title,
		Description:     req.Description,
		RiskLevel:       req.RiskLevel,
		Confidence:      req.Confidence,
		Patterns:        append([]string(nil), req.Patterns...),
		Recommendations: append([]string(nil), req.Recommendations...),
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if alert.Title == "" {
		alert.Title = fmt.Sprintf("%s risk detected for child %s",
			strings.ToUpper(string(req.Severity)), req.ChildID)
	}
	if alert.Description == "" {
		alert.Description = req.Explanation
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, fmt.Errorf("alert engine is stopped")
	}
	e.alerts[alert.ID] = alert
	e.mu.Unlock()

	e.statsMu.Lock()
	e.totalCreated++
	e.statsMu.Unlock()

	if e.collector != nil {
		e.collector.RecordAlertCreated(string(alert.Severity))
		e.collector.SetActiveAlerts(float64(e.activeCount()))
	}

	e.logger.Info("Alert created",
		"alert_id", alert.ID,
		"session_id", alert.SessionID,
		"severity", alert.Severity,
		"risk_level", alert.RiskLevel,
		"confidence", alert.Confidence)

	e.persist(ctx, alert)
	e.publish(ctx, "alert.created", alert)

	for _, rule := range e.rules {
		matched, err := rule.matches(alert)
		if err != nil {
			e.logger.Error("Rule evaluation failed", "rule_id", rule.ID, "alert_id", alert.ID, "error", err)
			continue
		}
		if !matched {
			continue
		}
		e.logger.Debug("Rule matched", "rule_id", rule.ID, "alert_id", alert.ID)
		e.executeActions(ctx, rule, alert)
	}

	alert.mu.Lock()
	if e.cfg.AutoEscalate && alert.Status == StatusActive {
		e.armTimerLocked(alert)
	}
	alert.mu.Unlock()

	return alert.Snapshot(), nil
}

// executeActions runs a matched rule's actions in order. A failing or unknown
// action is logged and skipped; the rest of the rule still runs.
func (e *Engine) executeActions(ctx context.Context, rule *Rule, alert *Alert) {
	for _, action := range rule.Actions {
		switch action.Type {
		case ActionNotify:
			e.notify(ctx, alert, action.Channels)

		case ActionEscalate:
			level, err := ParseEscalationLevel(action.To)
			if err != nil {
				e.logger.Warn("Skipping escalate action", "rule_id", rule.ID, "error", err)
				continue
			}
			reason := action.Reason
			if reason == "" {
				reason = fmt.Sprintf("Escalated by rule %s", rule.ID)
			}
			if err := e.Escalate(ctx, alert.ID, level, reason, "rule:"+rule.ID); err != nil {
				e.logger.Warn("Escalate action failed", "rule_id", rule.ID, "alert_id", alert.ID, "error", err)
			}

		case ActionAssign:
			alert.mu.Lock()
			alert.AssignedTo = action.Assignee
			alert.UpdatedAt = time.Now().UTC()
			alert.mu.Unlock()
			e.logger.Info("Alert assigned", "alert_id", alert.ID, "assignee", action.Assignee)

		case ActionWebhook:
			if action.URL == "" {
				e.logger.Warn("Skipping webhook action with empty url", "rule_id", rule.ID)
				continue
			}
			if e.notifier != nil {
				e.notifier.NotifyAlert(ctx, alert.Snapshot(), "webhook", []string{action.URL})
			}

		default:
			e.logger.Warn("Skipping unknown rule action", "rule_id", rule.ID, "action", action.Type)
		}
	}
}

// notify fans an alert out to the given channels at the alert's current
// escalation level. Unknown channels are skipped and logged.
func (e *Engine) notify(ctx context.Context, alert *Alert, channels []string) {
	if e.notifier == nil {
		return
	}
	snapshot := alert.Snapshot()
	recipients := e.recipientsFor(snapshot.EscalationLevel)
	for _, channel := range channels {
		if !knownChannels[channel] {
			e.logger.Warn("Skipping unknown notification channel", "channel", channel, "alert_id", alert.ID)
			continue
		}
		e.notifier.NotifyAlert(ctx, snapshot, channel, recipients)
	}
}

func (e *Engine) recipientsFor(level EscalationLevel) []string {
	switch level {
	case LevelFamilyAdmin:
		return e.recipients.FamilyAdmin
	case LevelSystemAdmin:
		return e.recipients.SystemAdmin
	case LevelLawEnforcement:
		return e.recipients.LawEnforcement
	case LevelEmergencyServices:
		return e.recipients.EmergencyServices
	default:
		return e.recipients.Guardian
	}
}

// armTimerLocked arms the auto-escalation timer. Caller holds alert.mu and
// has verified the alert is active.
func (e *Engine) armTimerLocked(alert *Alert) {
	id := alert.ID
	alert.timer = time.AfterFunc(e.cfg.EscalationTimeout, func() {
		e.timerFired(id)
	})
}

// timerFired runs when an alert's escalation timeout elapses. Escalation
// happens only if the alert is still active and the timer was not cancelled
// in the meantime; both checks happen under the alert's mutex so a concurrent
// acknowledge or resolve wins cleanly.
func (e *Engine) timerFired(alertID string) {
	e.mu.RLock()
	alert, ok := e.alerts[alertID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	alert.mu.Lock()
	if alert.timer == nil || alert.Status != StatusActive {
		alert.mu.Unlock()
		return
	}
	alert.timer = nil

	next, ok := alert.EscalationLevel.Next()
	if !ok {
		alert.mu.Unlock()
		return
	}
	from := alert.EscalationLevel
	alert.Status = StatusEscalated
	alert.EscalationLevel = next
	alert.UpdatedAt = time.Now().UTC()
	alert.History = append(alert.History, EscalationEntry{
		From:      from,
		To:        next,
		Reason:    fmt.Sprintf("No response within %s", e.cfg.EscalationTimeout),
		Actor:     "system",
		Timestamp: alert.UpdatedAt,
	})
	alert.mu.Unlock()

	e.statsMu.Lock()
	e.totalEscalated++
	e.statsMu.Unlock()

	e.logger.Warn("Alert auto-escalated",
		"alert_id", alertID,
		"from", from,
		"to", next)

	if e.collector != nil {
		e.collector.RecordEscalation(string(next))
	}

	ctx := context.Background()
	e.notify(ctx, alert, []string{"email", "sms", "push", "dashboard"})
	e.persist(ctx, alert)
	e.publish(ctx, "alert.escalated", alert)
}

// Escalate raises an alert to a higher escalation level and marks it
// escalated. The pending auto-escalation timer is cancelled.
func (e *Engine) Escalate(ctx context.Context, alertID string, to EscalationLevel, reason, actor string) error {
	e.mu.RLock()
	alert, ok := e.alerts[alertID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}

	alert.mu.Lock()
	if alert.Status.Terminal() {
		alert.mu.Unlock()
		return fmt.Errorf("cannot escalate alert %s in terminal status %s", alertID, alert.Status)
	}
	if !to.Above(alert.EscalationLevel) {
		alert.mu.Unlock()
		return fmt.Errorf("escalation level %s does not outrank current level %s", to, alert.EscalationLevel)
	}
	if alert.Status != StatusEscalated {
		if !CanTransition(alert.Status, StatusEscalated) {
			alert.mu.Unlock()
			return fmt.Errorf("invalid transition: %s -> %s", alert.Status, StatusEscalated)
		}
		alert.Status = StatusEscalated
	}
	e.cancelTimerLocked(alert)

	from := alert.EscalationLevel
	alert.EscalationLevel = to
	alert.UpdatedAt = time.Now().UTC()
	alert.History = append(alert.History, EscalationEntry{
		From:      from,
		To:        to,
		Reason:    reason,
		Actor:     actor,
		Timestamp: alert.UpdatedAt,
	})
	alert.mu.Unlock()

	e.statsMu.Lock()
	e.totalEscalated++
	e.statsMu.Unlock()

	e.logger.Warn("Alert escalated",
		"alert_id", alertID,
		"from", from,
		"to", to,
		"reason", reason,
		"actor", actor)

	if e.collector != nil {
		e.collector.RecordEscalation(string(to))
	}

	e.notify(ctx, alert, []string{"email", "sms", "push", "dashboard"})
	e.persist(ctx, alert)
	e.publish(ctx, "alert.escalated", alert)
	return nil
}

// UpdateStatus moves an alert through the lifecycle state machine. Any exit
// from the active state cancels the pending escalation timer.
func (e *Engine) UpdateStatus(ctx context.Context, alertID string, to Status, actor string) error {
	e.mu.RLock()
	alert, ok := e.alerts[alertID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}

	alert.mu.Lock()
	from := alert.Status
	if !CanTransition(from, to) {
		alert.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	if from == StatusActive {
		e.cancelTimerLocked(alert)
	}

	now := time.Now().UTC()
	alert.Status = to
	alert.UpdatedAt = now
	switch to {
	case StatusAcknowledged:
		alert.AcknowledgedAt = &now
	case StatusResolved, StatusDismissed, StatusFalsePositive:
		alert.ResolvedAt = &now
	}
	created := alert.CreatedAt
	alert.mu.Unlock()

	if to == StatusResolved {
		latency := now.Sub(created)
		e.statsMu.Lock()
		e.totalResolved++
		e.responseTotal += latency
		e.responseCount++
		e.statsMu.Unlock()
		if e.collector != nil {
			e.collector.ObserveAlertResponseTime(latency.Seconds())
		}
	}

	e.logger.Info("Alert status updated",
		"alert_id", alertID,
		"from", from,
		"to", to,
		"actor", actor)

	if e.collector != nil {
		e.collector.SetActiveAlerts(float64(e.activeCount()))
	}

	e.persist(ctx, alert)
	if to == StatusResolved {
		e.publish(ctx, "alert.resolved", alert)
	}
	return nil
}

// Acknowledge marks an alert acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID, actor string) error {
	return e.UpdateStatus(ctx, alertID, StatusAcknowledged, actor)
}

// Resolve marks an alert resolved.
func (e *Engine) Resolve(ctx context.Context, alertID, actor string) error {
	return e.UpdateStatus(ctx, alertID, StatusResolved, actor)
}

// cancelTimerLocked stops a pending escalation timer. Caller holds alert.mu.
// Setting timer to nil makes a concurrently firing callback a no-op.
func (e *Engine) cancelTimerLocked(alert *Alert) {
	if alert.timer != nil {
		alert.timer.Stop()
		alert.timer = nil
	}
}

// Get returns a snapshot of an alert.
func (e *Engine) Get(alertID string) (*Alert, bool) {
	e.mu.RLock()
	alert, ok := e.alerts[alertID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return alert.Snapshot(), true
}

// List returns snapshots of alerts matching the optional filters, newest
// first.
func (e *Engine) List(status Status, severity Severity, sessionID string, limit int) []*Alert {
	e.mu.RLock()
	candidates := make([]*Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		candidates = append(candidates, alert)
	}
	e.mu.RUnlock()

	out := make([]*Alert, 0, len(candidates))
	for _, alert := range candidates {
		snap := alert.Snapshot()
		if status != "" && snap.Status != status {
			continue
		}
		if severity != "" && snap.Severity != severity {
			continue
		}
		if sessionID != "" && snap.SessionID != sessionID {
			continue
		}
		out = append(out, snap)
	}

	// Newest first.
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (e *Engine) activeCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, alert := range e.alerts {
		alert.mu.Lock()
		if !alert.Status.Terminal() {
			count++
		}
		alert.mu.Unlock()
	}
	return count
}

// CleanupResolved moves terminal alerts past the retention window into the
// bounded history and returns how many were moved. Called from the scheduler.
func (e *Engine) CleanupResolved() int {
	cutoff := time.Now().UTC().Add(-e.cfg.ResolvedRetention)

	e.mu.Lock()
	defer e.mu.Unlock()

	moved := 0
	for id, alert := range e.alerts {
		alert.mu.Lock()
		expired := alert.Status.Terminal() && alert.UpdatedAt.Before(cutoff)
		alert.mu.Unlock()
		if !expired {
			continue
		}
		delete(e.alerts, id)
		e.history = append(e.history, alert)
		moved++
	}

	if e.cfg.HistoryLimit > 0 && len(e.history) > e.cfg.HistoryLimit {
		e.history = e.history[len(e.history)-e.cfg.HistoryLimit:]
	}
	return moved
}

// Stats reports the engine's counters.
func (e *Engine) Stats() Stats {
	bySeverity := make(map[string]int)
	e.mu.RLock()
	for _, alert := range e.alerts {
		alert.mu.Lock()
		bySeverity[string(alert.Severity)]++
		alert.mu.Unlock()
	}
	e.mu.RUnlock()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	avg := 0.0
	if e.responseCount > 0 {
		avg = e.responseTotal.Seconds() / float64(e.responseCount)
	}
	return Stats{
		TotalAlerts:        e.totalCreated,
		ActiveAlerts:       e.activeCount(),
		Escalations:        e.totalEscalated,
		Resolved:           e.totalResolved,
		AvgResponseSeconds: avg,
		BySeverity:         bySeverity,
	}
}

// Stop cancels all outstanding escalation timers and rejects new alerts.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	alerts := make([]*Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		alerts = append(alerts, alert)
	}
	e.mu.Unlock()

	for _, alert := range alerts {
		alert.mu.Lock()
		e.cancelTimerLocked(alert)
		alert.mu.Unlock()
	}
	e.logger.Info("Alert engine stopped", "alerts_tracked", len(alerts))
}

// persist hands a snapshot to the storage collaborator, best effort.
func (e *Engine) persist(ctx context.Context, alert *Alert) {
	if e.store == nil {
		return
	}
	snap := alert.Snapshot()
	record := &storage.AlertRecord{
		AlertID:         snap.ID,
		SessionID:       snap.SessionID,
		ChildID:         snap.ChildID,
		Severity:        string(snap.Severity),
		Status:          string(snap.Status),
		EscalationLevel: string(snap.EscalationLevel),
		Title:           snap.Title,
		Description:     snap.Description,
		CreatedAt:       snap.CreatedAt,
		AcknowledgedAt:  snap.AcknowledgedAt,
		ResolvedAt:      snap.ResolvedAt,
	}
	if len(snap.History) > 0 {
		to := string(snap.History[len(snap.History)-1].To)
		record.EscalatedTo = &to
	}
	if err := e.store.PersistAlert(ctx, record); err != nil {
		e.logger.Error("Failed to persist alert", "alert_id", snap.ID, "error", err)
	}
}

// publish emits a lifecycle event, best effort.
func (e *Engine) publish(ctx context.Context, eventType string, alert *Alert) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishAlertEvent(ctx, eventType, alert.Snapshot()); err != nil {
		e.logger.Error("Failed to publish alert event", "event", eventType, "alert_id", alert.ID, "error", err)
	}
}
