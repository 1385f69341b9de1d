package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/metrics"
)

const outcomeHistoryLimit = 1000

// Dispatcher delivers intents for one channel.
type Dispatcher interface {
	Channel() Channel
	Send(ctx context.Context, intent *Intent) error
}

// ManagerStats is a point-in-time view of the dispatch counters.
type ManagerStats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	QueueLen  int   `json:"queue_len"`
}

// Manager renders alerts into intents and dispatches them through a bounded
// queue and a worker pool. Enqueue never blocks; a full queue records the
// intent as failed. Stop drains already-queued intents before returning.
type Manager struct {
	cfg       config.NotificationsConfig
	logger    *slog.Logger
	collector *metrics.Collector

	queue       chan *Intent
	dispatchers map[Channel]Dispatcher
	limiters    map[Channel]*rate.Limiter

	mu      sync.RWMutex
	stopped bool

	wg sync.WaitGroup

	outcomesMu sync.Mutex
	outcomes   []Outcome

	statsMu   sync.Mutex
	queued    int64
	delivered int64
	failed    int64
	dropped   int64
}

// NewManager creates a dispatch manager. Register dispatchers, then Start.
func NewManager(cfg config.NotificationsConfig, logger *slog.Logger, collector *metrics.Collector) *Manager {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Manager{
		cfg:         cfg,
		logger:      logger,
		collector:   collector,
		queue:       make(chan *Intent, queueSize),
		dispatchers: make(map[Channel]Dispatcher),
		limiters:    make(map[Channel]*rate.Limiter),
	}
}

// Register adds a channel dispatcher with a per-minute rate limit. Zero or
// negative limits mean unlimited.
func (m *Manager) Register(d Dispatcher, perMinute int) {
	m.dispatchers[d.Channel()] = d
	if perMinute > 0 {
		m.limiters[d.Channel()] = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
}

// Start launches the worker pool.
func (m *Manager) Start() {
	workers := m.cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.logger.Info("Notification dispatch started",
		"workers", workers,
		"queue_size", cap(m.queue),
		"channels", len(m.dispatchers))
}

// NotifyAlert renders the alert for the channel and enqueues one intent per
// recipient. It never blocks; failures are recorded and logged.
func (m *Manager) NotifyAlert(_ context.Context, alert *alerting.Alert, channel string, recipients []string) {
	if len(recipients) == 0 {
		m.logger.Debug("No recipients configured for channel", "channel", channel, "alert_id", alert.ID)
		return
	}

	var subject, body string
	switch Channel(channel) {
	case ChannelEmail:
		subject, body = renderEmail(alert)
	case ChannelSMS:
		body = renderSMS(alert)
	case ChannelPush, ChannelDashboard:
		subject = alert.Title
		body = alert.Description
	case ChannelWebhook:
		subject = alert.Title
		body = alert.Description
	default:
		m.logger.Warn("Unknown notification channel", "channel", channel, "alert_id", alert.ID)
		return
	}

	for _, recipient := range recipients {
		intent := &Intent{
			ID:        uuid.New().String(),
			AlertID:   alert.ID,
			Channel:   Channel(channel),
			Recipient: recipient,
			Subject:   subject,
			Body:      body,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.Enqueue(intent); err != nil {
			m.logger.Error("Failed to enqueue notification",
				"alert_id", alert.ID,
				"channel", channel,
				"recipient", recipient,
				"error", err)
		}
	}
}

// Enqueue adds an intent to the queue without blocking. On a full queue or
// after Stop the intent is recorded as a failed outcome and an error is
// returned.
func (m *Manager) Enqueue(intent *Intent) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		m.recordOutcome(intent, ErrStopped)
		return ErrStopped
	}

	select {
	case m.queue <- intent:
		m.statsMu.Lock()
		m.queued++
		m.statsMu.Unlock()
		if m.collector != nil {
			m.collector.SetNotificationQueueDepth(float64(len(m.queue)))
		}
		return nil
	default:
		m.statsMu.Lock()
		m.dropped++
		m.statsMu.Unlock()
		m.recordOutcome(intent, ErrQueueFull)
		return ErrQueueFull
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for intent := range m.queue {
		m.deliver(intent)
		if m.collector != nil {
			m.collector.SetNotificationQueueDepth(float64(len(m.queue)))
		}
	}
}

// deliver attempts the intent exactly once on its channel's dispatcher.
func (m *Manager) deliver(intent *Intent) {
	dispatcher, ok := m.dispatchers[intent.Channel]
	if !ok {
		m.logger.Warn("No dispatcher registered for channel",
			"channel", intent.Channel,
			"intent_id", intent.ID)
		m.recordOutcome(intent, fmt.Errorf("no dispatcher for channel %s", intent.Channel))
		return
	}

	ctx := context.Background()
	if limiter, ok := m.limiters[intent.Channel]; ok {
		if err := limiter.Wait(ctx); err != nil {
			m.recordOutcome(intent, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := dispatcher.Send(ctx, intent)
	cancel()

	m.recordOutcome(intent, err)
	if err != nil {
		m.logger.Error("Notification delivery failed",
			"intent_id", intent.ID,
			"alert_id", intent.AlertID,
			"channel", intent.Channel,
			"recipient", intent.Recipient,
			"error", err)
		return
	}
	m.logger.Debug("Notification delivered",
		"intent_id", intent.ID,
		"channel", intent.Channel,
		"recipient", intent.Recipient)
}

func (m *Manager) recordOutcome(intent *Intent, err error) {
	outcome := Outcome{
		IntentID:    intent.ID,
		AlertID:     intent.AlertID,
		Channel:     intent.Channel,
		Recipient:   intent.Recipient,
		Delivered:   err == nil,
		CompletedAt: time.Now().UTC(),
	}
	result := "delivered"
	if err != nil {
		outcome.Error = err.Error()
		result = "failed"
	}

	m.statsMu.Lock()
	if err == nil {
		m.delivered++
	} else {
		m.failed++
	}
	m.statsMu.Unlock()

	if m.collector != nil {
		m.collector.RecordNotification(string(intent.Channel), result)
	}

	m.outcomesMu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	if len(m.outcomes) > outcomeHistoryLimit {
		m.outcomes = m.outcomes[len(m.outcomes)-outcomeHistoryLimit:]
	}
	m.outcomesMu.Unlock()
}

// Outcomes returns a copy of the recent delivery outcomes, oldest first.
func (m *Manager) Outcomes() []Outcome {
	m.outcomesMu.Lock()
	defer m.outcomesMu.Unlock()
	out := make([]Outcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// Stats reports the dispatch counters.
func (m *Manager) Stats() ManagerStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return ManagerStats{
		Queued:    m.queued,
		Delivered: m.delivered,
		Failed:    m.failed,
		Dropped:   m.dropped,
		QueueLen:  len(m.queue),
	}
}

// Stop rejects new intents, drains already-queued ones, and waits for the
// workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()

	m.statsMu.Lock()
	delivered, failed := m.delivered, m.failed
	m.statsMu.Unlock()
	m.logger.Info("Notification dispatch stopped", "delivered", delivered, "failed", failed)
}
