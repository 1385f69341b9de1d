package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/jonnyallum/safeguardian/internal/alerting"
	"github.com/jonnyallum/safeguardian/internal/config"
)

// alertEvent is the wire format of the alert lifecycle topics.
type alertEvent struct {
	EventType       string    `json:"event_type"`
	AlertID         string    `json:"alert_id"`
	SessionID       string    `json:"session_id"`
	ChildID         string    `json:"child_id"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	EscalationLevel string    `json:"escalation_level"`
	RiskLevel       string    `json:"risk_level"`
	Confidence      float64   `json:"confidence"`
	Patterns        []string  `json:"patterns,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Producer emits alert lifecycle events, one topic per event type. It
// implements the alerting EventPublisher.
type Producer struct {
	writers map[string]*kafkago.Writer
	logger  *slog.Logger
}

// NewProducer creates writers for the alert lifecycle topics.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	newWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:        kafkago.TCP(cfg.Brokers...),
			Topic:       topic,
			Balancer:    &kafkago.LeastBytes{},
			Logger:      kafkago.LoggerFunc(newKafkaLogger(logger, slog.LevelDebug)),
			ErrorLogger: kafkago.LoggerFunc(newKafkaLogger(logger, slog.LevelError)),
		}
	}
	return &Producer{
		writers: map[string]*kafkago.Writer{
			"alert.created":   newWriter(cfg.Topics.AlertCreated),
			"alert.escalated": newWriter(cfg.Topics.AlertEscalated),
			"alert.resolved":  newWriter(cfg.Topics.AlertResolved),
		},
		logger: logger,
	}
}

// PublishAlertEvent writes one alert event to the topic for its type. Events
// are keyed by session so consumers see a session's alerts in order.
func (p *Producer) PublishAlertEvent(ctx context.Context, eventType string, alert *alerting.Alert) error {
	writer, ok := p.writers[eventType]
	if !ok {
		return fmt.Errorf("no topic configured for event type %q", eventType)
	}

	event := alertEvent{
		EventType:       eventType,
		AlertID:         alert.ID,
		SessionID:       alert.SessionID,
		ChildID:         alert.ChildID,
		Severity:        string(alert.Severity),
		Status:          string(alert.Status),
		EscalationLevel: string(alert.EscalationLevel),
		RiskLevel:       alert.RiskLevel,
		Confidence:      alert.Confidence,
		Patterns:        alert.Patterns,
		Timestamp:       time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	err = writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(alert.SessionID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to write alert event: %w", err)
	}
	return nil
}

// Close flushes and closes all topic writers.
func (p *Producer) Close() error {
	var firstErr error
	for eventType, writer := range p.writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close writer for %s: %w", eventType, err)
		}
	}
	p.logger.Info("Kafka producer closed")
	return firstErr
}
