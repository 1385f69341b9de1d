package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/jonnyallum/safeguardian/internal/config"
	"github.com/jonnyallum/safeguardian/internal/monitor"
)

// inboundMessage is the wire format of the monitored-messages topic.
type inboundMessage struct {
	MessageID      string `json:"message_id"`
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// Consumer reads monitored chat messages and feeds them to the session
// monitor. A single reader preserves per-partition arrival order; per-session
// ordering is then the monitor's per-session queue.
type Consumer struct {
	reader  *kafkago.Reader
	monitor *monitor.Monitor
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer for the inbound messages topic.
func NewConsumer(cfg config.KafkaConfig, mon *monitor.Monitor, logger *slog.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topics.InboundMessages,
		MinBytes:    1,
		MaxBytes:    10e6,
		Logger:      kafkago.LoggerFunc(newKafkaLogger(logger, slog.LevelDebug)),
		ErrorLogger: kafkago.LoggerFunc(newKafkaLogger(logger, slog.LevelError)),
	})
	return &Consumer{reader: reader, monitor: mon, logger: logger}
}

// Start launches the consume loop.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	c.logger.Info("Kafka consumer started", "topic", c.reader.Config().Topic)
}

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("Failed to read message from Kafka", "error", err)
			continue
		}
		c.handle(msg.Value)
	}
}

// decodeInbound maps a topic payload onto a monitor message. The original
// timestamp is kept when present and well-formed; otherwise the monitor
// stamps the message at receive time. Replayed messages keep their original
// spacing in the rate window this way.
func decodeInbound(value []byte) (*monitor.Message, error) {
	var in inboundMessage
	if err := json.Unmarshal(value, &in); err != nil {
		return nil, err
	}

	msg := &monitor.Message{
		ID:             in.MessageID,
		SessionID:      in.SessionID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		RecipientID:    in.RecipientID,
		Content:        in.Content,
	}
	if in.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, in.Timestamp); err == nil {
			msg.Timestamp = ts.UTC()
		}
	}
	return msg, nil
}

func (c *Consumer) handle(value []byte) {
	in, err := decodeInbound(value)
	if err != nil {
		c.logger.Error("Failed to unmarshal inbound message", "error", err)
		return
	}

	err = c.monitor.ProcessMessage(in)
	switch {
	case err == nil:
	case errors.Is(err, monitor.ErrQueueFull):
		// Backpressure: the message is lost to analysis but the consumer
		// keeps up with the partition instead of stalling every session.
		c.logger.Warn("Dropping message, session queue full", "session_id", in.SessionID)
	case errors.Is(err, monitor.ErrSessionNotFound):
		c.logger.Debug("Message for unknown session", "session_id", in.SessionID)
	case errors.Is(err, monitor.ErrSessionNotActive):
		c.logger.Debug("Message for inactive session", "session_id", in.SessionID)
	default:
		c.logger.Error("Failed to process message", "session_id", in.SessionID, "error", err)
	}
}

// Stop cancels the consume loop and closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		return err
	}
	c.logger.Info("Kafka consumer stopped")
	return nil
}

// newKafkaLogger adapts kafka-go's printf-style logging onto slog.
func newKafkaLogger(logger *slog.Logger, level slog.Level) func(string, ...any) {
	return func(msg string, args ...any) {
		logger.Log(context.Background(), level, "kafka: "+fmt.Sprintf(msg, args...))
	}
}
