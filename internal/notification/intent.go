package notification

import (
	"errors"
	"time"
)

// Channel identifies a delivery mechanism.
type Channel string

const (
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelPush      Channel = "push"
	ChannelWebhook   Channel = "webhook"
	ChannelDashboard Channel = "dashboard"
)

// ErrQueueFull is returned when the intent queue cannot accept more work.
// The intent is recorded as failed, never silently dropped.
var ErrQueueFull = errors.New("notification queue full")

// ErrStopped is returned when the manager has shut down.
var ErrStopped = errors.New("notification manager stopped")

// Intent is one rendered notification awaiting delivery. Subject and Body
// are rendered at enqueue time so a slow template never blocks a worker.
type Intent struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome records the result of one delivery attempt, at most one per intent.
type Outcome struct {
	IntentID    string    `json:"intent_id"`
	AlertID     string    `json:"alert_id"`
	Channel     Channel   `json:"channel"`
	Recipient   string    `json:"recipient"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
