package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/jonnyallum/safeguardian/internal/config"
)

// EmailDispatcher delivers email intents through SendGrid.
type EmailDispatcher struct {
	client   *sendgrid.Client
	fromName string
	fromAddr string
}

// NewEmailDispatcher creates a SendGrid-backed email dispatcher.
func NewEmailDispatcher(cfg config.EmailConfig) *EmailDispatcher {
	return &EmailDispatcher{
		client:   sendgrid.NewSendClient(cfg.SendGridAPIKey),
		fromName: cfg.FromName,
		fromAddr: cfg.FromAddress,
	}
}

func (d *EmailDispatcher) Channel() Channel { return ChannelEmail }

func (d *EmailDispatcher) Send(ctx context.Context, intent *Intent) error {
	from := mail.NewEmail(d.fromName, d.fromAddr)
	to := mail.NewEmail("", intent.Recipient)
	message := mail.NewSingleEmail(from, intent.Subject, to, intent.Body, intent.Body)

	resp, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}

// SMSDispatcher delivers SMS intents through Twilio.
type SMSDispatcher struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewSMSDispatcher creates a Twilio-backed SMS dispatcher.
func NewSMSDispatcher(cfg config.SMSConfig) *SMSDispatcher {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioSID,
		Password: cfg.TwilioToken,
	})
	return &SMSDispatcher{client: client, fromNumber: cfg.FromNumber}
}

func (d *SMSDispatcher) Channel() Channel { return ChannelSMS }

func (d *SMSDispatcher) Send(_ context.Context, intent *Intent) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(intent.Recipient)
	params.SetFrom(d.fromNumber)
	params.SetBody(intent.Body)

	if _, err := d.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio send failed: %w", err)
	}
	return nil
}

// WebhookDispatcher POSTs intents as JSON to the recipient URL.
type WebhookDispatcher struct {
	client  *http.Client
	headers map[string]string
}

// NewWebhookDispatcher creates an HTTP webhook dispatcher.
func NewWebhookDispatcher(cfg config.WebhookConfig) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: timeout},
		headers: cfg.Headers,
	}
}

func (d *WebhookDispatcher) Channel() Channel { return ChannelWebhook }

func (d *WebhookDispatcher) Send(ctx context.Context, intent *Intent) error {
	payload, err := json.Marshal(map[string]any{
		"intent_id": intent.ID,
		"alert_id":  intent.AlertID,
		"subject":   intent.Subject,
		"body":      intent.Body,
		"sent_at":   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, intent.Recipient, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Broadcaster pushes payloads to connected realtime clients.
type Broadcaster interface {
	BroadcastAlert(payload any)
}

// BroadcastDispatcher serves the push and dashboard channels through the
// realtime hub.
type BroadcastDispatcher struct {
	channel Channel
	hub     Broadcaster
}

// NewBroadcastDispatcher creates a hub-backed dispatcher for push or
// dashboard.
func NewBroadcastDispatcher(channel Channel, hub Broadcaster) *BroadcastDispatcher {
	return &BroadcastDispatcher{channel: channel, hub: hub}
}

func (d *BroadcastDispatcher) Channel() Channel { return d.channel }

func (d *BroadcastDispatcher) Send(_ context.Context, intent *Intent) error {
	d.hub.BroadcastAlert(map[string]any{
		"type":      "alert_notification",
		"channel":   string(d.channel),
		"alert_id":  intent.AlertID,
		"recipient": intent.Recipient,
		"subject":   intent.Subject,
		"body":      intent.Body,
		"sent_at":   intent.CreatedAt,
	})
	return nil
}
