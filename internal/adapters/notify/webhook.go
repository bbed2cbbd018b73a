// Package notify posts lifecycle events to the parent application.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	EventSessionStarted = "session_started"
	EventSessionEnded   = "session_ended"
	EventGiftProcessed  = "gift_processed"
	EventStreamEnded    = "stream_ended"

	source = "webrtc-service"
)

type Config struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

type payload struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Webhook delivers events with a bearer secret. With no URL configured it
// only logs.
type Webhook struct {
	http *resty.Client
	url  string
	now  func() time.Time
}

func NewWebhook(cfg Config) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Source", source)
	if cfg.Secret != "" {
		http.SetAuthToken(cfg.Secret)
	}
	return &Webhook{http: http, url: cfg.WebhookURL, now: time.Now}
}

func (w *Webhook) Enabled() bool { return w.url != "" }

// Notify sends one event. A failed delivery is returned and not retried.
func (w *Webhook) Notify(ctx context.Context, event string, data any) error {
	if !w.Enabled() {
		log.Debug().Str("module", "notify").Str("event", event).Msg("webhook url not configured")
		return nil
	}
	resp, err := w.http.R().
		SetContext(ctx).
		SetBody(payload{
			Event:     event,
			Data:      data,
			Timestamp: w.now().UTC().Format(time.RFC3339Nano),
			Source:    source,
		}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify %s: %w", event, err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify %s: status %d", event, resp.StatusCode())
	}
	log.Info().Str("module", "notify").Str("event", event).Msg("parent app notified")
	return nil
}
