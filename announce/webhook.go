package announce

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/shutdown"
)

// WebhookConfig configures a WebhookAnnouncer.
type WebhookConfig struct {
	// URL receives a JSON Event per announced transition.
	URL string

	// Instance and Service identify this process in the payload.
	Instance string
	Service  string

	// States limits which target states are announced. Empty announces all.
	States []shutdown.State

	// Headers are added to every request (e.g. an auth token).
	Headers map[string]string

	// Timeout bounds each attempt.
	// Default: 5 seconds
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt.
	// Default: 2
	RetryMax int

	// Logger receives delivery failures.
	Logger *logging.Logger
}

// WebhookAnnouncer posts transitions to an HTTP endpoint, typically a load
// balancer deregistration hook. It implements shutdown.Observer.
type WebhookAnnouncer struct {
	cfg    WebhookConfig
	client *retryablehttp.Client
	states map[shutdown.State]bool
	logger *logging.Logger
}

// NewWebhookAnnouncer creates a webhook announcer.
func NewWebhookAnnouncer(cfg WebhookConfig) (*WebhookAnnouncer, error) {
	if cfg.URL == "" || cfg.Instance == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = nil // lifecycle logging goes through our logger

	var states map[shutdown.State]bool
	if len(cfg.States) > 0 {
		states = make(map[shutdown.State]bool, len(cfg.States))
		for _, s := range cfg.States {
			states[s] = true
		}
	}

	return &WebhookAnnouncer{
		cfg:    cfg,
		client: client,
		states: states,
		logger: logger.WithComponent("webhook"),
	}, nil
}

// OnTransition implements shutdown.Observer. Delivery runs on the shutdown
// goroutine and is bounded by the retry budget.
func (w *WebhookAnnouncer) OnTransition(t shutdown.Transition) {
	if w.states != nil && !w.states[t.To] {
		return
	}
	budget := w.cfg.Timeout * time.Duration(w.cfg.RetryMax+1)
	ctx, cancel := context.WithTimeout(context.Background(), budget+time.Second)
	defer cancel()

	if err := w.Send(ctx, NewEvent(w.cfg.Instance, w.cfg.Service, t)); err != nil {
		w.logger.Warn("webhook_failed", logging.Fields{
			"url":   w.cfg.URL,
			"to":    t.To.String(),
			"error": err.Error(),
		})
	}
}

// Send posts one event.
func (w *WebhookAnnouncer) Send(ctx context.Context, e *Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
