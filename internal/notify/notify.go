// Package notify delivers job lifecycle events to a CloudEvents webhook.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"indexctl/pkg/backoff"
	"indexctl/pkg/circuitbreaker"
	"indexctl/pkg/cloudevent"
)

// Defaults
const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	userAgent         = "indexctl"
)

// Config configures a Webhook.
type Config struct {
	URL        string
	SigningKey string        // HMAC key, empty disables signing
	Events     []string      // event types to send, empty sends all
	Timeout    time.Duration // per request (default: 10s)
	MaxRetries int           // retries after the first attempt (default: 3)
}

// Metrics receives delivery measurements.
type Metrics interface {
	RecordNotifyDelivered(ctx context.Context, eventType string, durationSeconds float64)
	RecordNotifyFailed(ctx context.Context, eventType string)
}

// Webhook sends events synchronously. Server errors and network failures
// are retried with exponential backoff; client errors are not. Repeated
// failures open a circuit breaker so a dead endpoint stops slowing the run.
type Webhook struct {
	cfg     Config
	sender  *cloudevent.Sender
	breaker *circuitbreaker.Breaker
	metrics Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

// Option configures a Webhook.
type Option func(*Webhook)

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(w *Webhook) { w.metrics = m }
}

// WithSleep replaces the delay between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Webhook) { w.sleep = fn }
}

// New creates a webhook notifier.
func New(cfg Config, opts ...Option) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	w := &Webhook{
		cfg:     cfg,
		sender:  cloudevent.NewSender(cfg.Timeout, userAgent),
		breaker: circuitbreaker.New(circuitbreaker.Config{Threshold: 3, Cooldown: time.Minute}),
		sleep:   sleepContext,
		logger:  slog.With("component", "notify"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Allowed reports whether eventType passes filter. An empty filter allows
// every event.
func Allowed(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// Notify delivers event. Failures are logged and counted, never returned.
func (w *Webhook) Notify(ctx context.Context, event *cloudevent.CloudEvent) {
	if !Allowed(event.Type, w.cfg.Events) {
		return
	}
	logger := w.logger.With("type", event.Type, "id", event.ID)

	start := time.Now()
	err := w.breaker.Guard(func() error {
		return w.sendWithRetry(ctx, event)
	}, func(err error) bool {
		return !cloudevent.IsClientError(err)
	})
	if err != nil {
		logger.Warn("Event delivery failed", "error", err)
		if w.metrics != nil {
			w.metrics.RecordNotifyFailed(ctx, event.Type)
		}
		return
	}

	logger.Debug("Event delivered")
	if w.metrics != nil {
		w.metrics.RecordNotifyDelivered(ctx, event.Type, time.Since(start).Seconds())
	}
}

func (w *Webhook) sendWithRetry(ctx context.Context, event *cloudevent.CloudEvent) error {
	var lastErr error
	for attempt := range w.cfg.MaxRetries + 1 {
		if attempt > 0 {
			if err := w.sleep(ctx, backoff.Exponential(attempt, nil)); err != nil {
				return err
			}
		}

		lastErr = w.sender.Send(ctx, w.cfg.URL, event, w.cfg.SigningKey)
		if lastErr == nil {
			return nil
		}
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
