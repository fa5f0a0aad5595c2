// Package notify delivers check completion events and operator alerts.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"igmutual/pkg/config"
	errs "igmutual/pkg/errors"
	"igmutual/pkg/logger"
	"igmutual/pkg/models"
	"igmutual/pkg/retry"
)

// CompletionEvent is emitted once per check after its outcome is persisted
type CompletionEvent struct {
	CheckID      string             `json:"check_id"`
	Platform     string             `json:"platform"`
	Target       string             `json:"target"`
	Status       models.CheckStatus `json:"status"`
	Counts       models.Counts      `json:"counts"`
	CacheUsed    bool               `json:"cache_used"`
	ErrorReason  string             `json:"error_reason,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	ResultsRef   string             `json:"results_ref,omitempty"`
	FinishedAt   time.Time          `json:"finished_at"`
}

// Notifier delivers completion events
type Notifier interface {
	Notify(ctx context.Context, event CompletionEvent) error
}

// Alerter delivers operator alerts
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// LogNotifier writes events and alerts to the log
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a log-backed notifier and alerter
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithField("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, event CompletionEvent) error {
	entry := n.logger.WithFields(map[string]interface{}{
		"check_id":   event.CheckID,
		"target":     event.Target,
		"status":     string(event.Status),
		"non_mutual": event.Counts.NonMutual,
		"cache_used": event.CacheUsed,
	})
	if event.Status == models.CheckFailed {
		entry.WithField("reason", event.ErrorReason).Warn("Check failed")
		return nil
	}
	entry.Info("Check completed")
	return nil
}

// Alert logs at error level so alerts stand out
func (n *LogNotifier) Alert(ctx context.Context, subject, message string) error {
	n.logger.WithFields(map[string]interface{}{
		"alert":   subject,
		"details": message,
	}).Error("ADMIN ALERT")
	return nil
}

// WebhookNotifier POSTs JSON to a URL, retrying transient failures
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  *retry.Config
	logger logger.Logger
}

// NewWebhookNotifier creates a webhook notifier for url
func NewWebhookNotifier(url string, cfg config.NotificationConfig, log logger.Logger) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	l := log.WithFields(map[string]interface{}{"component": "webhook", "url": url})
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		retry: &retry.Config{
			MaxAttempts: attempts,
			Backoff: &retry.ExponentialBackoff{
				BaseDelay:    500 * time.Millisecond,
				MaxDelay:     10 * time.Second,
				Multiplier:   2,
				JitterFactor: 0.1,
			},
			Logger: l,
		},
		logger: l,
	}
}

// SetHTTPClient replaces the HTTP client
func (w *WebhookNotifier) SetHTTPClient(c *http.Client) {
	w.client = c
}

// SetBackoff replaces the retry backoff
func (w *WebhookNotifier) SetBackoff(b retry.BackoffStrategy) {
	w.retry.Backoff = b
}

func (w *WebhookNotifier) Notify(ctx context.Context, event CompletionEvent) error {
	return w.post(ctx, event)
}

type alertPayload struct {
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (w *WebhookNotifier) Alert(ctx context.Context, subject, message string) error {
	return w.post(ctx, alertPayload{Subject: subject, Message: message, SentAt: time.Now().UTC()})
}

func (w *WebhookNotifier) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Wrap(err, errs.ReasonTransientFailure, "webhook request failed")
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return errs.New(errs.ReasonRateLimited, errs.ErrorTypeRateLimit, resp.StatusCode, "webhook rate limited")
		case errs.IsRetryableStatusCode(resp.StatusCode):
			return errs.New(errs.ReasonTransientFailure, errs.ErrorTypeServerError, resp.StatusCode, "webhook server error")
		default:
			return fmt.Errorf("webhook rejected payload with status %d", resp.StatusCode)
		}
	}, w.retry)
	if err != nil {
		w.logger.WithError(err).Warn("Webhook delivery failed")
		return err
	}
	return nil
}

// Multi fans out to several notifiers and alerters, joining their errors
type Multi struct {
	Notifiers []Notifier
	Alerters  []Alerter
}

func (m *Multi) Notify(ctx context.Context, event CompletionEvent) error {
	var errList []error
	for _, n := range m.Notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (m *Multi) Alert(ctx context.Context, subject, message string) error {
	var errList []error
	for _, a := range m.Alerters {
		if err := a.Alert(ctx, subject, message); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// FromConfig builds the notifier and alerter described by cfg. The log
// notifier is always included.
func FromConfig(cfg config.NotificationConfig, log logger.Logger) *Multi {
	ln := NewLogNotifier(log)
	m := &Multi{Notifiers: []Notifier{ln}, Alerters: []Alerter{ln}}
	if cfg.WebhookURL != "" {
		m.Notifiers = append(m.Notifiers, NewWebhookNotifier(cfg.WebhookURL, cfg, log))
	}
	if cfg.AlertWebhookURL != "" {
		m.Alerters = append(m.Alerters, NewWebhookNotifier(cfg.AlertWebhookURL, cfg, log))
	}
	return m
}
