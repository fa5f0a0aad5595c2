package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogCheckProgress logs the progress of a check stage
func LogCheckProgress(l Logger, checkID, stage string, percent int) {
	l.WithFields(map[string]interface{}{
		"check_id": checkID,
		"stage":    stage,
		"progress": fmt.Sprintf("%d%%", percent),
	}).Info("Check progress")
}

// LogRateLimit logs rate limiting events
func LogRateLimit(l Logger, endpoint string, attempt int, backoff time.Duration) {
	l.WithFields(map[string]interface{}{
		"endpoint": endpoint,
		"attempt":  attempt,
		"backoff":  backoff,
		"action":   "rate_limited",
	}).Warn("Rate limit reached, backing off")
}

// LogSessionEvent logs a session lifecycle transition
func LogSessionEvent(l Logger, event, state string, err error) {
	entry := l.WithFields(map[string]interface{}{
		"event": event,
		"state": state,
	})
	if err != nil {
		entry.WithError(err).Warn("Session event")
		return
	}
	entry.Info("Session event")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	entry := l.WithField("component", component)
	if len(config) > 0 {
		entry = entry.WithFields(config)
	}
	entry.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	l.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) Fatal(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger                    { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) FatalWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) GetZerolog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
