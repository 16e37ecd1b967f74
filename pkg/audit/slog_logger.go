package audit

import (
	"context"

	"github.com/platinummonkey/flock/pkg/observability"
)

// SlogLogger writes audit events as structured application log lines
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates an audit logger on top of logger
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &SlogLogger{logger: logger.WithField("component", "audit")}
}

// Log writes event at info level, or warn when it did not succeed
func (l *SlogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"audit_id":   event.ID,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.TenantID != "" {
		fields["tenant_id"] = event.TenantID
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	message := event.Message
	if message == "" {
		message = "audit event"
	}
	if event.Status != EventStatusSuccess {
		entry.Warn(message)
		return nil
	}
	entry.Info(message)
	return nil
}

// Close is a no-op
func (l *SlogLogger) Close() error {
	return nil
}
