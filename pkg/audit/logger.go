package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

// NewEvent builds a successful event with the tenant, acting user and request
// id taken from ctx
func NewEvent(ctx context.Context, eventType EventType, resourceType ResourceType, resourceID string) *Event {
	return &Event{
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		EventType:    eventType,
		Status:       EventStatusSuccess,
		TenantID:     contextkeys.GetTenantID(ctx),
		UserID:       contextkeys.GetUserID(ctx),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    contextkeys.GetRequestID(ctx),
		Metadata:     make(map[string]interface{}),
	}
}

// WithTenant overrides the tenant taken from the context
func (e *Event) WithTenant(tenantID string) *Event {
	if tenantID != "" {
		e.TenantID = tenantID
	}
	return e
}

// WithMessage sets the human readable message
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithMetadata adds a metadata entry
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithChanges records before/after values
func (e *Event) WithChanges(before, after map[string]interface{}) *Event {
	e.Changes = &ChangeDetails{Before: before, After: after}
	return e
}

// Record logs event and swallows any failure after reporting it on the
// application logger. Audit trail writes never fail the operation they
// describe.
func Record(ctx context.Context, logger Logger, event *Event) {
	if logger == nil || event == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("event_type", string(event.EventType)).
			Warn("Failed to write audit event")
	}
}

// NoOp returns a logger that discards every event
func NoOp() Logger {
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}
