package notify

import (
	"context"
	"time"

	"github.com/platinummonkey/flock/pkg/observability"
)

// EventType names a membership notification
type EventType string

const (
	EventMembershipCreated EventType = "membership.created"
)

// MembershipEvent describes a member joining a community
type MembershipEvent struct {
	ID              string    `json:"id"`
	Type            EventType `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	TenantID        string    `json:"tenantId"`
	CommunityID     string    `json:"communityId"`
	CommunityName   string    `json:"communityName"`
	CommunityType   string    `json:"communityType"`
	MemberID        string    `json:"memberId"`
	Role            string    `json:"role"`
	Recipients      []string  `json:"recipients"`
	LeadersNotified bool      `json:"leadersNotified"`
}

// Notifier receives membership events. Implementations handle their own
// failures; the caller never learns whether delivery worked.
type Notifier interface {
	OnMembershipCreated(ctx context.Context, event MembershipEvent)
}

// Nop discards every event
type Nop struct{}

func (Nop) OnMembershipCreated(context.Context, MembershipEvent) {}

// LogNotifier writes events to the structured log
type LogNotifier struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLogNotifier creates a notifier that logs each event at Info
func NewLogNotifier(logger *observability.Logger, metrics *observability.Metrics) *LogNotifier {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &LogNotifier{logger: logger.WithField("component", "notify"), metrics: metrics}
}

func (n *LogNotifier) OnMembershipCreated(ctx context.Context, event MembershipEvent) {
	n.logger.WithFields(map[string]interface{}{
		"event_type":   string(event.Type),
		"tenant_id":    event.TenantID,
		"community_id": event.CommunityID,
		"member_id":    event.MemberID,
		"recipients":   len(event.Recipients),
	}).Info("Membership notification")
	n.metrics.RecordNotification("log", nil)
}

// Multi fans an event out to several notifiers in order
type Multi []Notifier

func (m Multi) OnMembershipCreated(ctx context.Context, event MembershipEvent) {
	for _, n := range m {
		if n != nil {
			n.OnMembershipCreated(ctx, event)
		}
	}
}
