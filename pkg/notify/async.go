package notify

import (
	"context"

	"github.com/platinummonkey/flock/pkg/async"
	"github.com/platinummonkey/flock/pkg/observability"
)

// AsyncNotifier hands events to a worker pool so the caller never waits on
// delivery. Events are dropped, with a warning, while the queue is full.
type AsyncNotifier struct {
	next   Notifier
	pool   *async.WorkerPool
	logger *observability.Logger
}

// NewAsyncNotifier dispatches to next on pool
func NewAsyncNotifier(next Notifier, pool *async.WorkerPool, logger *observability.Logger) *AsyncNotifier {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &AsyncNotifier{next: next, pool: pool, logger: logger.WithField("component", "notify")}
}

func (n *AsyncNotifier) OnMembershipCreated(ctx context.Context, event MembershipEvent) {
	err := n.pool.TrySubmit(func(taskCtx context.Context) error {
		n.next.OnMembershipCreated(taskCtx, event)
		return nil
	})
	if err != nil {
		n.logger.WithError(err).WithField("community_id", event.CommunityID).Warn("Dropped membership notification")
	}
}
