package scheduler

import (
	"context"
	"time"

	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
)

// Job names
const (
	JobExpirySweep       = "rbac_expiry_sweep"
	JobAnalyticsSnapshot = "community_analytics_snapshot"
	JobAuditPurge        = "audit_purge"
)

// Sweeper deactivates expired RBAC rows. *rbac.Manager implements it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (rbac.SweepResult, error)
}

// Purger deletes audit events older than a cutoff. *audit.DBLogger
// implements it.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// ExpirySweep returns a job that deactivates expired assignments, grants
// and overrides
func ExpirySweep(sweeper Sweeper) JobFunc {
	return func(ctx context.Context) error {
		_, err := sweeper.SweepExpired(ctx)
		return err
	}
}

// AnalyticsSnapshot returns a job that logs the core community analytics
// of every tenant. A failing tenant is logged and skipped.
func AnalyticsSnapshot(analytics *community.Analytics, logger *observability.Logger) JobFunc {
	return func(ctx context.Context) error {
		tenants, err := analytics.Tenants(ctx)
		if err != nil {
			return err
		}
		for _, tenantID := range tenants {
			log := logger.WithField("tenant_id", tenantID)
			core, err := analytics.Core(ctx, tenantID, nil)
			if err != nil {
				log.WithError(err).Warn("Community analytics snapshot failed")
				continue
			}
			log.WithFields(map[string]interface{}{
				"total":    core.Total,
				"active":   core.Active,
				"archived": core.Archived,
				"types":    core.TypeBreakdown,
			}).Info("Community analytics snapshot")
		}
		return nil
	}
}

// AuditPurge returns a job that deletes audit events older than retention.
// A non-positive retention keeps every event.
func AuditPurge(purger Purger, retention time.Duration, logger *observability.Logger) JobFunc {
	return func(ctx context.Context) error {
		if retention <= 0 {
			return nil
		}
		cutoff := time.Now().UTC().Add(-retention)
		n, err := purger.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.WithFields(map[string]interface{}{
				"removed": n,
				"before":  cutoff.Format(time.RFC3339),
			}).Info("Purged audit events")
		}
		return nil
	}
}
