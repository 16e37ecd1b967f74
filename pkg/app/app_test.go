package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/config"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
	"github.com/platinummonkey/flock/pkg/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.URL = filepath.Join(t.TempDir(), "flock.db")
	return cfg
}

func TestNew_SQLiteWithoutRedis(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Nil(t, a.Redis)
	assert.NotNil(t, a.PermCache)
	assert.NotNil(t, a.Metrics)

	res, err := a.Members.CreateMember(ctx, "T1", members.CreateInput{
		FirstName:  "Ada",
		LastName:   "Obi",
		Email:      "ada@example.com",
		Profession: strPtr("NURSE"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Sync)

	for _, job := range []string{scheduler.JobExpirySweep, scheduler.JobAnalyticsSnapshot, scheduler.JobAuditPurge} {
		assert.NoError(t, a.Scheduler.RunNow(ctx, job), job)
	}

	perms, err := a.Permissions.GetEffectivePermissions(ctx, "T1", "nobody", rbac.EffectiveQuery{})
	require.NoError(t, err)
	assert.Empty(t, perms)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Notify.Mode = config.NotifyModeRedis
	cfg.Observability.MetricsEnabled = false

	a, err := New(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	require.NotNil(t, a.Redis)
	assert.Nil(t, a.Metrics)
	assert.NoError(t, a.Close(context.Background()))
}

func TestNew_WebhookNotify(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notify.Mode = config.NotifyModeWebhook
	cfg.Notify.WebhookURL = "http://127.0.0.1:1/hook"

	a, err := New(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)
	assert.NotNil(t, a.Notifier)
	assert.NoError(t, a.Close(context.Background()))
}

func TestNew_BadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"
	_, err := New(context.Background(), cfg, observability.NopLogger())
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }
