//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/flock/pkg/observability"
)

// TestPostgresMigrations applies the schema to a real PostgreSQL and checks
// that unique violations are recognised
func TestPostgresMigrations(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("flock_test"),
		postgres.WithUsername("flock"),
		postgres.WithPassword("flock"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cm, err := NewConnectionManager(ConnectionConfig{
		Driver:     DriverPostgres,
		PrimaryURL: dsn,
		MaxConns:   5,
		MinConns:   1,
	}, observability.NopLogger())
	require.NoError(t, err)
	defer cm.Close()

	require.NoError(t, Migrate(cm.Primary(), DriverPostgres, observability.NopLogger()))

	now := Now()
	insert := `INSERT INTO permissions (id, module, action, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = cm.Primary().ExecContext(ctx, insert, "p1", "members", "read", true, now, now)
	require.NoError(t, err)
	_, err = cm.Primary().ExecContext(ctx, insert, "p2", "members", "read", true, now, now)
	require.True(t, IsUniqueViolation(err))
}
