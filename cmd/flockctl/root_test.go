package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/rbac"
)

// runCmd executes a fresh root command against a throwaway SQLite database
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLOCK_CONFIG_FILE", "")
	t.Setenv("FLOCK_REDIS_URL", "")
	t.Setenv("FLOCK_DB_DRIVER", "sqlite3")
	t.Setenv("FLOCK_DB_URL", filepath.Join(t.TempDir(), "flock.db"))
}

func TestMigrate(t *testing.T) {
	setupEnv(t)

	_, err := runCmd(t, "migrate", "up")
	require.NoError(t, err)

	out, err := runCmd(t, "migrate", "status", "-o", "json")
	require.NoError(t, err)

	var status map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Greater(t, status["version"], int64(0))
}

func TestSyncMember_UnknownMember(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "sync-member", "--tenant", "T1", "--member", "missing", "--profession", "NURSE", "-o", "json")
	require.NoError(t, err)

	var steps []members.SyncStep
	require.NoError(t, json.Unmarshal([]byte(out), &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, "member_lookup", steps[0].Step)
	assert.False(t, steps[0].Success)
}

func TestSyncMember_NoChangesIsSkipped(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "sync-member", "--tenant", "T1", "--member", "m1")
	require.NoError(t, err)
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "sync")
}

func TestSyncMember_RequiresFlags(t *testing.T) {
	setupEnv(t)

	_, err := runCmd(t, "sync-member", "--tenant", "T1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member")
}

func TestPermissions_Empty(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "permissions", "--tenant", "T1", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "no effective permissions")

	out, err = runCmd(t, "permissions", "--tenant", "T1", "--user", "u1", "-o", "json")
	require.NoError(t, err)
	var perms []rbac.EffectivePermission
	require.NoError(t, json.Unmarshal([]byte(out), &perms))
	assert.Empty(t, perms)
}

func TestSweepExpired(t *testing.T) {
	setupEnv(t)

	out, err := runCmd(t, "sweep-expired", "-o", "json")
	require.NoError(t, err)

	var res rbac.SweepResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, rbac.SweepResult{}, res)
}

func TestInvalidOutputFormat(t *testing.T) {
	setupEnv(t)

	_, err := runCmd(t, "sweep-expired", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}
