package policyguard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filagent/htncore/herrors"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestMissingConfigYieldsDefaults(t *testing.T) {
	g, err := New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	snap := g.Snapshot()
	assert.Equal(t, 50, snap.MaxTasksPerPlan)
	assert.Equal(t, 300, snap.MaxExecutionTimeSec)
}

func TestDenyListTakesPrecedenceOverAllowList(t *testing.T) {
	path := writePolicy(t, `
htn_policies:
  allowed_actions: ["read_file", "delete_file"]
  blocked_actions: ["delete_file"]
`)
	g, err := New(path)
	require.NoError(t, err)

	err = g.ValidateAction("delete_file")
	require.Error(t, err)
	kind, _ := herrors.KindOf(err)
	assert.Equal(t, herrors.KindActionDenied, kind)
}

func TestAllowListRejectsUnlistedAction(t *testing.T) {
	path := writePolicy(t, `
htn_policies:
  allowed_actions: ["read_file"]
`)
	g, err := New(path)
	require.NoError(t, err)

	err = g.ValidateAction("write_file")
	require.Error(t, err)
	kind, _ := herrors.KindOf(err)
	assert.Equal(t, herrors.KindActionNotAllowed, kind)
}

func TestGenericExecuteAlwaysAllowed(t *testing.T) {
	path := writePolicy(t, `
htn_policies:
  allowed_actions: ["read_file"]
`)
	g, err := New(path)
	require.NoError(t, err)
	assert.True(t, g.IsActionAllowed("generic_execute"))
}

func TestValidatePlanTooLarge(t *testing.T) {
	path := writePolicy(t, `
htn_policies:
  max_tasks_per_plan: 2
`)
	g, err := New(path)
	require.NoError(t, err)

	err = g.ValidatePlan(3, []string{"a", "b", "c"})
	require.Error(t, err)
	kind, _ := herrors.KindOf(err)
	assert.Equal(t, herrors.KindPlanTooLarge, kind)
}
