package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filagent/htncore/taskgraph"
)

func completedTask(t *testing.T, result any) *taskgraph.Task {
	t.Helper()
	task := taskgraph.NewTask("t", "noop", nil, nil, taskgraph.PriorityNormal)
	task.SetResult(result)
	task.UpdateStatus(taskgraph.StatusCompleted, "")
	return task
}

func TestBasicLevelFlagsNilResult(t *testing.T) {
	v := New(LevelBasic)
	task := taskgraph.NewTask("t", "noop", nil, nil, taskgraph.PriorityNormal)
	task.UpdateStatus(taskgraph.StatusCompleted, "")

	result := v.VerifyTask(task, LevelBasic, nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors, "task result is nil")
}

func TestBasicLevelPassesHealthyTask(t *testing.T) {
	v := New(LevelBasic)
	task := completedTask(t, "ok")

	result := v.VerifyTask(task, LevelBasic, nil)
	assert.True(t, result.Passed)
	assert.Equal(t, 1.0, result.ConfidenceScore)
}

func TestStrictLevelChecksSchema(t *testing.T) {
	v := New(LevelStrict)
	task := completedTask(t, map[string]any{"name": "alice"})

	schema := &Schema{Fields: map[string]SchemaField{"name": {Kind: "str"}}}
	result := v.VerifyTask(task, LevelStrict, schema)
	assert.True(t, result.Passed)

	badSchema := &Schema{Fields: map[string]SchemaField{"age": {Kind: "int"}}}
	result2 := v.VerifyTask(task, LevelStrict, badSchema)
	assert.False(t, result2.Passed)
}

func TestStrictLevelDetectsTemporalIncoherence(t *testing.T) {
	v := New(LevelStrict)
	task := taskgraph.NewTask("t", "noop", nil, nil, taskgraph.PriorityNormal)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	task.Metadata["created_at"] = future
	task.Metadata["updated_at"] = future
	task.SetResult("x")
	task.UpdateStatus(taskgraph.StatusCompleted, "")

	result := v.VerifyTask(task, LevelStrict, nil)
	assert.False(t, result.Checks["temporal_coherent"])
	assert.Contains(t, result.Warnings, "temporal metadata inconsistent")
}

func TestParanoidLevelRunsCustomVerifier(t *testing.T) {
	v := New(LevelParanoid)
	v.RegisterCustomVerifier("noop", func(task *taskgraph.Task) *Result {
		return &Result{Passed: false, Errors: []string{"custom check failed"}}
	})
	task := completedTask(t, "ok")

	result := v.VerifyTask(task, LevelParanoid, nil)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors, "custom check failed")
}

func TestVerifyGraphResultsOnlyChecksCompletedTasks(t *testing.T) {
	g := taskgraph.New()
	done := completedTask(t, "ok")
	require.NoError(t, g.AddTask(done))
	pending := taskgraph.NewTask("p", "noop", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(pending))

	v := New(LevelBasic)
	results := v.VerifyGraphResults(g, LevelBasic)
	assert.Len(t, results, 1)
	assert.Contains(t, results, done.ID)
}

func TestSelfCheckReportsCoherentStats(t *testing.T) {
	v := New(LevelBasic)
	v.VerifyTask(completedTask(t, "ok"), LevelBasic, nil)

	self := v.SelfCheck()
	assert.True(t, self.Passed)
	assert.True(t, self.Checks["stats_coherent"])
	assert.Equal(t, int64(1), self.Stats["total_verifications"])
}
