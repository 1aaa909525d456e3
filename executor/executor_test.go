package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filagent/htncore/policyguard"
	"github.com/filagent/htncore/taskgraph"
)

func buildChain(t *testing.T) *taskgraph.Graph {
	t.Helper()
	g := taskgraph.New()
	a := taskgraph.NewTask("a", "succeed", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(a))
	b := taskgraph.NewTask("b", "succeed", nil, []string{a.ID}, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(b))
	return g
}

func succeedingRegistry() *Registry {
	r := NewRegistry()
	r.Register("succeed", func(ctx context.Context, params map[string]any) (any, error) {
		return "ok", nil
	})
	return r
}

func TestExecuteSequentialRunsInDependencyOrder(t *testing.T) {
	g := buildChain(t)
	e := New(succeedingRegistry(), 2, time.Second)

	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.CompletedTasks)
	assert.Equal(t, 0, result.FailedTasks)
}

func TestExecuteParallelCompletesAllLevels(t *testing.T) {
	g := taskgraph.New()
	var ids []string
	for i := 0; i < 5; i++ {
		task := taskgraph.NewTask("t", "succeed", nil, nil, taskgraph.PriorityNormal)
		require.NoError(t, g.AddTask(task))
		ids = append(ids, task.ID)
	}
	e := New(succeedingRegistry(), 3, time.Second)

	result, err := e.Execute(context.Background(), g, StrategyParallel, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, result.CompletedTasks)
	for _, id := range ids {
		assert.Contains(t, result.TaskResults, id)
	}
}

func TestFailurePropagatesToDependents(t *testing.T) {
	g := taskgraph.New()
	registry := NewRegistry()
	registry.Register("fail", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	registry.Register("succeed", func(ctx context.Context, params map[string]any) (any, error) {
		return "ok", nil
	})

	root := taskgraph.NewTask("root", "fail", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(root))
	child := taskgraph.NewTask("child", "succeed", nil, []string{root.ID}, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(child))
	grandchild := taskgraph.NewTask("grandchild", "succeed", nil, []string{child.ID}, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(grandchild))

	e := New(registry, 2, time.Second)
	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedTasks)
	assert.Equal(t, 2, result.SkippedTasks)
	assert.Equal(t, taskgraph.StatusSkipped, child.Status)
	assert.Equal(t, taskgraph.StatusSkipped, grandchild.Status)
}

func TestSuccessRequiresNoHighPriorityFailure(t *testing.T) {
	g := taskgraph.New()
	registry := NewRegistry()
	registry.Register("fail", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, errors.New("boom")
	})

	low := taskgraph.NewTask("optional", "fail", nil, nil, taskgraph.PriorityOptional)
	require.NoError(t, g.AddTask(low))

	e := New(registry, 1, time.Second)
	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.True(t, result.Success, "an OPTIONAL failure must not flip the plan outcome")

	g2 := taskgraph.New()
	critical := taskgraph.NewTask("critical", "fail", nil, nil, taskgraph.PriorityCritical)
	require.NoError(t, g2.AddTask(critical))
	result2, err := e.Execute(context.Background(), g2, StrategySequential, nil)
	require.NoError(t, err)
	assert.False(t, result2.Success, "a CRITICAL failure must flip the plan outcome")
}

func TestAdaptiveChoosesSequentialForSmallOrCriticalGraphs(t *testing.T) {
	e := New(succeedingRegistry(), 4, time.Second)

	small := taskgraph.New()
	t1 := taskgraph.NewTask("t1", "succeed", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, small.AddTask(t1))
	metadata := map[string]any{}
	_, err := e.Execute(context.Background(), small, StrategyAdaptive, metadata)
	require.NoError(t, err)
	assert.Equal(t, "sequential", metadata["adaptive_choice"])

	withCritical := taskgraph.New()
	for i := 0; i < 4; i++ {
		priority := taskgraph.PriorityNormal
		if i == 0 {
			priority = taskgraph.PriorityCritical
		}
		task := taskgraph.NewTask("t", "succeed", nil, nil, priority)
		require.NoError(t, withCritical.AddTask(task))
	}
	metadata2 := map[string]any{}
	_, err = e.Execute(context.Background(), withCritical, StrategyAdaptive, metadata2)
	require.NoError(t, err)
	assert.Equal(t, "sequential", metadata2["adaptive_choice"])
}

func TestAdaptiveChoosesParallelForLargerUncriticalGraphs(t *testing.T) {
	e := New(succeedingRegistry(), 4, time.Second)
	g := taskgraph.New()
	for i := 0; i < 4; i++ {
		task := taskgraph.NewTask("t", "succeed", nil, nil, taskgraph.PriorityNormal)
		require.NoError(t, g.AddTask(task))
	}
	metadata := map[string]any{}
	_, err := e.Execute(context.Background(), g, StrategyAdaptive, metadata)
	require.NoError(t, err)
	assert.Equal(t, "parallel", metadata["adaptive_choice"])
}

func TestUnknownActionFailsTheTask(t *testing.T) {
	g := taskgraph.New()
	task := taskgraph.NewTask("t", "does_not_exist", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(task))

	e := New(NewRegistry(), 1, time.Second)
	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedTasks)
	assert.Contains(t, result.Errors, task.ID)
}

func TestPanickingActionBecomesTaskFailureNotCrash(t *testing.T) {
	registry := NewRegistry()
	registry.Register("explode", func(ctx context.Context, params map[string]any) (any, error) {
		panic("unexpected")
	})
	g := taskgraph.New()
	task := taskgraph.NewTask("t", "explode", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(task))

	e := New(registry, 1, time.Second)
	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedTasks)
}

type countingRecorder struct {
	events []string
}

func (r *countingRecorder) RecordTransition(task *taskgraph.Task, event string) {
	r.events = append(r.events, event)
}

func TestRecorderReceivesLifecycleTransitions(t *testing.T) {
	g := buildChain(t)
	rec := &countingRecorder{}
	e := New(succeedingRegistry(), 2, time.Second).WithRecorder(rec)

	_, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.Contains(t, rec.events, "running")
	assert.Contains(t, rec.events, "completed")
}

func TestRetryPolicyRetriesUntilSuccess(t *testing.T) {
	var attempts int64
	registry := NewRegistry()
	registry.Register("flaky", func(ctx context.Context, params map[string]any) (any, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	g := taskgraph.New()
	task := taskgraph.NewTask("t", "flaky", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(task))

	policy := &policyguard.Snapshot{
		RetryPolicies: map[string]any{
			"flaky": map[string]any{
				"max_attempts":    5,
				"initial_delay_ms": 1,
				"max_delay_ms":     2,
			},
		},
	}
	e := New(registry, 1, time.Second).WithPolicy(policy)

	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.CompletedTasks)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestActionsWithoutRetryPolicyDispatchOnce(t *testing.T) {
	var calls int64
	registry := NewRegistry()
	registry.Register("fail", func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt64(&calls, 1)
		return nil, errors.New("boom")
	})

	g := taskgraph.New()
	task := taskgraph.NewTask("t", "fail", nil, nil, taskgraph.PriorityNormal)
	require.NoError(t, g.AddTask(task))

	policy := &policyguard.Snapshot{RetryPolicies: map[string]any{}}
	e := New(registry, 1, time.Second).WithPolicy(policy)

	result, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedTasks)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestCircuitBreakerOpensAfterThresholdAndShortCircuitsFurtherCalls(t *testing.T) {
	var calls int64
	registry := NewRegistry()
	registry.Register("broken", func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt64(&calls, 1)
		return nil, errors.New("downstream down")
	})

	policy := &policyguard.Snapshot{
		RetryPolicies: map[string]any{
			"broken": map[string]any{
				"max_attempts":              1,
				"circuit_breaker_threshold": 1,
				"circuit_breaker_timeout_ms": 60_000,
			},
		},
	}
	e := New(registry, 1, time.Second).WithPolicy(policy)

	for i := 0; i < 3; i++ {
		g := taskgraph.New()
		task := taskgraph.NewTask("t", "broken", nil, nil, taskgraph.PriorityNormal)
		require.NoError(t, g.AddTask(task))
		result, err := e.Execute(context.Background(), g, StrategySequential, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, result.FailedTasks)
	}

	// The breaker opens after the first failure (threshold=1); later
	// calls are short-circuited without reaching the action at all.
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestGetStatsTracksExecutions(t *testing.T) {
	e := New(succeedingRegistry(), 1, time.Second)
	g := buildChain(t)
	_, err := e.Execute(context.Background(), g, StrategySequential, nil)
	require.NoError(t, err)

	stats := e.GetStats()
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessfulExecutions)
}
