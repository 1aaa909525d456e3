// Package executor runs a taskgraph.Graph to completion: sequentially, in
// parallel by level, adaptively, or via a work-stealing pool, invoking
// registered action callbacks and recording every state transition.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/filagent/htncore/herrors"
	"github.com/filagent/htncore/policyguard"
	"github.com/filagent/htncore/resilience"
	"github.com/filagent/htncore/taskgraph"
)

var tracer = otel.Tracer("github.com/filagent/htncore/executor")

// Strategy selects how a graph's tasks get dispatched.
type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyParallel     Strategy = "parallel"
	StrategyAdaptive     Strategy = "adaptive"
	StrategyWorkStealing Strategy = "work_stealing"
)

// Action is a registered, callable unit of work. Its panics and errors
// both become task failures; the caller's cooperative check of ctx is
// its only cancellation hook.
type Action func(ctx context.Context, params map[string]any) (any, error)

// Registry is the action-name -> callable mapping the Executor dispatches
// against.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: map[string]Action{}}
}

func (r *Registry) Register(name string, fn Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

func (r *Registry) lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Names lists every registered action, satisfying planner.ActionRegistry.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	return out
}

// Result is the outcome of one Execute call.
type Result struct {
	Success          bool
	CompletedTasks   int
	FailedTasks      int
	SkippedTasks     int
	TotalDuration    time.Duration
	TaskResults      map[string]any
	Errors           map[string]string
	Metadata         map[string]any
}

// Recorder receives one call per task state transition, letting the
// caller fan lifecycle events out to a WormLog/ProvenanceStore without
// the Executor importing either directly.
type Recorder interface {
	RecordTransition(task *taskgraph.Task, event string)
}

type noopRecorder struct{}

func (noopRecorder) RecordTransition(*taskgraph.Task, string) {}

// Executor dispatches a graph's tasks against a Registry.
type Executor struct {
	registry    *Registry
	maxWorkers  int
	taskTimeout time.Duration
	recorder    Recorder
	policy      *policyguard.Snapshot

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	mu                   sync.Mutex
	totalExecutions      int64
	successfulExecutions int64
	failedExecutions     int64
}

// New builds an Executor. maxWorkers bounds the parallel-by-level and
// work-stealing pool sizes; taskTimeout is the deadline of the context
// each action call receives in parallel and work-stealing modes.
// Sequential mode passes the caller's ctx through unchanged, with no
// per-task deadline.
func New(registry *Registry, maxWorkers int, taskTimeout time.Duration) *Executor {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if taskTimeout <= 0 {
		taskTimeout = 60 * time.Second
	}
	return &Executor{
		registry:    registry,
		maxWorkers:  maxWorkers,
		taskTimeout: taskTimeout,
		recorder:    noopRecorder{},
		breakers:    map[string]*resilience.CircuitBreaker{},
	}
}

// WithRecorder attaches a lifecycle recorder (e.g. a WormLog/provenance
// adapter) and returns the Executor for chaining.
func (e *Executor) WithRecorder(r Recorder) *Executor {
	e.recorder = r
	return e
}

// WithPolicy attaches a policy snapshot. Its RetryPolicies map (keyed by
// action name) turns on a per-action retry-with-circuit-breaker wrapper
// around that action's invocations; actions absent from the map dispatch
// exactly as before, with no retry and no breaker.
func (e *Executor) WithPolicy(p *policyguard.Snapshot) *Executor {
	e.policy = p
	return e
}

// Execute runs graph to completion using strategy.
func (e *Executor) Execute(ctx context.Context, graph *taskgraph.Graph, strategy Strategy, metadata map[string]any) (*Result, error) {
	start := time.Now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["started_at"] = start.UTC().Format(time.RFC3339Nano)
	metadata["strategy"] = string(strategy)
	metadata["total_tasks"] = graph.Len()

	taskResults, errs, err := e.dispatch(ctx, graph, strategy, metadata)

	e.mu.Lock()
	e.totalExecutions++
	e.mu.Unlock()

	if err != nil {
		e.mu.Lock()
		e.failedExecutions++
		e.mu.Unlock()
		metadata["completed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		metadata["critical_error"] = err.Error()
		return nil, herrors.Wrap("executor.Execute", herrors.KindExecutionCancelled, "", err)
	}

	completed, failed, skipped := countByStatus(graph)
	success := !hasCriticalFailure(graph)

	duration := time.Since(start)
	metadata["completed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	metadata["duration_ms"] = float64(duration.Microseconds()) / 1000.0

	e.mu.Lock()
	if success {
		e.successfulExecutions++
	} else {
		e.failedExecutions++
	}
	e.mu.Unlock()

	return &Result{
		Success:        success,
		CompletedTasks: completed,
		FailedTasks:    failed,
		SkippedTasks:   skipped,
		TotalDuration:  duration,
		TaskResults:    taskResults,
		Errors:         errs,
		Metadata:       metadata,
	}, nil
}

func (e *Executor) dispatch(ctx context.Context, graph *taskgraph.Graph, strategy Strategy, metadata map[string]any) (map[string]any, map[string]string, error) {
	switch strategy {
	case StrategySequential:
		return e.executeSequential(ctx, graph)
	case StrategyParallel:
		return e.executeParallel(ctx, graph)
	case StrategyWorkStealing:
		return e.executeWorkStealing(ctx, graph)
	default:
		return e.executeAdaptive(ctx, graph, metadata)
	}
}

func countByStatus(graph *taskgraph.Graph) (completed, failed, skipped int) {
	for _, t := range graph.Tasks() {
		switch t.Status {
		case taskgraph.StatusCompleted:
			completed++
		case taskgraph.StatusFailed:
			failed++
		case taskgraph.StatusSkipped:
			skipped++
		}
	}
	return
}

func hasCriticalFailure(graph *taskgraph.Graph) bool {
	for _, t := range graph.Tasks() {
		if t.Status == taskgraph.StatusFailed && t.Priority >= taskgraph.PriorityHigh {
			return true
		}
	}
	return false
}

// executeSequential walks the topological order one task at a time.
func (e *Executor) executeSequential(ctx context.Context, graph *taskgraph.Graph) (map[string]any, map[string]string, error) {
	taskResults := map[string]any{}
	errs := map[string]string{}

	for _, task := range graph.TopologicalSort() {
		if ctx.Err() != nil {
			e.cancelPending(graph)
			return taskResults, errs, ctx.Err()
		}
		if !e.dependenciesCompleted(task, graph) {
			task.UpdateStatus(taskgraph.StatusSkipped, "Dependency failed")
			e.recorder.RecordTransition(task, "skipped")
			continue
		}
		e.runOne(ctx, task, taskResults, errs)
		if task.Status == taskgraph.StatusFailed {
			e.propagateFailure(task, graph)
		}
	}

	return taskResults, errs, nil
}

// executeParallel computes levels and submits each level's ready tasks to
// a bounded worker pool, waiting for the whole level before advancing.
func (e *Executor) executeParallel(ctx context.Context, graph *taskgraph.Graph) (map[string]any, map[string]string, error) {
	taskResults := map[string]any{}
	errs := map[string]string{}
	var mu sync.Mutex

	for _, level := range graph.GetParallelizableLevels() {
		if ctx.Err() != nil {
			e.cancelPending(graph)
			return taskResults, errs, ctx.Err()
		}

		sem := make(chan struct{}, e.maxWorkers)
		var wg sync.WaitGroup

		for _, task := range level {
			if !e.dependenciesCompleted(task, graph) {
				task.UpdateStatus(taskgraph.StatusSkipped, "Dependency failed")
				e.recorder.RecordTransition(task, "skipped")
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(t *taskgraph.Task) {
				defer wg.Done()
				defer func() { <-sem }()

				taskCtx, cancel := context.WithTimeout(ctx, e.taskTimeout)
				defer cancel()

				local := map[string]any{}
				localErrs := map[string]string{}
				e.runOne(taskCtx, t, local, localErrs)

				mu.Lock()
				for k, v := range local {
					taskResults[k] = v
				}
				for k, v := range localErrs {
					errs[k] = v
				}
				mu.Unlock()

				if t.Status == taskgraph.StatusFailed {
					e.propagateFailure(t, graph)
				}
			}(task)
		}

		wg.Wait()
	}

	return taskResults, errs, nil
}

// executeAdaptive picks sequential when the graph is small or carries a
// CRITICAL task (predictability over throughput), parallel otherwise.
func (e *Executor) executeAdaptive(ctx context.Context, graph *taskgraph.Graph, metadata map[string]any) (map[string]any, map[string]string, error) {
	hasCritical := false
	for _, t := range graph.Tasks() {
		if t.Priority == taskgraph.PriorityCritical {
			hasCritical = true
			break
		}
	}

	if graph.Len() < 3 || hasCritical {
		metadata["adaptive_choice"] = "sequential"
		metadata["adaptive_reason"] = "few tasks or critical priority"
		return e.executeSequential(ctx, graph)
	}

	metadata["adaptive_choice"] = "parallel"
	metadata["adaptive_reason"] = "multiple independent tasks"
	return e.executeParallel(ctx, graph)
}

func (e *Executor) runOne(ctx context.Context, task *taskgraph.Task, taskResults map[string]any, errs map[string]string) {
	ctx, span := tracer.Start(ctx, "task.execute", traceOptions(task)...)
	defer span.End()

	task.UpdateStatus(taskgraph.StatusRunning, "")
	e.recorder.RecordTransition(task, "running")

	result, err := e.invoke(ctx, task)
	if err != nil {
		task.UpdateStatus(taskgraph.StatusFailed, err.Error())
		errs[task.ID] = err.Error()
		e.recorder.RecordTransition(task, "failed")
		span.RecordError(err)
		return
	}

	task.SetResult(result)
	task.UpdateStatus(taskgraph.StatusCompleted, "")
	taskResults[task.ID] = result
	e.recorder.RecordTransition(task, "completed")
}

func traceOptions(task *taskgraph.Task) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.action", task.Action),
			attribute.Int("task.priority", int(task.Priority)),
		),
	}
}

// invoke dispatches to the registered action, recovering a panicking
// action into an ordinary task failure. When the attached policy snapshot
// carries a retry policy for this action, the call is wrapped in
// exponential-backoff retry plus a per-action circuit breaker; otherwise
// it dispatches directly, exactly once.
func (e *Executor) invoke(ctx context.Context, task *taskgraph.Task) (result any, err error) {
	fn, ok := e.registry.lookup(task.Action)
	if !ok {
		return nil, herrors.New("executor.invoke", herrors.KindActionMissing, "unknown action '"+task.Action+"' for task "+task.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			err = herrors.New("executor.invoke", herrors.KindActionRaised, fmt.Sprintf("action '%s' panicked: %v", task.Action, r))
		}
	}()

	cfg, policyRaw, hasPolicy := e.retryPolicyFor(task.Action)
	if !hasPolicy {
		result, err = fn(ctx, task.Params)
		if err != nil {
			return nil, herrors.Wrap("executor.invoke", herrors.KindActionRaised, task.ID, err)
		}
		return result, nil
	}

	cb := e.breakerFor(task.Action, policyRaw)
	var out any
	callErr := resilience.RetryWithCircuitBreaker(ctx, cfg, cb, func() error {
		r, fnErr := fn(ctx, task.Params)
		if fnErr != nil {
			return fnErr
		}
		out = r
		return nil
	})
	if callErr != nil {
		return nil, herrors.Wrap("executor.invoke", herrors.KindActionRaised, task.ID, callErr)
	}
	return out, nil
}

// retryPolicyFor reports the retry configuration for action, if the
// attached policy snapshot's RetryPolicies map names one. Fields absent
// from the per-action map fall back to resilience's defaults.
func (e *Executor) retryPolicyFor(action string) (resilience.RetryConfig, map[string]any, bool) {
	if e.policy == nil || e.policy.RetryPolicies == nil {
		return resilience.RetryConfig{}, nil, false
	}
	raw, ok := e.policy.RetryPolicies[action]
	if !ok {
		return resilience.RetryConfig{}, nil, false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return resilience.RetryConfig{}, nil, false
	}

	cfg := resilience.DefaultRetryConfig()
	if v, ok := intField(m, "max_attempts"); ok {
		cfg.MaxAttempts = v
	}
	if v, ok := durationMillisField(m, "initial_delay_ms"); ok {
		cfg.InitialDelay = v
	}
	if v, ok := durationMillisField(m, "max_delay_ms"); ok {
		cfg.MaxDelay = v
	}
	if v, ok := floatField(m, "backoff_factor"); ok {
		cfg.BackoffFactor = v
	}
	return cfg, m, true
}

// breakerFor returns this action's circuit breaker, creating it from the
// policy's threshold/timeout fields (or defaults) on first use and
// reusing it across every subsequent call so failure counts accumulate
// over the executor's lifetime, not per-call.
func (e *Executor) breakerFor(action string, policy map[string]any) *resilience.CircuitBreaker {
	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()

	if cb, ok := e.breakers[action]; ok {
		return cb
	}

	threshold := 5
	if v, ok := intField(policy, "circuit_breaker_threshold"); ok {
		threshold = v
	}
	timeout := 30 * time.Second
	if v, ok := durationMillisField(policy, "circuit_breaker_timeout_ms"); ok {
		timeout = v
	}

	cb := resilience.NewCircuitBreaker(action, threshold, timeout)
	e.breakers[action] = cb
	return cb
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func floatField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func durationMillisField(m map[string]any, key string) (time.Duration, bool) {
	ms, ok := floatField(m, key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

func (e *Executor) dependenciesCompleted(task *taskgraph.Task, graph *taskgraph.Graph) bool {
	for _, depID := range task.DependsOn {
		dep := graph.Task(depID)
		if dep == nil || dep.Status != taskgraph.StatusCompleted {
			return false
		}
	}
	return true
}

// propagateFailure marks every transitive dependent of failedTask as
// SKIPPED via a BFS over the forward adjacency.
func (e *Executor) propagateFailure(failedTask *taskgraph.Task, graph *taskgraph.Graph) {
	visited := map[string]bool{failedTask.ID: true}
	queue := []string{failedTask.ID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dependentID := range graph.Dependents(current) {
			if visited[dependentID] {
				continue
			}
			visited[dependentID] = true
			queue = append(queue, dependentID)

			dependent := graph.Task(dependentID)
			if dependent != nil && (dependent.Status == taskgraph.StatusPending || dependent.Status == taskgraph.StatusReady) {
				dependent.UpdateStatus(taskgraph.StatusSkipped, "Dependency "+failedTask.ID+" failed")
				e.recorder.RecordTransition(dependent, "skipped")
			}
		}
	}
}

// cancelPending transitions every PENDING/READY task to CANCELLED; RUNNING
// tasks are left to complete or hit their own timeout.
func (e *Executor) cancelPending(graph *taskgraph.Graph) {
	for _, t := range graph.Tasks() {
		if t.Status == taskgraph.StatusPending || t.Status == taskgraph.StatusReady {
			t.UpdateStatus(taskgraph.StatusCancelled, "")
			e.recorder.RecordTransition(t, "cancelled")
		}
	}
}

// Stats reports the executor's running totals across every Execute call.
type Stats struct {
	TotalExecutions      int64 `json:"total_executions"`
	SuccessfulExecutions int64 `json:"successful_executions"`
	FailedExecutions     int64 `json:"failed_executions"`
}

func (e *Executor) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		TotalExecutions:      e.totalExecutions,
		SuccessfulExecutions: e.successfulExecutions,
		FailedExecutions:     e.failedExecutions,
	}
}
