// Package taskgraph is the in-memory DAG of tasks at the center of the
// HTN orchestrator: cycle detection with rollback on insertion,
// priority-aware topological ordering, and level grouping for
// parallel execution.
package taskgraph

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders ready-task dequeuing and dictates whether a task's
// failure can flip the overall plan outcome.
type Priority int

const (
	PriorityOptional Priority = 1
	PriorityLow      Priority = 2
	PriorityNormal   Priority = 3
	PriorityHigh     Priority = 4
	PriorityCritical Priority = 5
)

// Status is a task's position in the PENDING -> READY -> RUNNING ->
// {COMPLETED|FAILED} lifecycle, with SKIPPED/CANCELLED reachable from
// PENDING/READY.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Task is an atomic unit of work in a TaskGraph.
type Task struct {
	ID         string
	Name       string
	Action     string
	Params     map[string]any
	DependsOn  []string
	Priority   Priority
	Status     Status
	Result     any
	Error      string
	Metadata   map[string]any
}

// NewTask builds a task with a fresh ID and created_at/updated_at
// metadata stamped to now.
func NewTask(name, action string, params map[string]any, dependsOn []string, priority Priority) *Task {
	now := nowISO()
	if params == nil {
		params = map[string]any{}
	}
	if dependsOn == nil {
		dependsOn = []string{}
	}
	return &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Action:    action,
		Params:    params,
		DependsOn: dependsOn,
		Priority:  priority,
		Status:    StatusPending,
		Metadata: map[string]any{
			"created_at": now,
			"updated_at": now,
		},
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// UpdateStatus transitions the task's status, stamping updated_at and,
// on a non-empty error, error_timestamp.
func (t *Task) UpdateStatus(status Status, errMsg string) {
	t.Status = status
	t.Metadata["updated_at"] = nowISO()
	if errMsg != "" {
		t.Error = errMsg
		t.Metadata["error_timestamp"] = nowISO()
	}
}

// SetResult records a result payload and stamps completed_at.
func (t *Task) SetResult(result any) {
	t.Result = result
	t.Metadata["completed_at"] = nowISO()
}

// ToDict serializes the task to a plain map, suitable for WormLog/
// provenance framing.
func (t *Task) ToDict() map[string]any {
	return map[string]any{
		"task_id":    t.ID,
		"name":       t.Name,
		"action":     t.Action,
		"params":     t.Params,
		"depends_on": t.DependsOn,
		"priority":   int(t.Priority),
		"status":     string(t.Status),
		"result":     t.Result,
		"error":      t.Error,
		"metadata":   t.Metadata,
	}
}
