package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filagent/htncore/herrors"
)

// AddTask requires every dependency id to already be present in the
// graph, so no AddTask call can introduce a cycle: even a task naming
// its own (pre-generated) id among its dependencies is rejected by that
// check, because its id is not in the graph yet. hasCycle and the
// rollback path stay as a defensive check behind it and are not reached
// here.
func TestAddTaskSelfDependencyRollsBack(t *testing.T) {
	g := New()
	a := NewTask("a", "noop", nil, nil, PriorityNormal)
	require.NoError(t, g.AddTask(a))

	before := g.ToDict()

	selfID := "self-cycle"
	self := &Task{
		ID:        selfID,
		Name:      "self",
		Action:    "noop",
		DependsOn: []string{selfID},
		Priority:  PriorityNormal,
		Status:    StatusPending,
		Metadata:  map[string]any{},
	}

	// The dependency-existence check runs before insertion, so a
	// self-reference is rejected as UnknownDependency rather than
	// reaching the cycle check — the graph is left untouched either way.
	err := g.AddTask(self)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.KindUnknownDependency, kind)

	assert.Equal(t, before, g.ToDict())
	assert.Equal(t, 1, g.Len())
	assert.Nil(t, g.Task(selfID))
}

func TestAddTaskUnknownDependency(t *testing.T) {
	g := New()
	t1 := NewTask("t1", "noop", nil, []string{"missing"}, PriorityNormal)
	err := g.AddTask(t1)
	require.Error(t, err)
	kind, ok := herrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, herrors.KindUnknownDependency, kind)
	assert.Equal(t, 0, g.Len())
}

func TestAddTaskDuplicateID(t *testing.T) {
	g := New()
	t1 := NewTask("t1", "noop", nil, nil, PriorityNormal)
	require.NoError(t, g.AddTask(t1))

	dup := &Task{ID: t1.ID, Name: "dup", Action: "noop", Status: StatusPending, Metadata: map[string]any{}}
	err := g.AddTask(dup)
	require.Error(t, err)
	kind, _ := herrors.KindOf(err)
	assert.Equal(t, herrors.KindDuplicateID, kind)
}

func TestTopologicalSortPriorityTieBreak(t *testing.T) {
	g := New()
	low := NewTask("low", "noop", nil, nil, PriorityLow)
	require.NoError(t, g.AddTask(low))
	high := NewTask("high", "noop", nil, nil, PriorityHigh)
	require.NoError(t, g.AddTask(high))

	order := g.TopologicalSort()
	require.Len(t, order, 2)
	assert.Equal(t, high.ID, order[0].ID, "higher priority task should dequeue first among zero-in-degree ties")
}

func TestTopologicalSortInsertionOrderTieBreak(t *testing.T) {
	g := New()
	var added []*Task
	// Add enough equal-priority roots that alphabetical-by-random-uuid
	// would almost certainly disagree with insertion order at least once.
	for i := 0; i < 10; i++ {
		task := NewTask("root", "noop", nil, nil, PriorityNormal)
		require.NoError(t, g.AddTask(task))
		added = append(added, task)
	}

	order := g.TopologicalSort()
	require.Len(t, order, len(added))
	for i, task := range added {
		assert.Equal(t, task.ID, order[i].ID, "equal-priority roots must dequeue in AddTask order")
	}
}

func TestParallelizableLevelsDiamond(t *testing.T) {
	g := New()
	a := NewTask("A", "noop", nil, nil, PriorityNormal)
	require.NoError(t, g.AddTask(a))
	b := NewTask("B", "noop", nil, []string{a.ID}, PriorityNormal)
	require.NoError(t, g.AddTask(b))
	c := NewTask("C", "noop", nil, []string{a.ID}, PriorityNormal)
	require.NoError(t, g.AddTask(c))
	d := NewTask("D", "noop", nil, []string{b.ID, c.ID}, PriorityNormal)
	require.NoError(t, g.AddTask(d))

	levels := g.GetParallelizableLevels()
	require.Len(t, levels, 3)
	assert.Len(t, levels[0], 1)
	assert.Len(t, levels[1], 2)
	assert.Len(t, levels[2], 1)
	assert.Equal(t, a.ID, levels[0][0].ID)
	assert.Equal(t, d.ID, levels[2][0].ID)
}

func TestGetReadyTasks(t *testing.T) {
	g := New()
	a := NewTask("A", "noop", nil, nil, PriorityNormal)
	require.NoError(t, g.AddTask(a))
	b := NewTask("B", "noop", nil, []string{a.ID}, PriorityHigh)
	require.NoError(t, g.AddTask(b))

	ready := g.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, a.ID, ready[0].ID)

	a.UpdateStatus(StatusCompleted, "")
	ready = g.GetReadyTasks()
	require.Len(t, ready, 1)
	assert.Equal(t, b.ID, ready[0].ID)
}
