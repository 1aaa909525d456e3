package taskgraph

import (
	"sort"
	"sync"

	"github.com/filagent/htncore/herrors"
)

// Graph owns a mapping of id -> Task plus a forward adjacency (task ->
// dependents) and reverse adjacency (task -> dependencies), mirroring
// the dependents/dependencies split the work-stealing and verification
// paths both need without recomputing it.
type Graph struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	forward map[string][]string // dependency -> dependents
	reverse map[string][]string // task -> its dependencies

	// insertOrder records successful AddTask calls in sequence, since
	// Task.ID is a random uuid and so carries no ordering information of
	// its own. TopologicalSort seeds its zero-in-degree queue from this
	// slice (rather than a sorted-by-id one) so that equal-priority roots
	// dequeue in the order they were added, per the documented tie-break.
	insertOrder []string
}

func New() *Graph {
	return &Graph{
		tasks:   make(map[string]*Task),
		forward: make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// AddTask inserts a task. Cycle detection runs on a provisional
// insertion; on WouldCreateCycle the graph is rolled back in full
// (adjacencies restored to their pre-call state) before the error is
// returned, so a rejected add_task never leaves partial state behind.
func (g *Graph) AddTask(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID]; exists {
		return herrors.New("taskgraph.AddTask", herrors.KindDuplicateID, "task id already exists: "+t.ID)
	}

	for _, dep := range t.DependsOn {
		if _, exists := g.tasks[dep]; !exists {
			return herrors.New("taskgraph.AddTask", herrors.KindUnknownDependency, "unknown dependency: "+dep)
		}
	}

	// Provisional insert.
	g.tasks[t.ID] = t
	g.reverse[t.ID] = append([]string{}, t.DependsOn...)
	for _, dep := range t.DependsOn {
		g.forward[dep] = append(g.forward[dep], t.ID)
	}
	g.insertOrder = append(g.insertOrder, t.ID)

	if g.hasCycle() {
		// Roll back completely.
		delete(g.tasks, t.ID)
		delete(g.reverse, t.ID)
		for _, dep := range t.DependsOn {
			g.forward[dep] = removeOne(g.forward[dep], t.ID)
		}
		g.insertOrder = g.insertOrder[:len(g.insertOrder)-1]
		return herrors.New("taskgraph.AddTask", herrors.KindWouldCreateCycle, "insertion would create a cycle")
	}

	return nil
}

func removeOne(list []string, value string) []string {
	out := list[:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

// hasCycle runs DFS with a recursion stack over the dependents
// direction (forward adjacency), matching the reference task graph's
// algorithm.
func (g *Graph) hasCycle() bool {
	visited := make(map[string]bool, len(g.tasks))
	recStack := make(map[string]bool, len(g.tasks))

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		for _, dependent := range g.forward[id] {
			if !visited[dependent] {
				if dfs(dependent) {
					return true
				}
			} else if recStack[dependent] {
				return true
			}
		}
		recStack[id] = false
		return false
	}

	for id := range g.tasks {
		if !visited[id] {
			if dfs(id) {
				return true
			}
		}
	}
	return false
}

// Task returns a task by id, or nil.
func (g *Graph) Task(id string) *Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[id]
}

// Tasks returns a snapshot slice of every task in the graph.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		out = append(out, t)
	}
	return out
}

// Dependents returns the tasks that depend on id.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string{}, g.forward[id]...)
}

// Len returns the number of tasks currently in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// TopologicalSort runs Kahn's algorithm over the reverse adjacency,
// re-sorting the zero-in-degree working set by priority descending
// before each extraction so higher-priority tasks dequeue first among
// ties; AddTask call order (tracked in insertOrder, since Task.ID is a
// random uuid with no ordering of its own) breaks remaining ties.
func (g *Graph) TopologicalSort() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		inDegree[id] = len(t.DependsOn)
	}

	pos := make(map[string]int, len(g.insertOrder))
	var queue []string
	for i, id := range g.insertOrder {
		pos[id] = i
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]*Task, 0, len(g.tasks))
	for len(queue) > 0 {
		sort.SliceStable(queue, func(i, j int) bool {
			pi, pj := g.tasks[queue[i]].Priority, g.tasks[queue[j]].Priority
			if pi != pj {
				return pi > pj
			}
			return pos[queue[i]] < pos[queue[j]]
		})
		current := queue[0]
		queue = queue[1:]
		result = append(result, g.tasks[current])

		for _, dependent := range g.forward[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return result
}

// GetReadyTasks returns PENDING/READY tasks whose dependencies are all
// COMPLETED, sorted by priority descending, marking them READY as a
// side effect.
func (g *Graph) GetReadyTasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*Task
	for _, t := range g.tasks {
		if t.Status != StatusPending && t.Status != StatusReady {
			continue
		}
		if g.allDepsCompletedLocked(t) {
			t.Status = StatusReady
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Priority > ready[j].Priority })
	return ready
}

func (g *Graph) allDepsCompletedLocked(t *Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := g.tasks[dep]
		if !ok || d.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// GetParallelizableLevels buckets tasks into levels where level(t) is
// the maximum level among t's dependencies plus one (roots are level
// 0); concatenating the levels is a permutation of TopologicalSort's
// output.
func (g *Graph) GetParallelizableLevels() [][]*Task {
	ordered := g.TopologicalSort()

	level := make(map[string]int, len(ordered))
	maxLevel := 0
	for _, t := range ordered {
		lvl := 0
		for _, dep := range t.DependsOn {
			if level[dep]+1 > lvl {
				lvl = level[dep] + 1
			}
		}
		level[t.ID] = lvl
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}

	levels := make([][]*Task, maxLevel+1)
	for _, t := range ordered {
		lvl := level[t.ID]
		levels[lvl] = append(levels[lvl], t)
	}
	return levels
}

// ToDict serializes the whole graph for audit purposes.
func (g *Graph) ToDict() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tasks := make(map[string]any, len(g.tasks))
	for id, t := range g.tasks {
		tasks[id] = t.ToDict()
	}
	return map[string]any{"tasks": tasks}
}
