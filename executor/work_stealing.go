package executor

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/filagent/htncore/taskgraph"
)

// StealStrategy selects which victim a thief queries when its own deque
// runs dry.
type StealStrategy string

const (
	StealRandom       StealStrategy = "random"
	StealRoundRobin   StealStrategy = "round_robin"
	StealLeastLoaded  StealStrategy = "least_loaded"
)

// workStealingQueue is a single worker's deque: the owner pushes and pops
// at the back (LIFO, cache-friendly for its own recently-queued work), a
// thief steals from the front (FIFO, so stolen work is the victim's
// oldest and least likely to be claimed back by the owner next).
type workStealingQueue struct {
	mu    sync.Mutex
	tasks []*taskgraph.Task
}

func (q *workStealingQueue) push(t *taskgraph.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *workStealingQueue) pop() *taskgraph.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	if n == 0 {
		return nil
	}
	t := q.tasks[n-1]
	q.tasks = q.tasks[:n-1]
	return t
}

func (q *workStealingQueue) steal() *taskgraph.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t
}

func (q *workStealingQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// workStealingStats holds shared counters behind their own lock, kept
// deliberately separate from any individual queue's mutex: a worker must
// never hold two queue locks (its own plus a victim's) at once, and
// updating stats never needs either.
type workStealingStats struct {
	mu            sync.Mutex
	tasksExecuted int64
	tasksStolen   int64
	stealAttempts int64
	stealFailures int64
}

func (s *workStealingStats) recordExecuted() {
	s.mu.Lock()
	s.tasksExecuted++
	s.mu.Unlock()
}

func (s *workStealingStats) recordSteal(ok bool) {
	s.mu.Lock()
	s.stealAttempts++
	if ok {
		s.tasksStolen++
	} else {
		s.stealFailures++
	}
	s.mu.Unlock()
}

// WorkStealingStats is the point-in-time snapshot returned by
// WorkStealingExecutor.GetStats.
type WorkStealingStats struct {
	TasksExecuted int64              `json:"tasks_executed"`
	TasksStolen   int64              `json:"tasks_stolen"`
	StealAttempts int64              `json:"steal_attempts"`
	StealFailures int64              `json:"steal_failures"`
	QueueDepths   map[int]int        `json:"queue_depths"`
}

// WorkStealingExecutor runs a graph's ready tasks across N worker
// goroutines, each owning a deque; an idle worker steals from a peer
// instead of blocking, which keeps the pool busy under uneven per-task
// cost where static level-by-level parallelism would leave fast workers
// idle waiting on a slow one.
type WorkStealingExecutor struct {
	exec      *Executor
	numQueues int
	strategy  StealStrategy
	rng       *rand.Rand
	rngMu     sync.Mutex
	rrCursor  int64
	stats     workStealingStats
	queues    []*workStealingQueue
}

// NewWorkStealingExecutor wires a work-stealing pool on top of an
// already-configured Executor (shared registry, timeout, recorder). The
// pool is reusable across multiple run calls; its stats accumulate
// across them, and GetStats reads them without resetting.
func NewWorkStealingExecutor(exec *Executor, numQueues int, strategy StealStrategy, seed int64) *WorkStealingExecutor {
	if numQueues <= 0 {
		numQueues = exec.maxWorkers
	}
	queues := make([]*workStealingQueue, numQueues)
	for i := range queues {
		queues[i] = &workStealingQueue{}
	}
	return &WorkStealingExecutor{
		exec:      exec,
		numQueues: numQueues,
		strategy:  strategy,
		rng:       rand.New(rand.NewSource(seed)),
		queues:    queues,
	}
}

// GetStats reports the pool's cumulative steal/execution counters.
func (ws *WorkStealingExecutor) GetStats() WorkStealingStats {
	ws.stats.mu.Lock()
	snap := WorkStealingStats{
		TasksExecuted: ws.stats.tasksExecuted,
		TasksStolen:   ws.stats.tasksStolen,
		StealAttempts: ws.stats.stealAttempts,
		StealFailures: ws.stats.stealFailures,
	}
	ws.stats.mu.Unlock()

	snap.QueueDepths = make(map[int]int, len(ws.queues))
	for i, q := range ws.queues {
		snap.QueueDepths[i] = q.size()
	}
	return snap
}

func assignQueue(taskID string, numQueues int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskID))
	return int(h.Sum32()) % numQueues
}

func (e *Executor) executeWorkStealing(ctx context.Context, graph *taskgraph.Graph) (map[string]any, map[string]string, error) {
	ws := NewWorkStealingExecutor(e, e.maxWorkers, StealRandom, 1)
	return ws.run(ctx, graph)
}

func (ws *WorkStealingExecutor) run(ctx context.Context, graph *taskgraph.Graph) (map[string]any, map[string]string, error) {
	queues := ws.queues

	taskResults := map[string]any{}
	errs := map[string]string{}
	var resultMu sync.Mutex

	var remaining int64
	var done sync.WaitGroup

	// dependenciesCompleted gates releases, so tasks enter their assigned
	// queue only once every dependency has finished; this loop advances
	// by level the same way executeParallel does, but within a level the
	// pool steals across queues instead of fanning out one goroutine per
	// task.
	for _, level := range graph.GetParallelizableLevels() {
		if ctx.Err() != nil {
			ws.exec.cancelPending(graph)
			return taskResults, errs, ctx.Err()
		}

		var releasable []*taskgraph.Task
		for _, t := range level {
			if !ws.exec.dependenciesCompleted(t, graph) {
				t.UpdateStatus(taskgraph.StatusSkipped, "Dependency failed")
				ws.exec.recorder.RecordTransition(t, "skipped")
				continue
			}
			releasable = append(releasable, t)
		}
		if len(releasable) == 0 {
			continue
		}

		atomic.StoreInt64(&remaining, int64(len(releasable)))
		for _, t := range releasable {
			q := assignQueue(t.ID, ws.numQueues)
			queues[q].push(t)
		}

		done.Add(ws.numQueues)
		for w := 0; w < ws.numQueues; w++ {
			go ws.worker(ctx, w, queues, &ws.stats, &remaining, &done, graph, taskResults, errs, &resultMu)
		}
		done.Wait()
	}

	return taskResults, errs, nil
}

func (ws *WorkStealingExecutor) worker(
	ctx context.Context,
	id int,
	queues []*workStealingQueue,
	stats *workStealingStats,
	remaining *int64,
	done *sync.WaitGroup,
	graph *taskgraph.Graph,
	taskResults map[string]any,
	errs map[string]string,
	resultMu *sync.Mutex,
) {
	defer done.Done()
	mine := queues[id]

	for atomic.LoadInt64(remaining) > 0 {
		if ctx.Err() != nil {
			return
		}

		task := mine.pop()
		stolen := false
		if task == nil {
			task = ws.steal(id, queues, stats)
			stolen = task != nil
		}
		if task == nil {
			continue
		}

		taskCtx, cancel := context.WithTimeout(ctx, ws.exec.taskTimeout)
		local := map[string]any{}
		localErrs := map[string]string{}
		ws.exec.runOne(taskCtx, task, local, localErrs)
		cancel()

		stats.recordExecuted()
		if stolen {
			stats.recordSteal(true)
		}

		resultMu.Lock()
		for k, v := range local {
			taskResults[k] = v
		}
		for k, v := range localErrs {
			errs[k] = v
		}
		resultMu.Unlock()

		if task.Status == taskgraph.StatusFailed {
			ws.exec.propagateFailure(task, graph)
		}

		atomic.AddInt64(remaining, -1)
	}
}

// steal tries every other queue once, in an order chosen by the
// configured strategy, returning the first task it manages to take.
func (ws *WorkStealingExecutor) steal(selfID int, queues []*workStealingQueue, stats *workStealingStats) *taskgraph.Task {
	targets := ws.stealTargets(selfID, queues)
	for _, v := range targets {
		if t := queues[v].steal(); t != nil {
			return t
		}
	}
	if len(targets) > 0 {
		stats.recordSteal(false)
	}
	return nil
}

func (ws *WorkStealingExecutor) stealTargets(selfID int, queues []*workStealingQueue) []int {
	others := make([]int, 0, len(queues)-1)
	for i := range queues {
		if i != selfID {
			others = append(others, i)
		}
	}
	if len(others) == 0 {
		return others
	}

	switch ws.strategy {
	case StealRoundRobin:
		start := int(atomic.AddInt64(&ws.rrCursor, 1)) % len(others)
		return append(append([]int{}, others[start:]...), others[:start]...)
	case StealLeastLoaded:
		sort.SliceStable(others, func(i, j int) bool {
			return queues[others[i]].size() > queues[others[j]].size()
		})
		return others
	default: // StealRandom
		ws.rngMu.Lock()
		shuffled := append([]int{}, others...)
		ws.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		ws.rngMu.Unlock()
		return shuffled
	}
}
