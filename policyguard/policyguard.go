// Package policyguard validates actions and plan shape against a
// declarative allow/deny policy document, loaded once at construction and
// cached until an explicit reload.
package policyguard

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/filagent/htncore/herrors"
)

// genericExecuteAction is always admitted as the executor's universal
// fallback, regardless of what the allow-list says.
const genericExecuteAction = "generic_execute"

// Snapshot is an immutable view of the policy document in force.
type Snapshot struct {
	MaxTasksPerPlan     int
	MaxExecutionTimeSec int
	AllowedActions      []string
	BlockedActions      []string
	RetryPolicies       map[string]any
}

type policyDocument struct {
	HTNPolicies struct {
		MaxTasksPerPlan     int            `yaml:"max_tasks_per_plan"`
		MaxExecutionTimeSec int            `yaml:"max_execution_time_sec"`
		AllowedActions      []string       `yaml:"allowed_actions"`
		BlockedActions      []string       `yaml:"blocked_actions"`
		RetryPolicies       map[string]any `yaml:"retry_policies"`
	} `yaml:"htn_policies"`
}

func defaultSnapshot() *Snapshot {
	return &Snapshot{MaxTasksPerPlan: 50, MaxExecutionTimeSec: 300}
}

// Guard loads a policy document into an immutable Snapshot at
// construction and validates actions/plans against it. Reloads are
// explicit via Reload.
type Guard struct {
	mu         sync.RWMutex
	configPath string
	snapshot   *Snapshot
}

// New loads policies from configPath (a YAML file shaped like the
// Configuration document's htn_policies section). A missing file yields
// the documented defaults rather than an error.
func New(configPath string) (*Guard, error) {
	g := &Guard{configPath: configPath}
	if err := g.reloadLocked(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Guard) reloadLocked() error {
	data, err := os.ReadFile(g.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			g.snapshot = defaultSnapshot()
			return nil
		}
		return herrors.Wrap("policyguard.New", herrors.KindIntegrityCheckFailed, g.configPath, err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return herrors.Wrap("policyguard.New", herrors.KindIntegrityCheckFailed, g.configPath, err)
	}

	snap := &Snapshot{
		MaxTasksPerPlan:     doc.HTNPolicies.MaxTasksPerPlan,
		MaxExecutionTimeSec: doc.HTNPolicies.MaxExecutionTimeSec,
		AllowedActions:      doc.HTNPolicies.AllowedActions,
		BlockedActions:      doc.HTNPolicies.BlockedActions,
		RetryPolicies:       doc.HTNPolicies.RetryPolicies,
	}
	if snap.MaxTasksPerPlan == 0 {
		snap.MaxTasksPerPlan = 50
	}
	if snap.MaxExecutionTimeSec == 0 {
		snap.MaxExecutionTimeSec = 300
	}
	g.snapshot = snap
	return nil
}

// Reload forces a re-read of the policy document, replacing the cached
// Snapshot.
func (g *Guard) Reload() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reloadLocked()
}

// Snapshot returns the currently cached policy snapshot.
func (g *Guard) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshot
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// ValidateAction fails with ActionDenied when the name is deny-listed, or
// ActionNotAllowed when an allow-list is non-empty and the name is
// absent from it — except generic_execute, which is always admitted.
func (g *Guard) ValidateAction(action string) error {
	snap := g.Snapshot()

	if contains(snap.BlockedActions, action) {
		return herrors.New("policyguard.ValidateAction", herrors.KindActionDenied, "action '"+action+"' is forbidden by policy")
	}

	if len(snap.AllowedActions) > 0 && !contains(snap.AllowedActions, action) && action != genericExecuteAction {
		return herrors.New("policyguard.ValidateAction", herrors.KindActionNotAllowed, "action '"+action+"' is not in allowed_actions list")
	}

	return nil
}

// ValidatePlan validates a whole plan's task count plus every distinct
// action name it uses.
func (g *Guard) ValidatePlan(taskCount int, actionNames []string) error {
	snap := g.Snapshot()
	if taskCount > snap.MaxTasksPerPlan {
		return herrors.New("policyguard.ValidatePlan", herrors.KindPlanTooLarge, "plan exceeds maximum tasks")
	}

	seen := make(map[string]bool, len(actionNames))
	for _, action := range actionNames {
		if seen[action] {
			continue
		}
		seen[action] = true
		if err := g.ValidateAction(action); err != nil {
			return err
		}
	}
	return nil
}

// IsActionAllowed reports ValidateAction's result as a bool, swallowing
// the error.
func (g *Guard) IsActionAllowed(action string) bool {
	return g.ValidateAction(action) == nil
}
