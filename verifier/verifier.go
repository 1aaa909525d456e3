// Package verifier validates completed task results against progressively
// stricter checks: existence and reported errors at BASIC, schema and
// temporal coherence at STRICT, and domain-specific custom checks at
// PARANOID.
package verifier

import (
	"sync"
	"time"

	"github.com/filagent/htncore/taskgraph"
)

// Level controls how much scrutiny a task result gets.
type Level string

const (
	LevelBasic    Level = "basic"
	LevelStrict   Level = "strict"
	LevelParanoid Level = "paranoid"
)

// Result is the outcome of verifying one task.
type Result struct {
	Passed          bool
	Level           Level
	Checks          map[string]bool
	Errors          []string
	Warnings        []string
	ConfidenceScore float64
	Metadata        map[string]any
}

func (r *Result) ToDict() map[string]any {
	return map[string]any{
		"passed":           r.Passed,
		"level":            string(r.Level),
		"checks":           r.Checks,
		"errors":           r.Errors,
		"warnings":         r.Warnings,
		"confidence_score": r.ConfidenceScore,
		"metadata":         r.Metadata,
	}
}

// SchemaField describes the expected shape of one result field for the
// simple {"field": kind} schema form.
type SchemaField struct {
	Kind         string // "dict", "list", "str", "int", "float", "bool", or "" to accept any
	RequiredKeys []string
	MinLength    int
}

// Schema is either a simple field-map ({"field": SchemaField}) or, when
// TopLevel is set, a single check applied to the whole result.
type Schema struct {
	Fields   map[string]SchemaField
	TopLevel *SchemaField
}

// CustomVerifier runs domain-specific semantic checks against a
// completed task's result, used only at LevelParanoid.
type CustomVerifier func(task *taskgraph.Task) *Result

type stats struct {
	mu                 sync.Mutex
	totalVerifications int64
	passed             int64
	failed             int64
}

// Verifier validates task results at a configurable default level,
// dispatching to per-action custom verifiers at the paranoid tier.
type Verifier struct {
	defaultLevel Level

	mu              sync.RWMutex
	customVerifiers map[string]CustomVerifier

	stats stats
}

func New(defaultLevel Level) *Verifier {
	if defaultLevel == "" {
		defaultLevel = LevelStrict
	}
	return &Verifier{
		defaultLevel:    defaultLevel,
		customVerifiers: map[string]CustomVerifier{},
	}
}

// RegisterCustomVerifier attaches a semantic check for a specific action,
// consulted only under LevelParanoid.
func (v *Verifier) RegisterCustomVerifier(action string, fn CustomVerifier) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.customVerifiers[action] = fn
}

// VerifyTask runs the checks appropriate to level (or the verifier's
// default when level is empty) against task's result.
func (v *Verifier) VerifyTask(task *taskgraph.Task, level Level, schema *Schema) *Result {
	if level == "" {
		level = v.defaultLevel
	}

	metadata := map[string]any{
		"task_id":     task.ID,
		"task_name":   task.Name,
		"task_action": task.Action,
		"level":       string(level),
		"started_at":  nowISO(),
	}

	checks := map[string]bool{}
	var errs []string
	var warnings []string

	checks["result_exists"] = task.Result != nil
	if !checks["result_exists"] {
		errs = append(errs, "task result is nil")
	}

	checks["no_error"] = task.Error == ""
	if !checks["no_error"] {
		errs = append(errs, "task reported error: "+task.Error)
	}

	checks["status_coherent"] = task.Status == taskgraph.StatusCompleted || task.Status == taskgraph.StatusFailed
	if !checks["status_coherent"] {
		warnings = append(warnings, "unexpected status: "+string(task.Status))
	}

	if level == LevelStrict || level == LevelParanoid {
		if schema != nil && task.Result != nil {
			schemaValid := verifySchema(task.Result, schema)
			checks["schema_valid"] = schemaValid
			if !schemaValid {
				errs = append(errs, "result does not match expected schema")
			}
		}

		temporalOK := verifyTemporalCoherence(task)
		checks["temporal_coherent"] = temporalOK
		if !temporalOK {
			warnings = append(warnings, "temporal metadata inconsistent")
		}
	}

	if level == LevelParanoid {
		v.mu.RLock()
		fn, ok := v.customVerifiers[task.Action]
		v.mu.RUnlock()
		if ok {
			custom := fn(task)
			checks["custom_verification"] = custom.Passed
			errs = append(errs, custom.Errors...)
			warnings = append(warnings, custom.Warnings...)
		}
	}

	passedChecks := 0
	for _, ok := range checks {
		if ok {
			passedChecks++
		}
	}
	confidence := 0.0
	if len(checks) > 0 {
		confidence = float64(passedChecks) / float64(len(checks))
	}

	passed := len(errs) == 0
	v.stats.mu.Lock()
	v.stats.totalVerifications++
	if passed {
		v.stats.passed++
	} else {
		v.stats.failed++
	}
	v.stats.mu.Unlock()

	metadata["completed_at"] = nowISO()

	return &Result{
		Passed:          passed,
		Level:           level,
		Checks:          checks,
		Errors:          errs,
		Warnings:        warnings,
		ConfidenceScore: confidence,
		Metadata:        metadata,
	}
}

// VerifyGraphResults verifies every COMPLETED task in graph, keyed by
// task id.
func (v *Verifier) VerifyGraphResults(graph *taskgraph.Graph, level Level) map[string]*Result {
	results := map[string]*Result{}
	for _, task := range graph.Tasks() {
		if task.Status == taskgraph.StatusCompleted {
			results[task.ID] = v.VerifyTask(task, level, nil)
		}
	}
	return results
}

func verifySchema(result any, schema *Schema) bool {
	if schema.TopLevel != nil {
		return fieldMatches(result, *schema.TopLevel)
	}

	m, ok := result.(map[string]any)
	if !ok {
		return false
	}
	for key, expected := range schema.Fields {
		v, present := m[key]
		if !present {
			return false
		}
		if !fieldMatches(v, expected) {
			return false
		}
	}
	return true
}

func fieldMatches(value any, field SchemaField) bool {
	if field.Kind != "" && !kindMatches(value, field.Kind) {
		return false
	}

	if field.Kind == "dict" && len(field.RequiredKeys) > 0 {
		m, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for _, key := range field.RequiredKeys {
			if _, present := m[key]; !present {
				return false
			}
		}
	}

	if (field.Kind == "list" || field.Kind == "str") && field.MinLength > 0 {
		n, ok := lengthOf(value)
		if !ok || n < field.MinLength {
			return false
		}
	}

	return true
}

func kindMatches(value any, kind string) bool {
	switch kind {
	case "dict":
		_, ok := value.(map[string]any)
		return ok
	case "list":
		_, ok := value.([]any)
		return ok
	case "str":
		_, ok := value.(string)
		return ok
	case "int":
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case "float":
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

func lengthOf(value any) (int, bool) {
	switch v := value.(type) {
	case string:
		return len(v), true
	case []any:
		return len(v), true
	default:
		return 0, false
	}
}

// verifyTemporalCoherence checks created_at <= updated_at <= completed_at
// (when present), and that no timestamp sits in the future.
func verifyTemporalCoherence(task *taskgraph.Task) bool {
	createdStr, _ := task.Metadata["created_at"].(string)
	updatedStr, _ := task.Metadata["updated_at"].(string)

	created, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return false
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedStr)
	if err != nil {
		return false
	}

	now := time.Now().UTC()
	if created.After(updated) {
		return false
	}
	if created.After(now) || updated.After(now) {
		return false
	}

	if completedStr, ok := task.Metadata["completed_at"].(string); ok {
		completed, err := time.Parse(time.RFC3339Nano, completedStr)
		if err != nil {
			return false
		}
		if updated.After(completed) || completed.After(now) {
			return false
		}
	}

	return true
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// SelfCheckResult is the outcome of a verifier's introspection pass.
type SelfCheckResult struct {
	Passed    bool            `json:"passed"`
	Checks    map[string]bool `json:"checks"`
	Stats     map[string]int64 `json:"stats"`
	Timestamp string          `json:"timestamp"`
}

// SelfCheck inspects the verifier's own bookkeeping: stat totals add up
// and every registered custom verifier is non-nil.
func (v *Verifier) SelfCheck() SelfCheckResult {
	v.stats.mu.Lock()
	total, passed, failed := v.stats.totalVerifications, v.stats.passed, v.stats.failed
	v.stats.mu.Unlock()

	checks := map[string]bool{
		"stats_coherent": passed+failed == total,
	}

	v.mu.RLock()
	allValid := true
	for _, fn := range v.customVerifiers {
		if fn == nil {
			allValid = false
			break
		}
	}
	v.mu.RUnlock()
	checks["custom_verifiers_valid"] = allValid

	checks["config_valid"] = v.defaultLevel == LevelBasic || v.defaultLevel == LevelStrict || v.defaultLevel == LevelParanoid

	allPassed := true
	for _, ok := range checks {
		if !ok {
			allPassed = false
			break
		}
	}

	return SelfCheckResult{
		Passed: allPassed,
		Checks: checks,
		Stats: map[string]int64{
			"total_verifications": total,
			"passed":               passed,
			"failed":               failed,
		},
		Timestamp: nowISO(),
	}
}

// GetStats reports the verifier's running totals.
func (v *Verifier) GetStats() map[string]int64 {
	v.stats.mu.Lock()
	defer v.stats.mu.Unlock()
	return map[string]int64{
		"total_verifications": v.stats.totalVerifications,
		"passed":               v.stats.passed,
		"failed":               v.stats.failed,
	}
}
