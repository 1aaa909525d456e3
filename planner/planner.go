// Package planner decomposes a natural-language query into a validated
// taskgraph.Graph via rule-based pattern matching, an LLM collaborator,
// or a hybrid of the two.
package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/filagent/htncore/herrors"
	"github.com/filagent/htncore/taskgraph"
)

var tracer = otel.Tracer("github.com/filagent/htncore/planner")

// Strategy selects how a query is decomposed.
type Strategy string

const (
	StrategyRuleBased Strategy = "rule_based"
	StrategyLLMBased  Strategy = "llm_based"
	StrategyHybrid    Strategy = "hybrid"
)

// Model is the collaborator-provided LLM interface.
type Model interface {
	Generate(systemPrompt, userPrompt string) (string, error)
}

// ActionRegistry reports which action names an Executor can actually
// dispatch, for post-decomposition validation.
type ActionRegistry interface {
	Names() []string
}

// Result is the shared output shape of every strategy.
type Result struct {
	Graph        *taskgraph.Graph
	StrategyUsed Strategy
	Confidence   float64
	Reasoning    string
	Metadata     map[string]any
}

// taskTemplate is one step of a rule-based pattern's output sequence.
type taskTemplate struct {
	action    string
	extract   int // 1-based regex capture group index; 0 means "whole query"
	dependsOn []int
}

type rulePattern struct {
	regex     *regexp.Regexp
	templates []taskTemplate
}

// Planner holds an optional model collaborator, an optional action
// registry for post-decomposition validation, and the compiled rule
// patterns used by rule-based/hybrid planning.
type Planner struct {
	model    Model
	registry ActionRegistry
	patterns []rulePattern
}

// New builds a Planner. model and registry may both be nil: a nil model
// disables llm_based/hybrid-LLM-refinement planning, a nil registry
// skips the "every action is registered" validation step.
func New(model Model, registry ActionRegistry) *Planner {
	return &Planner{model: model, registry: registry, patterns: defaultPatterns()}
}

func defaultPatterns() []rulePattern {
	return []rulePattern{
		{
			regex: regexp.MustCompile(`(?i)analyz[er]?\s+(.+?),\s+generat[er]?\s+(.+?),\s+creat[er]?\s+(.+)`),
			templates: []taskTemplate{
				{action: "read_file", extract: 1},
				{action: "analyze_data", dependsOn: []int{0}},
				{action: "generate_report", dependsOn: []int{1}},
			},
		},
		{
			regex: regexp.MustCompile(`(?i)(?:read|lis)\s+(.+?),\s+calcul(?:at[er]?|e)\s+(.+)`),
			templates: []taskTemplate{
				{action: "read_file", extract: 1},
				{action: "calculate", dependsOn: []int{0}},
			},
		},
		{
			regex: regexp.MustCompile(`(?i)find\s+(.+?)\s+and\s+(.+?),\s+then\s+(.+)`),
			templates: []taskTemplate{
				{action: "search", extract: 1},
				{action: "search", extract: 2},
				{action: "process", dependsOn: []int{0, 1}},
			},
		},
	}
}

// Plan decomposes query using strategy, validates the result, and stamps
// tracing metadata (started_at/completed_at/validation_passed) onto it.
func (p *Planner) Plan(ctx context.Context, query string, strategy Strategy, planContext map[string]any) (*Result, error) {
	_, span := tracer.Start(ctx, "planner.plan", withPlanAttributes(query, strategy)...)
	defer span.End()

	metadata := map[string]any{
		"query":      query,
		"strategy":   string(strategy),
		"started_at": nowISO(),
		"context":    planContext,
	}

	var result *Result
	var err error
	switch strategy {
	case StrategyRuleBased:
		result = p.planRuleBased(query, metadata)
	case StrategyLLMBased:
		result, err = p.planLLMBased(query, metadata)
	default:
		result, err = p.planHybrid(query, metadata)
	}
	if err != nil {
		metadata["completed_at"] = nowISO()
		metadata["error"] = err.Error()
		metadata["validation_passed"] = false
		wrapped := herrors.Wrap("planner.Plan", herrors.KindDecompositionFailed, "", err)
		span.RecordError(wrapped)
		return nil, wrapped
	}

	if err := p.validate(result.Graph); err != nil {
		result.Metadata["completed_at"] = nowISO()
		result.Metadata["error"] = err.Error()
		result.Metadata["validation_passed"] = false
		span.RecordError(err)
		return nil, err
	}

	result.Metadata["completed_at"] = nowISO()
	result.Metadata["validation_passed"] = true
	return result, nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func withPlanAttributes(query string, strategy Strategy) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("planner.strategy", string(strategy)),
			attribute.Int("planner.query_length", len(query)),
		),
	}
}

// planRuleBased matches query against the first pattern that fires; on no
// match it emits a single generic_execute task. Confidence is 0.8 on a
// match, 0.5 otherwise.
func (p *Planner) planRuleBased(query string, metadata map[string]any) *Result {
	graph := taskgraph.New()
	var reasoning strings.Builder
	reasoning.WriteString("Rule-based decomposition: ")

	matched := false
	for _, pattern := range p.patterns {
		m := pattern.regex.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		matched = true
		reasoning.WriteString("matched pattern. ")

		created := make([]*taskgraph.Task, 0, len(pattern.templates))
		for i, tmpl := range pattern.templates {
			paramValue := query
			if tmpl.extract > 0 && tmpl.extract < len(m) {
				paramValue = m[tmpl.extract]
			}

			dependsOn := make([]string, 0, len(tmpl.dependsOn))
			for _, idx := range tmpl.dependsOn {
				if idx < len(created) {
					dependsOn = append(dependsOn, created[idx].ID)
				}
			}

			task := taskgraph.NewTask(
				tmpl.action+"_"+itoa(i),
				tmpl.action,
				map[string]any{"input": strings.TrimSpace(paramValue)},
				dependsOn,
				taskgraph.PriorityNormal,
			)
			_ = graph.AddTask(task)
			created = append(created, task)
		}
		break
	}

	if !matched {
		reasoning.WriteString("no pattern matched, created single task.")
		task := taskgraph.NewTask("execute_query", "generic_execute", map[string]any{"query": query}, nil, taskgraph.PriorityNormal)
		_ = graph.AddTask(task)
	}

	confidence := 0.5
	if matched {
		confidence = 0.8
	}

	return &Result{
		Graph:        graph,
		StrategyUsed: StrategyRuleBased,
		Confidence:   confidence,
		Reasoning:    reasoning.String(),
		Metadata:     metadata,
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}

type llmTaskSpec struct {
	Name      string         `json:"name"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	DependsOn []int          `json:"depends_on"`
	Priority  int            `json:"priority"`
}

type llmDecomposition struct {
	Tasks     []llmTaskSpec `json:"tasks"`
	Reasoning string        `json:"reasoning"`
}

// planLLMBased sends a decomposition system prompt plus the user query to
// the model collaborator, parses the JSON response, and builds a graph
// with dependency indices resolved to generated task ids. Confidence is
// fixed at 0.9.
func (p *Planner) planLLMBased(query string, metadata map[string]any) (*Result, error) {
	if p.model == nil {
		return nil, herrors.New("planner.planLLMBased", herrors.KindDecompositionFailed, "llm-based planning requires a model collaborator")
	}

	systemPrompt := decompositionSystemPrompt()
	userPrompt := buildUserPrompt(query, p.availableActions())

	response, err := p.model.Generate(systemPrompt, userPrompt)
	if err != nil {
		return nil, herrors.Wrap("planner.planLLMBased", herrors.KindDecompositionFailed, "", err)
	}

	decomposition, err := parseLLMResponse(response)
	if err != nil {
		return nil, err
	}

	graph, err := buildGraphFromDecomposition(decomposition)
	if err != nil {
		return nil, err
	}

	llmMetadata := map[string]any{}
	for k, v := range metadata {
		llmMetadata[k] = v
	}
	llmMetadata["llm_response"] = response

	reasoning := decomposition.Reasoning
	if reasoning == "" {
		reasoning = "LLM decomposition"
	}

	return &Result{
		Graph:        graph,
		StrategyUsed: StrategyLLMBased,
		Confidence:   0.9,
		Reasoning:    reasoning,
		Metadata:     llmMetadata,
	}, nil
}

func decompositionSystemPrompt() string {
	return "You are an expert in decomposing complex tasks into atomic, " +
		"dependency-ordered steps with appropriate priorities " +
		"(CRITICAL=5, HIGH=4, NORMAL=3, LOW=2, OPTIONAL=1). " +
		"Respond with valid JSON only, no markdown."
}

func buildUserPrompt(query string, actions []string) string {
	var b strings.Builder
	b.WriteString("Decompose this query into atomic tasks:\n\nQuery: ")
	b.WriteString(query)
	b.WriteString("\n\nRespond ONLY with valid JSON in this shape:\n")
	b.WriteString(`{"tasks":[{"name":"...","action":"...","params":{},"depends_on":[],"priority":3}],"reasoning":"..."}`)
	b.WriteString("\n\nAvailable actions: ")
	b.WriteString(strings.Join(actions, ", "))
	return b.String()
}

func (p *Planner) availableActions() []string {
	if p.registry != nil {
		return p.registry.Names()
	}
	return []string{"read_file", "write_file", "search", "calculate", "analyze_data", "generate_report", "execute_code"}
}

// parseLLMResponse strips a surrounding markdown code fence (if any) and
// parses the JSON decomposition.
func parseLLMResponse(response string) (*llmDecomposition, error) {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		if len(lines) > 2 {
			cleaned = strings.Join(lines[1:len(lines)-1], "\n")
		}
	}

	var decomposition llmDecomposition
	if err := json.Unmarshal([]byte(cleaned), &decomposition); err != nil {
		return nil, herrors.Wrap("planner.parseLLMResponse", herrors.KindDecompositionFailed, "", err)
	}
	return &decomposition, nil
}

func buildGraphFromDecomposition(d *llmDecomposition) (*taskgraph.Graph, error) {
	graph := taskgraph.New()
	created := make([]*taskgraph.Task, 0, len(d.Tasks))

	for _, spec := range d.Tasks {
		dependsOn := make([]string, 0, len(spec.DependsOn))
		for _, idx := range spec.DependsOn {
			if idx >= 0 && idx < len(created) {
				dependsOn = append(dependsOn, created[idx].ID)
			}
		}

		action := spec.Action
		if action == "" {
			action = "generic_execute"
		}
		name := spec.Name
		if name == "" {
			name = "unnamed_task"
		}
		priority := taskgraph.Priority(spec.Priority)
		if priority < taskgraph.PriorityOptional || priority > taskgraph.PriorityCritical {
			priority = taskgraph.PriorityNormal
		}

		task := taskgraph.NewTask(name, action, spec.Params, dependsOn, priority)
		if err := graph.AddTask(task); err != nil {
			return nil, herrors.Wrap("planner.buildGraphFromDecomposition", herrors.KindDecompositionFailed, task.ID, err)
		}
		created = append(created, task)
	}

	return graph, nil
}

// planHybrid tries rule-based first; if its confidence is below 0.7 it
// refines with the LLM, falling back to the rule-based result if the LLM
// call fails.
func (p *Planner) planHybrid(query string, metadata map[string]any) (*Result, error) {
	ruleResult := p.planRuleBased(query, metadata)
	if ruleResult.Confidence >= 0.7 {
		ruleResult.StrategyUsed = StrategyHybrid
		ruleResult.Reasoning = "Hybrid (rule-based sufficient): " + ruleResult.Reasoning
		return ruleResult, nil
	}

	llmResult, err := p.planLLMBased(query, metadata)
	if err != nil {
		ruleResult.StrategyUsed = StrategyHybrid
		ruleResult.Reasoning = "Hybrid (LLM failed, fallback to rules): " + ruleResult.Reasoning
		return ruleResult, nil
	}
	llmResult.StrategyUsed = StrategyHybrid
	llmResult.Reasoning = "Hybrid (LLM refinement): " + llmResult.Reasoning
	return llmResult, nil
}

// validate re-checks invariants TaskGraph already guarantees (non-empty,
// acyclic) for defense in depth, plus action-registry membership when a
// registry was supplied.
func (p *Planner) validate(graph *taskgraph.Graph) error {
	if graph.Len() == 0 {
		return herrors.New("planner.validate", herrors.KindDecompositionFailed, "plan must contain at least one task")
	}

	if p.registry != nil {
		allowed := map[string]bool{}
		for _, name := range p.registry.Names() {
			allowed[name] = true
		}
		for _, t := range graph.Tasks() {
			if !allowed[t.Action] && t.Action != "generic_execute" {
				return herrors.New("planner.validate", herrors.KindDecompositionFailed, "unknown action '"+t.Action+"' in task "+t.ID)
			}
		}
	}

	// Already acyclic by construction, but the topological sort doubles
	// as an executability check (a plan that can't be ordered is a plan
	// that can't be executed).
	if order := graph.TopologicalSort(); len(order) != graph.Len() {
		return herrors.New("planner.validate", herrors.KindDecompositionFailed, "plan is not fully orderable")
	}

	return nil
}
