// Package provenance builds and persists W3C PROV-JSON graphs linking
// prompts, responses, tools, and agents — the record of how an artifact
// came to exist, as opposed to WormLog's record of raw events or
// decisionstore's record of signed decisions.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/filagent/htncore/herrors"
)

// Graph is a PROV-JSON document under construction. Relation lists that
// stay empty are omitted entirely from the serialized document.
type Graph struct {
	entities   map[string]map[string]any
	activities map[string]map[string]any
	agents     map[string]map[string]any

	wasGeneratedBy   []map[string]any
	used             []map[string]any
	wasAssociatedWith []map[string]any
	wasAttributedTo  []map[string]any
	wasDerivedFrom   []map[string]any
}

// NewGraph returns an empty provenance graph builder.
func NewGraph() *Graph {
	return &Graph{
		entities:   map[string]map[string]any{},
		activities: map[string]map[string]any{},
		agents:     map[string]map[string]any{},
	}
}

// AddEntity registers an artifact, optionally carrying a content hash or
// other attributes merged alongside prov:label.
func (g *Graph) AddEntity(id, label string, attrs map[string]any) *Graph {
	e := map[string]any{"prov:label": label}
	for k, v := range attrs {
		e[k] = v
	}
	g.entities[id] = e
	return g
}

// AddActivity registers a timestamped process.
func (g *Graph) AddActivity(id, start, end string) *Graph {
	g.activities[id] = map[string]any{
		"prov:type":      "Activity",
		"prov:startTime": start,
		"prov:endTime":   end,
	}
	return g
}

// WithActivityMetadata attaches metadata, as a whole, under the "metadata"
// key of a previously added activity; it does nothing if no activity has
// that id.
func (g *Graph) WithActivityMetadata(activityID string, metadata map[string]any) *Graph {
	if a, ok := g.activities[activityID]; ok {
		a["metadata"] = metadata
	}
	return g
}

// AddAgent registers a software agent (optionally versioned) or other
// agent type (person, organization).
func (g *Graph) AddAgent(id, agentType, version string) *Graph {
	a := map[string]any{"prov:type": agentType}
	if version != "" {
		a["version"] = version
	}
	g.agents[id] = a
	return g
}

func (g *Graph) LinkGenerated(entityID, activityID string) *Graph {
	g.wasGeneratedBy = append(g.wasGeneratedBy, map[string]any{"prov:entity": entityID, "prov:activity": activityID})
	return g
}

func (g *Graph) LinkUsed(activityID, entityID string) *Graph {
	g.used = append(g.used, map[string]any{"prov:activity": activityID, "prov:entity": entityID})
	return g
}

func (g *Graph) LinkAssociated(activityID, agentID string) *Graph {
	g.wasAssociatedWith = append(g.wasAssociatedWith, map[string]any{"prov:activity": activityID, "prov:agent": agentID})
	return g
}

func (g *Graph) LinkAttributed(entityID, agentID string) *Graph {
	g.wasAttributedTo = append(g.wasAttributedTo, map[string]any{"prov:entity": entityID, "prov:agent": agentID})
	return g
}

func (g *Graph) LinkDerived(generatedEntityID, usedEntityID string) *Graph {
	g.wasDerivedFrom = append(g.wasDerivedFrom, map[string]any{"prov:generatedEntity": generatedEntityID, "prov:usedEntity": usedEntityID})
	return g
}

// ToProvJSON renders the graph to its W3C PROV-JSON map form, omitting
// relation keys whose list is empty.
func (g *Graph) ToProvJSON() map[string]any {
	out := map[string]any{
		"entity":   g.entities,
		"activity": g.activities,
		"agent":    g.agents,
	}
	if len(g.wasGeneratedBy) > 0 {
		out["wasGeneratedBy"] = g.wasGeneratedBy
	}
	if len(g.wasAttributedTo) > 0 {
		out["wasAttributedTo"] = g.wasAttributedTo
	}
	if len(g.used) > 0 {
		out["used"] = g.used
	}
	if len(g.wasAssociatedWith) > 0 {
		out["wasAssociatedWith"] = g.wasAssociatedWith
	}
	if len(g.wasDerivedFrom) > 0 {
		out["wasDerivedFrom"] = g.wasDerivedFrom
	}
	return out
}

// Store persists provenance graphs to a directory, one JSON document per
// graph. TrackToolExecution names its file from the tool name and task id
// alone, so a repeat call for the same pair overwrites the earlier
// document; TrackGeneration's file name carries a random suffix after the
// task id and is not reproducible from its arguments.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, herrors.Wrap("provenance.NewStore", herrors.KindIntegrityCheckFailed, "", err)
	}
	return &Store{dir: dir}, nil
}

func sha256Hex(s string) string {
	if s == "" {
		return "empty"
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// TrackGeneration assembles a small graph around a single Planner/LLM
// generation (prompt entity, response entity, a generation activity, the
// software agent) and writes it to the store. Returns the provenance id.
func (s *Store) TrackGeneration(taskID, inputMessage, outputMessage, agentID, agentVersion, startTime, endTime string, metadata map[string]any) (string, error) {
	provID := fmt.Sprintf("prov-%s-%s", taskID, uuid.NewString()[:8])

	responseEntity := "response:" + taskID
	promptEntity := "prompt:" + taskID
	activityID := "gen:" + taskID

	g := NewGraph()
	g.AddEntity(responseEntity, "Response JSON", map[string]any{"hash": "sha256:" + sha256Hex(outputMessage)})
	g.AddEntity(promptEntity, "Prompt", map[string]any{"hash": "sha256:" + sha256Hex(inputMessage)})
	g.AddActivity(activityID, startTime, endTime)
	if metadata != nil {
		g.WithActivityMetadata(activityID, metadata)
	}
	g.AddAgent(agentID, "softwareAgent", agentVersion)
	g.LinkGenerated(responseEntity, activityID)
	g.LinkAssociated(activityID, agentID)
	g.LinkUsed(activityID, promptEntity)
	g.LinkDerived(responseEntity, promptEntity)

	if err := s.write(fmt.Sprintf("prov_%s.json", provID), g.ToProvJSON()); err != nil {
		return "", err
	}
	return provID, nil
}

// TrackToolExecution assembles and persists a graph around a single tool
// invocation, returning the PROV-JSON document for the caller to also
// embed (e.g. in a WormLog line).
func (s *Store) TrackToolExecution(toolName, inputHash, outputHash, taskID, startTime, endTime string) (map[string]any, error) {
	inputID := fmt.Sprintf("tool_input:%s:%s", taskID, toolName)
	outputID := fmt.Sprintf("tool_output:%s:%s", taskID, toolName)
	activityID := fmt.Sprintf("tool_exec:%s:%s", taskID, toolName)
	agentID := "tool:" + toolName

	g := NewGraph()
	g.AddEntity(inputID, "Tool input: "+toolName, map[string]any{"hash": "sha256:" + inputHash})
	g.AddEntity(outputID, "Tool output: "+toolName, map[string]any{"hash": "sha256:" + outputHash})
	g.AddActivity(activityID, startTime, endTime)
	g.AddAgent(agentID, "softwareAgent", "")
	g.LinkAssociated(activityID, agentID)
	g.LinkGenerated(outputID, activityID)
	g.LinkUsed(activityID, inputID)
	g.LinkDerived(outputID, inputID)

	doc := g.ToProvJSON()
	filename := fmt.Sprintf("prov-tool-%s-%s.json", toolName, taskID)
	if err := s.write(filename, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) write(filename string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return herrors.Wrap("provenance.write", herrors.KindIntegrityCheckFailed, filename, err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, filename), data, 0o644); err != nil {
		return herrors.Wrap("provenance.write", herrors.KindIntegrityCheckFailed, filename, err)
	}
	return nil
}
