package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphOmitsEmptyRelationLists(t *testing.T) {
	g := NewGraph()
	g.AddEntity("e1", "thing", nil)

	doc := g.ToProvJSON()
	assert.Contains(t, doc, "entity")
	assert.NotContains(t, doc, "wasGeneratedBy")
	assert.NotContains(t, doc, "used")
}

func TestGraphIncludesPopulatedRelations(t *testing.T) {
	g := NewGraph()
	g.AddEntity("out", "output", nil)
	g.AddActivity("act", "t0", "t1")
	g.AddAgent("agent", "softwareAgent", "1.0.0")
	g.LinkGenerated("out", "act")
	g.LinkAssociated("act", "agent")

	doc := g.ToProvJSON()
	assert.Len(t, doc["wasGeneratedBy"], 1)
	assert.Len(t, doc["wasAssociatedWith"], 1)
}

func TestTrackGenerationWritesDocument(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id, err := s.TrackGeneration("task-1", "hello", "world", "htncore", "1.0.0", "t0", "t1", nil)
	require.NoError(t, err)
	assert.Contains(t, id, "prov-task-1-")
}

func TestTrackToolExecutionReturnsDoc(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	doc, err := s.TrackToolExecution("search", "inhash", "outhash", "task-1", "t0", "t1")
	require.NoError(t, err)
	assert.Contains(t, doc, "wasGeneratedBy")
	assert.Contains(t, doc, "wasDerivedFrom")
}
