package consolidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/model"
)

func TestExtractEntities(t *testing.T) {
	entry := &model.WorkingMemoryEntry{
		FullText:    "We migrated the billing pipeline to Initech Cloud last sprint.",
		KeyEntities: []string{"billing pipeline"},
		Topics:      []string{"migration"},
		Timestamp:   time.Now(),
	}

	entities := extractEntities(entry)
	names := map[string]string{}
	for _, e := range entities {
		names[e.Name] = e.Type
	}

	assert.Equal(t, "entity", names["billing pipeline"])
	assert.Equal(t, "concept", names["migration"])
	assert.Equal(t, "entity", names["Initech Cloud"])
	// Sentence-leading "We" is noise, not an entity.
	assert.NotContains(t, names, "We")
}

func TestExtractEntities_Deduplicates(t *testing.T) {
	entry := &model.WorkingMemoryEntry{
		FullText:    "Ask Initech about the Initech contract",
		KeyEntities: []string{"initech"},
	}
	entities := extractEntities(entry)
	count := 0
	for _, e := range entities {
		if e.Name == "initech" || e.Name == "Initech" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestExtractFacts(t *testing.T) {
	entry := &model.WorkingMemoryEntry{
		FullText: "Alice works at Initech. I prefer dark mode. We decided to use SQLite.",
	}
	facts := extractFacts(entry)
	require.Len(t, facts, 3)

	byProperty := map[string]extractedFact{}
	for _, f := range facts {
		byProperty[f.Property] = f
	}

	assert.Equal(t, "Alice", byProperty["works_at"].EntityName)
	assert.Equal(t, "Initech", byProperty["works_at"].Value)
	assert.Equal(t, "dark mode", byProperty["preference"].Value)
	assert.Equal(t, "SQLite", byProperty["uses"].Value)
}

func TestExtractSkillCandidate(t *testing.T) {
	procedural := &model.WorkingMemoryEntry{
		UserIntent: "deploy the service",
		FullText:   "First build the image, then run the migration, finally deploy.",
	}
	candidate := extractSkillCandidate(procedural)
	require.NotNil(t, candidate)
	assert.Equal(t, "deploy the service", candidate.Name)
	assert.Equal(t, "deploy the service", candidate.Trigger)

	noIntent := &model.WorkingMemoryEntry{FullText: "First do this, then that."}
	assert.Nil(t, extractSkillCandidate(noIntent))

	noProcedure := &model.WorkingMemoryEntry{UserIntent: "chat", FullText: "hello there"}
	assert.Nil(t, extractSkillCandidate(noProcedure))
}
