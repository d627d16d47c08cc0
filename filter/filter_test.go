package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDropsBoilerplateSections(t *testing.T) {
	f := New([]string{"references"}, 0.90)
	chunks := []Chunk{
		{Text: "Patients were recruited from three hospitals.", Section: "methods", ChunkIndex: 0},
		{Text: "1. Smith J. et al. Journal of Medicine.", Section: "references", ChunkIndex: 1},
	}
	kept, stats := f.Apply(chunks)
	assert.Len(t, kept, 1)
	assert.Equal(t, "methods", kept[0].Section)
	assert.Equal(t, 2, stats.Original)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 1, stats.Removed)
}

func TestApplyDropsNearDuplicatesAtThreshold(t *testing.T) {
	f := New(nil, 0.90)
	chunks := []Chunk{
		{Text: "the patient cohort included fifty adults with diabetes", Section: "results", ChunkIndex: 0},
		{Text: "the patient cohort included fifty adults with diabetes", Section: "results", ChunkIndex: 1},
	}
	kept, _ := f.Apply(chunks)
	assert.Len(t, kept, 1)
}

func TestApplyKeepsChunksBelowThreshold(t *testing.T) {
	f := New(nil, 0.90)
	chunks := []Chunk{
		{Text: "the cohort included fifty adults with type two diabetes mellitus", Section: "results", ChunkIndex: 0},
		{Text: "a separate cohort of sixty children without any diabetes diagnosis", Section: "results", ChunkIndex: 1},
	}
	kept, _ := f.Apply(chunks)
	assert.Len(t, kept, 2)
}

func TestApplyStripsLonePageNumbersAndWatermarks(t *testing.T) {
	f := New(nil, 0.90)
	chunks := []Chunk{
		{Text: "Intro text.\n42\nDRAFT\nMore text.", Section: "intro", ChunkIndex: 0},
	}
	kept, _ := f.Apply(chunks)
	assert.NotContains(t, kept[0].Text, "42")
	assert.NotContains(t, kept[0].Text, "DRAFT")
	assert.Contains(t, kept[0].Text, "Intro text.")
}

func TestApplyStripsCitationBrackets(t *testing.T) {
	f := New(nil, 0.90)
	chunks := []Chunk{
		{Text: "This has been shown previously [12,13].", Section: "discussion", ChunkIndex: 0},
	}
	kept, _ := f.Apply(chunks)
	assert.NotContains(t, kept[0].Text, "[12,13]")
}

func TestApplyCollapsesBlankLineRuns(t *testing.T) {
	f := New(nil, 0.90)
	chunks := []Chunk{
		{Text: "para one\n\n\n\n\npara two", Section: "body", ChunkIndex: 0},
	}
	kept, _ := f.Apply(chunks)
	assert.NotContains(t, kept[0].Text, "\n\n\n")
}

func TestApplyIsIdempotent(t *testing.T) {
	f := New([]string{"references"}, 0.90)
	chunks := []Chunk{
		{Text: "Patients were recruited from three hospitals.", Section: "methods", ChunkIndex: 0},
	}
	once, _ := f.Apply(chunks)
	twice, _ := f.Apply(once)
	assert.Equal(t, once, twice)
}

func TestApplyZeroChunks(t *testing.T) {
	f := New(nil, 0.90)
	kept, stats := f.Apply(nil)
	assert.Empty(t, kept)
	assert.Equal(t, 0, stats.Original)
}
