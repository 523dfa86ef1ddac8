package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitter_Validation(t *testing.T) {
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)

	_, err = NewSplitter(100, 100)
	assert.Error(t, err, "overlap equal to chunk size")

	_, err = NewSplitter(100, -1)
	assert.Error(t, err)
}

func TestSplit_ShortTextPassesThrough(t *testing.T) {
	s, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	chunks := s.Split("A short note.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short note.", chunks[0])
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	s, err := NewSplitter(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  \n "))
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s, err := NewSplitter(40, 0)
	require.NoError(t, err)

	para1 := "First paragraph stays whole."
	para2 := "Second paragraph stays whole."
	chunks := s.Split(para1 + "\n\n" + para2)

	require.Len(t, chunks, 2)
	assert.Equal(t, para1, chunks[0])
	assert.Equal(t, para2, chunks[1])
}

func TestSplit_ChunksStayWithinBudget(t *testing.T) {
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("some words about shipping and returns policies ")
	}
	chunks := s.Split(b.String())

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c), 100, "chunk %d exceeds budget: %q", i, c)
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	s, err := NewSplitter(50, 20)
	require.NoError(t, err)

	words := strings.Repeat("alpha beta gamma delta epsilon ", 10)
	chunks := s.Split(strings.TrimSpace(words))
	require.Greater(t, len(chunks), 1)

	// Each chunk opens with a suffix of its predecessor.
	for i := 1; i < len(chunks); i++ {
		overlapFound := false
		for n := min(len(chunks[i]), 20); n > 0; n-- {
			if strings.HasSuffix(chunks[i-1], chunks[i][:n]) {
				overlapFound = true
				break
			}
		}
		assert.True(t, overlapFound, "chunk %d shares no overlap with chunk %d", i, i-1)
	}
}

func TestSplit_HardCutsUnbrokenRuns(t *testing.T) {
	s, err := NewSplitter(100, 10)
	require.NoError(t, err)

	chunks := s.Split(strings.Repeat("x", 450))
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}

	// Nothing may be lost: the union of chunks covers the whole run.
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	assert.GreaterOrEqual(t, total, 450)
}

func TestSplit_MultibyteSafe(t *testing.T) {
	s, err := NewSplitter(50, 10)
	require.NoError(t, err)

	text := strings.Repeat("こんにちは", 100)
	for _, c := range s.Split(text) {
		assert.True(t, strings.HasPrefix(c, "こ") || strings.Contains("こんにちは", string([]rune(c)[0])),
			"chunk must start on a rune boundary")
	}
}
