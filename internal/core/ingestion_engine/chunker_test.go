package ingestion_engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariants asserts the structural guarantees every chunking must
// hold: exact offsets, contiguous ordinals, full coverage, bounded size and
// bounded overlap.
func checkInvariants(t *testing.T, text string, segs []Segment, size, overlap int) {
	t.Helper()
	require.NotEmpty(t, segs)

	assert.Equal(t, 0, segs[0].StartChar, "first segment must start at 0")
	assert.Equal(t, len(text), segs[len(segs)-1].EndChar, "last segment must end at len(text)")

	for i, s := range segs {
		assert.Equal(t, i, s.Index, "ordinals must be contiguous from 0")
		require.Equal(t, text[s.StartChar:s.EndChar], s.Content,
			"segment %d content must equal text[start:end]", i)
		assert.LessOrEqual(t, s.EndChar-s.StartChar, size, "segment %d exceeds chunk size", i)

		if i == 0 {
			continue
		}
		prev := segs[i-1]
		assert.Greater(t, s.StartChar, prev.StartChar, "start cursor must strictly advance")
		assert.LessOrEqual(t, s.StartChar, prev.EndChar, "segments must leave no gap")
		assert.LessOrEqual(t, prev.EndChar-s.StartChar, overlap, "overlap exceeds budget")
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	c := NewChunker(1000, 100)
	assert.Nil(t, c.Chunk(""))
}

func TestChunkerShortInputSingleSegment(t *testing.T) {
	c := NewChunker(1000, 100)
	text := "WHEREAS the board convened on the first day of the month."

	segs := c.Chunk(text)

	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].Index)
	assert.Equal(t, text, segs[0].Content)
	assert.Equal(t, 0, segs[0].StartChar)
	assert.Equal(t, len(text), segs[0].EndChar)
}

func TestChunkerResolutionDocument(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Resolution 2024-17\n\n")
	b.WriteString("WHEREAS the board has reviewed the annual budget proposal submitted by the finance committee. ")
	b.WriteString("WHEREAS the proposal includes allocations for facility maintenance and staff development. ")
	b.WriteString("RESOLVED that the budget is adopted as presented. ")
	b.WriteString("SECTION 1. The treasurer shall publish the adopted budget within thirty days. ")
	b.WriteString("SECTION 2. This resolution takes effect immediately upon adoption.")
	text := b.String()

	c := NewChunker(120, 30)
	segs := c.Chunk(text)

	require.Greater(t, len(segs), 1)
	checkInvariants(t, text, segs, 120, 30)
}

func TestChunkerParagraphText(t *testing.T) {
	paras := make([]string, 8)
	for i := range paras {
		paras[i] = strings.Repeat("All parties shall comply with the terms herein. ", 3)
	}
	text := strings.TrimSpace(strings.Join(paras, "\n\n"))

	c := NewChunker(200, 40)
	segs := c.Chunk(text)

	require.Greater(t, len(segs), 1)
	checkInvariants(t, text, segs, 200, 40)
}

func TestChunkerNoSeparatorsHardCut(t *testing.T) {
	// No separator from the cascade appears anywhere, forcing the hard cut
	// at the size boundary.
	text := strings.Repeat("x", 2500)

	c := NewChunker(1000, 100)
	segs := c.Chunk(text)

	require.Len(t, segs, 3)
	checkInvariants(t, text, segs, 1000, 100)
}

func TestChunkerHardCutKeepsRunesWhole(t *testing.T) {
	// Two-byte runes with no separator anywhere; an odd chunk size would land
	// every hard cut mid-rune unless the cut walks back to a rune boundary.
	text := strings.Repeat("ß", 800)

	c := NewChunker(501, 0)
	segs := c.Chunk(text)

	require.Greater(t, len(segs), 1)
	checkInvariants(t, text, segs, 501, 0)
	for i, s := range segs {
		assert.True(t, utf8.ValidString(s.Content), "segment %d splits a rune", i)
	}
}

func TestChunkerRepeatedPassages(t *testing.T) {
	// Identical sentences must land at distinct, monotonically increasing
	// offsets; offsets are threaded, never found by searching.
	sentence := "The quorum requirement is a majority of voting members. "
	text := strings.TrimSpace(strings.Repeat(sentence, 40))

	c := NewChunker(150, 30)
	segs := c.Chunk(text)

	require.Greater(t, len(segs), 2)
	checkInvariants(t, text, segs, 150, 30)
}

func TestChunkerDefaultConfigFallback(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	// Overlap must stay below size or chunking could stall.
	c = NewChunker(50, 50)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)
}

func TestSplitBefore(t *testing.T) {
	parts := splitBefore("WHEREAS one. WHEREAS two.", "WHEREAS ")
	require.Equal(t, []string{"WHEREAS one. ", "WHEREAS two."}, parts)
	assert.Equal(t, "WHEREAS one. WHEREAS two.", strings.Join(parts, ""))
}

func TestSplitAfter(t *testing.T) {
	parts := splitAfter("one. two. three.", ". ")
	require.Equal(t, []string{"one. ", "two. ", "three."}, parts)
	assert.Equal(t, "one. two. three.", strings.Join(parts, ""))
}
