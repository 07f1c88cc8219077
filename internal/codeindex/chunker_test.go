package codeindex

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func linesOfCount(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = "line " + strconv.Itoa(i+1)
	}
	return strings.Join(lines, "\n")
}

func TestChunkFileShortContentIsSingleChunk(t *testing.T) {
	content := linesOfCount(50)
	chunks := ChunkFile("small.go", content, nil)
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 50, chunks[0].LineEnd)
}

func TestChunkFileSplitsLongContentWithOverlap(t *testing.T) {
	content := linesOfCount(400)
	chunks := ChunkFile("big.go", content, nil)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		// consecutive chunks overlap by DefaultChunkOverlap lines
		assert.LessOrEqual(t, chunks[i].LineStart, chunks[i-1].LineEnd)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, 400, last.LineEnd)
}

func TestChunkFileShiftsBoundaryTowardSymbolStart(t *testing.T) {
	content := linesOfCount(400)
	symbols := []memory.Symbol{
		{Name: "Widget", LineStart: 145},
	}
	chunks := ChunkFile("bound.go", content, symbols)
	require.NotEmpty(t, chunks)
	// first chunk should end just before the symbol start, not at a hard 150
	assert.Equal(t, 144, chunks[0].LineEnd)
}

func TestEmbeddingInputIncludesHeaderNotStoredInContent(t *testing.T) {
	c := memory.Chunk{FilePath: "a/b.go", LineStart: 1, LineEnd: 3, Content: "x\ny\nz"}
	input := EmbeddingInput(c)
	assert.Contains(t, input, "File: a/b.go (lines 1-3)")
	assert.NotContains(t, c.Content, "File:")
}
