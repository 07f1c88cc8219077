package codeindex

import (
	"fmt"
	"strings"

	"github.com/contextfabric/context-fabric/internal/memory"
)

// DefaultChunkLines and DefaultChunkOverlap are the fixed-window chunking
// parameters (spec §4.6).
const (
	DefaultChunkLines   = 150
	DefaultChunkOverlap = 10
	maxBoundaryShift    = 20
)

// ChunkFile splits content into fixed-line windows, nudging each window
// boundary to the nearest symbol line-start within maxBoundaryShift lines
// so a chunk rarely cuts a function in half. Windows overlap by
// DefaultChunkOverlap lines.
func ChunkFile(filePath string, content string, symbols []memory.Symbol) []memory.Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return nil
	}

	boundaries := symbolStartLines(symbols)
	maxEnd := len(lines)
	hardCap := DefaultChunkLines + 50

	var chunks []memory.Chunk
	start := 1 // 1-indexed line numbers throughout
	idx := 0
	for start <= maxEnd {
		end := start + DefaultChunkLines - 1
		if end > maxEnd {
			end = maxEnd
		} else {
			end = shiftToBoundary(end, start, hardCap, maxEnd, boundaries)
		}

		chunks = append(chunks, memory.Chunk{
			FilePath:   filePath,
			ChunkIndex: idx,
			LineStart:  start,
			LineEnd:    end,
			Content:    strings.Join(lines[start-1:end], "\n"),
		})
		idx++

		if end >= maxEnd {
			break
		}
		next := end - DefaultChunkOverlap + 1
		if next <= start {
			next = end + 1
		}
		start = next
	}
	return chunks
}

// EmbeddingInput returns the text to send to the embedding service for a
// chunk: a one-line "File: <path> (lines A-B)" header followed by the
// chunk's content. The header is never persisted as part of the chunk.
func EmbeddingInput(c memory.Chunk) string {
	header := fmt.Sprintf("File: %s (lines %d-%d)", c.FilePath, c.LineStart, c.LineEnd)
	return header + "\n" + c.Content
}

func symbolStartLines(symbols []memory.Symbol) []int {
	lines := make([]int, 0, len(symbols))
	for _, s := range symbols {
		lines = append(lines, s.LineStart)
	}
	return lines
}

// shiftToBoundary looks for a symbol start line within maxBoundaryShift
// lines of the proposed end, preferring one that keeps the chunk within
// [start, hardCapFromStart] and does not exceed maxEnd.
func shiftToBoundary(proposedEnd, start, chunkLinesCap, maxEnd int, boundaries []int) int {
	best := proposedEnd
	bestDist := maxBoundaryShift + 1
	hardLimit := start + chunkLinesCap - 1
	if hardLimit > maxEnd {
		hardLimit = maxEnd
	}

	for _, b := range boundaries {
		// A boundary line is where the NEXT chunk should start, so the
		// current chunk should end just before it.
		candidate := b - 1
		if candidate < start || candidate > hardLimit {
			continue
		}
		dist := candidate - proposedEnd
		if dist < 0 {
			dist = -dist
		}
		if dist <= maxBoundaryShift && dist < bestDist {
			best = candidate
			bestDist = dist
		}
	}
	if best < start {
		return proposedEnd
	}
	return best
}
