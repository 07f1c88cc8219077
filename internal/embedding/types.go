// Package embedding implements the engine's deterministic text→vector
// service (spec §4.1): a static embedder wrapped with an LRU cache and a
// one-shot circuit breaker, shared between the L3 tier and the code index.
package embedding

import (
	"context"
	"errors"
	"math"
)

var errClosed = errors.New("embedding: embedder is closed")

// DefaultDimensions is the embedding width spec §6 defaults to.
const DefaultDimensions = 384

// DefaultCacheSize is the LRU cache capacity (spec §4.1).
const DefaultCacheSize = 10000

// Embedder maps text to vectors. Implementations must be safe for
// concurrent use and must preserve input order in EmbedBatch's output.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Reset()
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	mag := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}
