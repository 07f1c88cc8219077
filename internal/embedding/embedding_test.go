package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memerrors"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	e := NewStaticEmbedder(384)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(ctx, "hello world")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 384)
}

func TestStaticEmbedderEmptyText(t *testing.T) {
	e := NewStaticEmbedder(384)
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Len(t, v, 384)
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	e := NewStaticEmbedder(64)
	texts := []string{"alpha", "beta", "gamma"}
	got, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, text := range texts {
		want, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got[i])
	}
}

func TestCachedEmbedderReusesVector(t *testing.T) {
	base := NewStaticEmbedder(32)
	cached := NewCachedEmbedder(base, 10)

	v1, err := cached.Embed(context.Background(), "repeat me")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "repeat me")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
}

type failingEmbedder struct{ dims int }

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, assertErr
}
func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, assertErr
}
func (f *failingEmbedder) Dimensions() int                      { return f.dims }
func (f *failingEmbedder) ModelName() string                    { return "failing" }
func (f *failingEmbedder) Available(ctx context.Context) bool   { return true }
func (f *failingEmbedder) Reset()                               {}

var assertErr = assertError("embedder boom")

type assertError string

func (e assertError) Error() string { return string(e) }

func TestCircuitBreakerOpensOnFirstFailureAndStaysOpen(t *testing.T) {
	inner := &failingEmbedder{dims: 384}
	cb := NewCircuitBreakerEmbedder(inner)

	_, err := cb.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, memerrors.EmbeddingUnavailable, memerrors.KindOf(err))

	// Second call should fail immediately without calling inner again;
	// since inner always fails anyway we can't observe call count here,
	// but the breaker must remain open and return the same kind.
	_, err = cb.Embed(context.Background(), "y")
	require.Error(t, err)
	assert.Equal(t, memerrors.EmbeddingUnavailable, memerrors.KindOf(err))

	cb.Reset()
	// After reset, inner is still failing, so it fails again but the
	// breaker itself is no longer pre-emptively rejecting.
	_, err = cb.Embed(context.Background(), "z")
	require.Error(t, err)
}
