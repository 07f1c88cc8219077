package embedding

import (
	"context"

	"github.com/contextfabric/context-fabric/internal/circuitbreaker"
	"github.com/contextfabric/context-fabric/internal/memerrors"
)

// CircuitBreakerEmbedder wraps an Embedder with a one-shot circuit breaker:
// once model initialization (the first call) fails, every subsequent call
// fails immediately with EmbeddingUnavailable until Reset is called
// explicitly (spec §4.1, design note §9). No automatic retry or half-open
// probing happens; this is deliberate, not an oversight.
type CircuitBreakerEmbedder struct {
	inner   Embedder
	breaker *circuitbreaker.Breaker
}

// NewCircuitBreakerEmbedder wraps inner with a one-shot breaker.
func NewCircuitBreakerEmbedder(inner Embedder) *CircuitBreakerEmbedder {
	return &CircuitBreakerEmbedder{
		inner:   inner,
		breaker: circuitbreaker.New(circuitbreaker.WithMaxFailures(1), circuitbreaker.WithResetTimeout(0)),
	}
}

func (c *CircuitBreakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.breaker.Allow() {
		return nil, memerrors.New(memerrors.EmbeddingUnavailable, "embedding circuit is open")
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, memerrors.Wrap(memerrors.EmbeddingUnavailable, err)
	}
	c.breaker.RecordSuccess()
	return v, nil
}

func (c *CircuitBreakerEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.breaker.Allow() {
		return nil, memerrors.New(memerrors.EmbeddingUnavailable, "embedding circuit is open")
	}
	v, err := c.inner.EmbedBatch(ctx, texts)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, memerrors.Wrap(memerrors.EmbeddingUnavailable, err)
	}
	c.breaker.RecordSuccess()
	return v, nil
}

func (c *CircuitBreakerEmbedder) Dimensions() int   { return c.inner.Dimensions() }
func (c *CircuitBreakerEmbedder) ModelName() string { return c.inner.ModelName() }

// Available reflects both the breaker state and the inner embedder.
func (c *CircuitBreakerEmbedder) Available(ctx context.Context) bool {
	return c.breaker.Allow() && c.inner.Available(ctx)
}

// Reset closes the breaker and resets the inner embedder, per spec §4.1
// ("until the service is explicitly reset").
func (c *CircuitBreakerEmbedder) Reset() {
	c.breaker.Reset()
	c.inner.Reset()
}

// Trip forces the breaker open, simulating a model-initialization failure.
// Exposed for callers (e.g. engine startup) that detect an unusable model
// before the first real Embed call.
func (c *CircuitBreakerEmbedder) Trip() {
	c.breaker.RecordFailure()
}
