package tier1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestStoreAndGetRoundTrip(t *testing.T) {
	tier := New(10)
	m := tier.Store("Remember to refactor", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)

	got, ok := tier.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, "Remember to refactor", got.Content)
	assert.EqualValues(t, 1, got.AccessCount)
}

func TestGetAfterTTLExpiryReturnsAbsent(t *testing.T) {
	tier := New(10)
	m := tier.Store("short lived", memory.TypeScratchpad, nil, memory.Metadata{}, 1)
	// Simulate elapsed time by rewriting the stored expiry into the past.
	tier.mu.Lock()
	tier.entries[m.ID].expiresAt = memory.NowMillis() - 1
	tier.mu.Unlock()

	_, ok := tier.Get(m.ID)
	assert.False(t, ok)
}

func TestDeleteThenGetAbsent(t *testing.T) {
	tier := New(10)
	m := tier.Store("x", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)
	require.NoError(t, tier.Delete(m.ID))
	_, ok := tier.Get(m.ID)
	assert.False(t, ok)
}

func TestEvictsOldestByLastAccessedOnOverflow(t *testing.T) {
	tier := New(2)
	a := tier.Store("a", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)
	b := tier.Store("b", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)

	// Touch b so it is more recently accessed than a.
	_, _ = tier.Get(b.ID)

	tier.Store("c", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)

	_, aPresent := tier.Get(a.ID)
	_, bPresent := tier.Get(b.ID)
	assert.False(t, aPresent, "oldest entry should have been evicted")
	assert.True(t, bPresent)
	assert.Equal(t, 2, tier.Size())
}

func TestTouchUpdatesLastAccessedWithoutReturningMemory(t *testing.T) {
	tier := New(10)
	m := tier.Store("x", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)
	require.NoError(t, tier.Touch(m.ID))
}

func TestClearRemovesAllEntries(t *testing.T) {
	tier := New(10)
	tier.Store("a", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)
	tier.Store("b", memory.TypeScratchpad, nil, memory.Metadata{}, 3600)
	tier.Clear()
	assert.Equal(t, 0, tier.Size())
}
