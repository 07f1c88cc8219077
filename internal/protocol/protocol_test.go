package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestToMemoryViewProjectsCoreFields(t *testing.T) {
	m := &memory.Memory{
		ID:          "abc123",
		Type:        memory.TypeDecision,
		Content:     "use postgres",
		Tags:        []string{"db"},
		CreatedAt:   1000,
		UpdatedAt:   2000,
		AccessCount: 3,
		Pinned:      true,
		Metadata: memory.Metadata{
			Weight: 4,
			Source: memory.SourceSystemAuto,
			Extra:  map[string]any{"custom": "value"},
		},
	}

	v := ToMemoryView(m, memory.L2)

	assert.Equal(t, "abc123", v.ID)
	assert.Equal(t, "decision", v.Type)
	assert.Equal(t, "L2", v.Tier)
	assert.Equal(t, "use postgres", v.Content)
	assert.True(t, v.Pinned)
	assert.Equal(t, 4, v.Metadata["weight"])
	assert.Equal(t, "value", v.Metadata["custom"])
}

func TestToMemoryViewOmitsMetadataWhenEmpty(t *testing.T) {
	m := &memory.Memory{ID: "x", Type: memory.TypeScratchpad, Content: "note"}
	v := ToMemoryView(m, memory.L1)
	assert.Nil(t, v.Metadata)
}
