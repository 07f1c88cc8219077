package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestForcedTierWinsOverEverything(t *testing.T) {
	d := Route("anything", memory.TypeScratchpad, []string{"global"}, 3600, memory.L2, false)
	assert.Equal(t, memory.L2, d.Tier)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "explicitly specified", d.Reason)
}

func TestTemporaryTagBeatsTypeAndTTL(t *testing.T) {
	d := Route("note", memory.TypeDecision, []string{"temp"}, 3600, "", false)
	assert.Equal(t, memory.L1, d.Tier)
}

func TestGlobalTagRoutesToL3(t *testing.T) {
	d := Route("convention text", memory.TypeScratchpad, []string{"universal"}, 0, "", false)
	assert.Equal(t, memory.L3, d.Tier)
}

func TestProjectTagRoutesToL2(t *testing.T) {
	d := Route("note", memory.TypeScratchpad, []string{"local"}, 0, "", false)
	assert.Equal(t, memory.L2, d.Tier)
}

func TestTagPriorityOrderTempBeforeGlobalBeforeProject(t *testing.T) {
	// Conflicting tags: temp should win per enumeration order (spec §4.5).
	d := Route("note", memory.TypeDecision, []string{"project", "global", "temp"}, 0, "", false)
	assert.Equal(t, memory.L1, d.Tier)

	d2 := Route("note", memory.TypeDecision, []string{"project", "global"}, 0, "", false)
	assert.Equal(t, memory.L3, d2.Tier)
}

func TestPositiveTTLRoutesToL1WhenNoTagMatches(t *testing.T) {
	d := Route("note", memory.TypeDecision, nil, 60, "", false)
	assert.Equal(t, memory.L1, d.Tier)
}

func TestTypeBasedRoutingToEachTier(t *testing.T) {
	assert.Equal(t, memory.L1, Route("x", memory.TypeScratchpad, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L1, Route("x", memory.TypeMessage, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L1, Route("x", memory.TypeThought, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L1, Route("x", memory.TypeObservation, nil, 0, "", false).Tier)

	assert.Equal(t, memory.L2, Route("x", memory.TypeDecision, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L2, Route("x", memory.TypeBugFix, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L2, Route("x", memory.TypeDocumentation, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L2, Route("x", memory.TypeError, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L2, Route("x", memory.TypeSummary, nil, 0, "", false).Tier)

	assert.Equal(t, memory.L3, Route("x", memory.TypeCodePattern, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L3, Route("x", memory.TypeConvention, nil, 0, "", false).Tier)
	assert.Equal(t, memory.L3, Route("x", memory.TypeRelationship, nil, 0, "", false).Tier)
}

func TestGenericCodeWithSessionHintRoutesToL1(t *testing.T) {
	d := Route("snippet", memory.TypeCode, nil, 0, "", true)
	assert.Equal(t, memory.L1, d.Tier)
}

func TestGenericCodeWithoutSessionHintRoutesToL2WithLoweredConfidence(t *testing.T) {
	d := Route("snippet", memory.TypeCode, nil, 0, "", false)
	assert.Equal(t, memory.L2, d.Tier)
	assert.LessOrEqual(t, d.Confidence, 0.65)
}

func TestUnknownTypeRoutesToL2WithLowConfidence(t *testing.T) {
	d := Route("snippet", memory.Type("mystery"), nil, 0, "", false)
	assert.Equal(t, memory.L2, d.Tier)
	assert.Less(t, d.Confidence, 0.7)
}
