package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestOrientWithNoPriorLastSeenReturnsNilOfflineGap(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	result, err := e.Orient(ctx, "/tmp/proj", "")
	require.NoError(t, err)
	assert.Nil(t, result.OfflineGap)
	assert.Equal(t, "UTC", result.TimeAnchor.Timezone)
}

func TestOrientWithPriorLastSeenReportsOfflineGapAndRecentMemories(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Orient(ctx, "/tmp/proj", "")
	require.NoError(t, err)

	_, err = e.Store(ctx, "a decision made while away", memory.TypeDecision, StoreOptions{})
	require.NoError(t, err)

	result, err := e.Orient(ctx, "/tmp/proj", "")
	require.NoError(t, err)
	require.NotNil(t, result.OfflineGap)
	assert.Equal(t, 1, result.OfflineGap.MemoriesSinceGap)
	assert.Len(t, result.RecentMemoriesSinceLastSeen, 1)
}

func TestOrientRejectsInvalidTimezone(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Orient(ctx, "/tmp/proj", "Not/A_Zone")
	assert.Equal(t, memerrors.ValidationError, memerrors.KindOf(err))
}

func TestOrientRejectsEmptyProjectPath(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.Orient(ctx, "", "")
	assert.Equal(t, memerrors.ValidationError, memerrors.KindOf(err))
}

func TestNewAnchorDecomposesKnownTimestamp(t *testing.T) {
	// 2024-01-15 is a Monday.
	ts := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC).UnixMilli()

	anchor, err := newAnchor(ts, "")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-15", anchor.Date)
	assert.Equal(t, "14:30:00", anchor.TimeOfDay)
	assert.Equal(t, "Monday", anchor.DayOfWeek)
	assert.Equal(t, anchor.StartOfDay, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).UnixMilli())
	assert.Equal(t, anchor.StartOfWeek, anchor.StartOfDay)
}

func TestNewAnchorWithNamedZone(t *testing.T) {
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	anchor, err := newAnchor(ts, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", anchor.Timezone)
	assert.Equal(t, "08:00:00", anchor.TimeOfDay)
}
