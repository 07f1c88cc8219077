package engine

import (
	"context"
	"time"

	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
	"github.com/contextfabric/context-fabric/internal/tier2"
)

// Anchor is a richly decomposed timestamp for a given IANA zone (GLOSSARY).
type Anchor struct {
	EpochMillis int64
	Date        string // YYYY-MM-DD
	TimeOfDay   string // HH:MM:SS
	DayOfWeek   string
	WeekNumber  int
	StartOfDay  int64
	EndOfDay    int64
	StartOfWeek int64
	EndOfWeek   int64
	Timezone    string
}

// newAnchor decomposes millis into an Anchor for the named IANA zone.
// tz == "" defaults to UTC.
func newAnchor(millis int64, tz string) (Anchor, error) {
	loc := time.UTC
	zone := "UTC"
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Anchor{}, memerrors.Wrap(memerrors.ValidationError, err)
		}
		loc = l
		zone = tz
	}

	t := time.UnixMilli(millis).In(loc)
	_, week := t.ISOWeek()

	startOfDay := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	endOfDay := startOfDay.Add(24*time.Hour - time.Millisecond)

	// Monday-anchored week, matching ISOWeek's convention.
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	startOfWeek := startOfDay.AddDate(0, 0, -(weekday - 1))
	endOfWeek := startOfWeek.AddDate(0, 0, 7).Add(-time.Millisecond)

	return Anchor{
		EpochMillis: millis,
		Date:        t.Format("2006-01-02"),
		TimeOfDay:   t.Format("15:04:05"),
		DayOfWeek:   t.Weekday().String(),
		WeekNumber:  week,
		StartOfDay:  startOfDay.UnixMilli(),
		EndOfDay:    endOfDay.UnixMilli(),
		StartOfWeek: startOfWeek.UnixMilli(),
		EndOfWeek:   endOfWeek.UnixMilli(),
		Timezone:    zone,
	}, nil
}

// OfflineGap is the interval since the project's previous last_seen, plus
// how many memories were created during it (GLOSSARY).
type OfflineGap struct {
	SinceMillis      int64
	DurationMillis   int64
	MemoriesSinceGap int
}

// OrientResult is engine.Orient's return shape (spec §4.7/§6).
type OrientResult struct {
	TimeAnchor                  Anchor
	OfflineGap                  *OfflineGap // nil if there was no prior last_seen
	RecentMemoriesSinceLastSeen []*memory.Memory
}

// Orient consults project's last_seen, computes the anchor and offline gap,
// then updates last_seen to now (spec §4.7).
func (e *Engine) Orient(ctx context.Context, projectPath, timezone string) (*OrientResult, error) {
	proj, err := e.projectTier(projectPath)
	if err != nil {
		return nil, err
	}

	now := memory.NowMillis()
	anchor, err := newAnchor(now, timezone)
	if err != nil {
		return nil, err
	}

	lastSeen, err := proj.GetLastSeen(ctx)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "orient", "", err)
	}

	result := &OrientResult{TimeAnchor: anchor}

	if lastSeen > 0 {
		recent, err := proj.GetMemoriesSince(ctx, lastSeen)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "orient", "", err)
		}
		result.OfflineGap = &OfflineGap{
			SinceMillis:      lastSeen,
			DurationMillis:   now - lastSeen,
			MemoriesSinceGap: len(recent),
		}
		result.RecentMemoriesSinceLastSeen = recent
	}

	if err := proj.UpdateLastSeen(ctx); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "orient", "", err)
	}
	return result, nil
}

// projectTier resolves the L2 tier instance backing projectPath. A single
// Engine is scoped to one project's L2 database, so orient always operates
// on e.tier2 — projectPath is accepted (and validated) for protocol-shape
// compatibility with spec §6's operation table.
func (e *Engine) projectTier(projectPath string) (*tier2.Tier, error) {
	if projectPath == "" {
		return nil, memerrors.New(memerrors.ValidationError, "orient: projectPath is required")
	}
	return e.tier2, nil
}
