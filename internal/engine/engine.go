package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/contextfabric/context-fabric/internal/codeindex"
	"github.com/contextfabric/context-fabric/internal/embedding"
	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
	"github.com/contextfabric/context-fabric/internal/router"
	"github.com/contextfabric/context-fabric/internal/tier1"
	"github.com/contextfabric/context-fabric/internal/tier2"
	"github.com/contextfabric/context-fabric/internal/tier3"
)

// Engine is the cross-tier orchestrator: it owns one instance of each tier
// plus the shared embedding service and (optionally) a project's code
// index, and exposes the operations spec §4.7 names (store/get/recall/
// update/delete/list/promote/summarize/orient) plus report_event and
// get_current from the external operation table (spec §6).
type Engine struct {
	tier1          *tier1.Tier
	tier2          *tier2.Tier
	tier3          *tier3.Tier
	embedder       embedding.Embedder
	codeIndex      *codeindex.Index
	codeVectorPath string
	watcher        func()
	fuser          *Fuser

	maxWorkingMemories  int
	maxRelevantMemories int
}

const (
	defaultMaxWorkingMemories  = 20
	defaultMaxRelevantMemories = 10
)

// New wires one instance of each tier, the shared embedding service, and an
// optional code index into an orchestrator. codeIndex and stopWatcher may
// be nil when code indexing is disabled; codeVectorPath is where the code
// index's vector graph is persisted on Close.
func New(l1 *tier1.Tier, l2 *tier2.Tier, l3 *tier3.Tier, embedder embedding.Embedder, codeIndex *codeindex.Index, codeVectorPath string, stopWatcher func()) *Engine {
	return &Engine{
		tier1: l1, tier2: l2, tier3: l3,
		embedder: embedder, codeIndex: codeIndex, codeVectorPath: codeVectorPath, watcher: stopWatcher,
		fuser:               NewFuser(),
		maxWorkingMemories:  defaultMaxWorkingMemories,
		maxRelevantMemories: defaultMaxRelevantMemories,
	}
}

// SetContextLimits overrides get_current's working/relevant memory caps from
// config.Context; values <= 0 are ignored and the default stands.
func (e *Engine) SetContextLimits(maxWorking, maxRelevant int) {
	if maxWorking > 0 {
		e.maxWorkingMemories = maxWorking
	}
	if maxRelevant > 0 {
		e.maxRelevantMemories = maxRelevant
	}
}

// Close releases every owned resource in reverse dependency order: watcher
// → code index → L3 → L2 → L1 (spec §5).
func (e *Engine) Close() error {
	if e.watcher != nil {
		e.watcher()
	}
	if e.codeIndex != nil {
		if err := e.codeIndex.Close(e.codeVectorPath); err != nil {
			slog.Warn("engine: code index close failed", slog.String("error", err.Error()))
		}
	}
	if err := e.tier3.Close(); err != nil {
		slog.Warn("engine: L3 close failed", slog.String("error", err.Error()))
	}
	if err := e.tier2.Close(); err != nil {
		slog.Warn("engine: L2 close failed", slog.String("error", err.Error()))
	}
	e.tier1.Clear()
	return nil
}

// embed produces a vector for content, degrading to nil (not an error) when
// the embedding service is unavailable, matching spec §4.7's failure
// semantics: "L3 stores still accept writes with null vectors ... such rows
// are excluded from semantic recall until re-embedded."
func (e *Engine) embed(ctx context.Context, content string) []float32 {
	if e.embedder == nil {
		return nil
	}
	v, err := e.embedder.Embed(ctx, content)
	if err != nil {
		slog.Warn("engine: embedding unavailable, storing without vector", slog.String("error", err.Error()))
		return nil
	}
	return v
}

// StoreOptions carries the optional fields of a store call (spec §6).
type StoreOptions struct {
	ForcedTier  memory.Tier
	Tags        []string
	TTLSeconds  int64
	Pinned      bool
	Metadata    memory.Metadata
	SessionHint bool
}

// Store routes content to the tier the router selects (or ForcedTier, if
// set) and persists it there.
func (e *Engine) Store(ctx context.Context, content string, typ memory.Type, opts StoreOptions) (*memory.Memory, error) {
	decision := router.Route(content, typ, opts.Tags, opts.TTLSeconds, opts.ForcedTier, opts.SessionHint)

	switch decision.Tier {
	case memory.L1:
		return e.tier1.Store(content, typ, opts.Tags, opts.Metadata, opts.TTLSeconds), nil

	case memory.L2:
		m, err := e.tier2.Store(ctx, content, typ, opts.Tags, opts.Metadata)
		if err != nil {
			return nil, err
		}
		if opts.Pinned {
			if err := e.tier2.SetPinned(ctx, m.ID, true); err != nil {
				return nil, err
			}
			m.Pinned = true
		}
		return m, nil

	default: // L3
		vec := e.embed(ctx, content)
		m, err := e.tier3.Store(ctx, content, typ, opts.Tags, opts.Metadata, vec)
		if err != nil {
			return nil, err
		}
		if opts.Pinned {
			if err := e.tier3.SetPinned(ctx, m.ID, true); err != nil {
				return nil, err
			}
			m.Pinned = true
		}
		return m, nil
	}
}

// Get searches L1, then L2, then L3, returning the first match and the
// tier it was found in. L2 lookups bump access count; L3 lookups do not
// (spec §4.7).
func (e *Engine) Get(ctx context.Context, id string) (*memory.Memory, memory.Tier, error) {
	if m, ok := e.tier1.Get(id); ok {
		return m, memory.L1, nil
	}
	if m, err := e.tier2.Get(ctx, id); err == nil {
		return m, memory.L2, nil
	} else if memerrors.KindOf(err) != memerrors.NotFound {
		return nil, "", err
	}
	if m, err := e.tier3.Get(ctx, id); err == nil {
		return m, memory.L3, nil
	} else if memerrors.KindOf(err) != memerrors.NotFound {
		return nil, "", err
	}
	return nil, "", memerrors.New(memerrors.NotFound, "memory not found: "+id)
}

// RecallOptions carries recall's optional filters (spec §4.7/§6).
type RecallOptions struct {
	Limit     int
	Threshold float64
	Types     []memory.Type
	Tags      []string
	Layers    []memory.Tier // empty means all three
}

// RecallHit is one recall result: the memory, its fused similarity, and the
// tier it came from.
type RecallHit struct {
	Memory     *memory.Memory
	Similarity float64
	Tier       memory.Tier
}

// Recall concurrently queries the selected tiers, fuses their ranked result
// lists via RRF, then applies the types/tags/layers filter, the
// similarity≥threshold filter, and the limit truncation, in that order
// (spec §4.7).
func (e *Engine) Recall(ctx context.Context, query string, opts RecallOptions) ([]RecallHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	layers := opts.Layers
	if len(layers) == 0 {
		layers = []memory.Tier{memory.L1, memory.L2, memory.L3}
	}
	wantLayer := make(map[memory.Tier]struct{}, len(layers))
	for _, l := range layers {
		wantLayer[l] = struct{}{}
	}

	byID := make(map[string]*memory.Memory)
	var recordMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	var l1List, l2SubList, l2BM25List, l3List RankedList

	if _, ok := wantLayer[memory.L1]; ok {
		g.Go(func() error {
			items, mems := e.recallL1(query)
			recordMu.Lock()
			l1List = RankedList{Source: "l1_text", Items: items}
			for id, m := range mems {
				byID[id] = m
			}
			recordMu.Unlock()
			return nil
		})
	}
	if _, ok := wantLayer[memory.L2]; ok {
		g.Go(func() error {
			items, mems, err := e.recallL2Substring(gctx, query)
			if err != nil {
				return err
			}
			recordMu.Lock()
			l2SubList = RankedList{Source: "l2_substring", Items: items}
			for id, m := range mems {
				byID[id] = m
			}
			recordMu.Unlock()
			return nil
		})
		g.Go(func() error {
			items, mems, err := e.recallL2BM25(gctx, query)
			if err != nil {
				return err
			}
			recordMu.Lock()
			l2BM25List = RankedList{Source: "l2_bm25", Items: items}
			for id, m := range mems {
				byID[id] = m
			}
			recordMu.Unlock()
			return nil
		})
	}
	if _, ok := wantLayer[memory.L3]; ok {
		g.Go(func() error {
			items, mems, err := e.recallL3(gctx, query)
			if err != nil {
				return err
			}
			recordMu.Lock()
			l3List = RankedList{Source: "l3_cosine", Items: items}
			for id, m := range mems {
				byID[id] = m
			}
			recordMu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var lists []RankedList
	for _, l := range []RankedList{l1List, l2SubList, l2BM25List, l3List} {
		if len(l.Items) > 0 {
			lists = append(lists, l)
		}
	}

	fused := e.fuser.Fuse(lists, nil)

	var out []RecallHit
	for _, f := range fused {
		m, ok := byID[f.ID]
		if !ok {
			continue
		}
		if len(opts.Types) > 0 && !containsType(opts.Types, m.Type) {
			continue
		}
		if len(opts.Tags) > 0 && !anyTagOverlap(m.Tags, opts.Tags) {
			continue
		}

		weight := m.Metadata.WeightOrDefault()
		similarity := f.RRFScore * (float64(weight) / 3.0)
		if similarity < opts.Threshold {
			continue
		}
		out = append(out, RecallHit{Memory: m, Similarity: similarity, Tier: m.Tier})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) recallL1(query string) ([]RankedItem, map[string]*memory.Memory) {
	q := strings.ToLower(query)
	var items []RankedItem
	mems := make(map[string]*memory.Memory)
	for _, m := range e.tier1.GetAll() {
		if q != "" && !strings.Contains(strings.ToLower(m.Content), q) {
			continue
		}
		items = append(items, RankedItem{ID: m.ID, Score: 1.0})
		mems[m.ID] = m
	}
	return items, mems
}

func (e *Engine) recallL2Substring(ctx context.Context, query string) ([]RankedItem, map[string]*memory.Memory, error) {
	results, err := e.tier2.SearchSubstring(ctx, query, 50)
	if err != nil {
		return nil, nil, err
	}
	items := make([]RankedItem, 0, len(results))
	mems := make(map[string]*memory.Memory, len(results))
	for _, m := range results {
		items = append(items, RankedItem{ID: m.ID, Score: 1.0})
		mems[m.ID] = m
	}
	return items, mems, nil
}

func (e *Engine) recallL2BM25(ctx context.Context, query string) ([]RankedItem, map[string]*memory.Memory, error) {
	results, err := e.tier2.Search(ctx, query, 50)
	if err != nil {
		return nil, nil, err
	}
	items := make([]RankedItem, 0, len(results))
	mems := make(map[string]*memory.Memory, len(results))
	for _, r := range results {
		items = append(items, RankedItem{ID: r.Memory.ID, Score: r.Score})
		mems[r.Memory.ID] = r.Memory
	}
	return items, mems, nil
}

func (e *Engine) recallL3(ctx context.Context, query string) ([]RankedItem, map[string]*memory.Memory, error) {
	if e.embedder == nil || !e.embedder.Available(ctx) {
		return nil, nil, nil
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("engine: recall degraded to BM25+substring, embedding failed", slog.String("error", err.Error()))
		return nil, nil, nil
	}
	results, err := e.tier3.Recall(ctx, vec, nil, 50)
	if err != nil {
		return nil, nil, err
	}
	items := make([]RankedItem, 0, len(results))
	mems := make(map[string]*memory.Memory, len(results))
	for _, r := range results {
		items = append(items, RankedItem{ID: r.Memory.ID, Score: r.Similarity})
		mems[r.Memory.ID] = r.Memory
		_ = e.tier3.Touch(ctx, r.Memory.ID, 0)
	}
	return items, mems, nil
}

func containsType(types []memory.Type, t memory.Type) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func anyTagOverlap(have, want []string) bool {
	set := make(map[string]struct{}, len(want))
	for _, w := range want {
		set[w] = struct{}{}
	}
	for _, h := range have {
		if _, ok := set[h]; ok {
			return true
		}
	}
	return false
}

// UpdatePatch carries update's optional fields (spec §6).
type UpdatePatch struct {
	Content     *string
	Tags        []string
	Metadata    *memory.Metadata
	Pinned      *bool
	Weight      *int
	TargetLayer memory.Tier
}

// Update rewrites a memory in place, unless it currently lives in L1
// (rejected as UnsupportedTransition) or the patch raises TargetLayer above
// the memory's current tier, which triggers Promote instead (spec §4.7).
func (e *Engine) Update(ctx context.Context, id string, patch UpdatePatch) (*memory.Memory, error) {
	current, tier, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if tier == memory.L1 {
		return nil, memerrors.New(memerrors.UnsupportedTransition, "update is not supported on L1")
	}

	if patch.TargetLayer != "" && tierRank(patch.TargetLayer) > tierRank(tier) {
		return e.Promote(ctx, id, tier)
	}

	meta := current.Metadata
	if patch.Metadata != nil {
		meta = *patch.Metadata
	}
	if patch.Weight != nil {
		meta.Weight = *patch.Weight
	}
	var metaArg *memory.Metadata
	if patch.Metadata != nil || patch.Weight != nil {
		metaArg = &meta
	}

	var updated *memory.Memory
	switch tier {
	case memory.L2:
		updated, err = e.tier2.Update(ctx, id, patch.Content, patch.Tags, metaArg)
		if err != nil {
			return nil, err
		}
		if patch.Pinned != nil {
			if err := e.tier2.SetPinned(ctx, id, *patch.Pinned); err != nil {
				return nil, err
			}
			updated.Pinned = *patch.Pinned
		}
	default: // L3
		var newEmbedding []float32
		if patch.Content != nil {
			newEmbedding = e.embed(ctx, *patch.Content)
		}
		updated, err = e.tier3.Update(ctx, id, patch.Content, patch.Tags, metaArg, newEmbedding)
		if err != nil {
			return nil, err
		}
		if patch.Pinned != nil {
			if err := e.tier3.SetPinned(ctx, id, *patch.Pinned); err != nil {
				return nil, err
			}
			updated.Pinned = *patch.Pinned
		}
	}
	return updated, nil
}

func tierRank(t memory.Tier) int {
	switch t {
	case memory.L1:
		return 1
	case memory.L2:
		return 2
	case memory.L3:
		return 3
	}
	return 0
}

// Delete removes a memory from whichever tier owns it.
func (e *Engine) Delete(ctx context.Context, id string) (memory.Tier, error) {
	_, tier, err := e.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch tier {
	case memory.L1:
		return tier, e.tier1.Delete(id)
	case memory.L2:
		return tier, e.tier2.Delete(ctx, id)
	default:
		return tier, e.tier3.Delete(ctx, id)
	}
}

// ListOptions carries list's optional filters (spec §4.7/§6). Tier defaults
// to L2, Limit to 20, Offset to 0.
type ListOptions struct {
	Tier   memory.Tier
	Type   memory.Type
	Tags   []string
	Limit  int
	Offset int
}

// ListPage is list's {items, total} result shape.
type ListPage struct {
	Items []*memory.Memory
	Total int
}

// List returns a page of memories from one tier, filtered by type and/or
// tags (spec §4.7).
func (e *Engine) List(ctx context.Context, opts ListOptions) (*ListPage, error) {
	tier := opts.Tier
	if tier == "" {
		tier = memory.L2
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var all []*memory.Memory
	var err error
	switch tier {
	case memory.L1:
		all = e.tier1.GetAll()
	case memory.L2:
		all, err = e.listL2(ctx, opts)
	case memory.L3:
		all, err = e.tier3.GetAll(ctx)
	default:
		return nil, memerrors.New(memerrors.ValidationError, "unknown tier: "+string(tier))
	}
	if err != nil {
		return nil, err
	}

	filtered := make([]*memory.Memory, 0, len(all))
	for _, m := range all {
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		if len(opts.Tags) > 0 && !anyTagOverlap(m.Tags, opts.Tags) {
			continue
		}
		filtered = append(filtered, m)
	}

	total := len(filtered)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &ListPage{Items: filtered[start:end], Total: total}, nil
}

func (e *Engine) listL2(ctx context.Context, opts ListOptions) ([]*memory.Memory, error) {
	switch {
	case opts.Type != "":
		return e.tier2.FindByType(ctx, opts.Type)
	case len(opts.Tags) > 0:
		return e.tier2.FindByTags(ctx, opts.Tags)
	default:
		return e.tier2.GetAll(ctx)
	}
}

// Promote copies a memory to the next higher tier under a fresh id, then
// removes the original. Promotion past L3 fails with UnsupportedTransition
// (spec §4.7). The write-then-delete order means a crash between steps
// leaves an orphan duplicate, reconciled by Get returning the highest-tier
// copy first (spec §5).
func (e *Engine) Promote(ctx context.Context, id string, fromTier memory.Tier) (*memory.Memory, error) {
	switch fromTier {
	case memory.L1:
		m, ok := e.tier1.Get(id)
		if !ok {
			return nil, memerrors.New(memerrors.NotFound, "L1 memory not found: "+id)
		}
		created, err := e.tier2.Store(ctx, m.Content, m.Type, m.Tags, m.Metadata)
		if err != nil {
			return nil, err
		}
		if m.Pinned {
			if err := e.tier2.SetPinned(ctx, created.ID, true); err != nil {
				return nil, err
			}
			created.Pinned = true
		}
		// L1's source-side step is a no-op that touches rather than deletes
		// (design note §9, open question (a)).
		_ = e.tier1.Touch(id)
		return created, nil

	case memory.L2:
		m, err := e.tier2.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		vec := e.embed(ctx, m.Content)
		created, err := e.tier3.Store(ctx, m.Content, m.Type, m.Tags, m.Metadata, vec)
		if err != nil {
			return nil, err
		}
		if m.Pinned {
			if err := e.tier3.SetPinned(ctx, created.ID, true); err != nil {
				return nil, err
			}
			created.Pinned = true
		}
		if err := e.tier2.Delete(ctx, id); err != nil {
			return nil, err
		}
		return created, nil

	default:
		return nil, memerrors.New(memerrors.UnsupportedTransition, "promote past L3 is not supported")
	}
}

// SummarizeResult is summarize's {summaryId, count, content} result shape.
type SummarizeResult struct {
	SummaryID string
	Count     int
	Content   string
}

// Summarize delegates to the owning tier's summarizer: L2 buckets memories
// by type into a persisted summary memory; L3 runs one decay pass and
// returns a pseudo-summary of the affected count; L1 is rejected
// (spec §4.7).
func (e *Engine) Summarize(ctx context.Context, tier memory.Tier, olderThanDays float64) (*SummarizeResult, error) {
	switch tier {
	case memory.L1:
		return nil, memerrors.New(memerrors.UnsupportedTransition, "summarize is not supported on L1")

	case memory.L2:
		result, err := e.tier2.Summarize(ctx, olderThanDays)
		if err != nil {
			return nil, err
		}
		return &SummarizeResult{SummaryID: result.Summary.ID, Count: result.Archived, Content: result.Summary.Content}, nil

	default: // L3
		result, err := e.tier3.Decay(ctx, olderThanDays, tier3.DefaultDecayThreshold)
		if err != nil {
			return nil, err
		}
		content := fmt.Sprintf("decay pass: scanned=%d updated=%d deleted=%d", result.Scanned, result.Updated, result.Deleted)
		return &SummarizeResult{SummaryID: memory.NewID(), Count: result.Deleted + result.Updated, Content: content}, nil
	}
}

// Event is report_event's input (spec §6).
type Event struct {
	Type        string
	Payload     map[string]any
	Timestamp   int64
	SessionID   string
	CLIType     string
	ProjectPath string
}

// ReportResult is report_event's {processed, memoryId?, triggeredActions}
// result shape.
type ReportResult struct {
	Processed        bool
	MemoryID         string
	TriggeredActions []string
}

// ReportEvent records a CLI lifecycle event as an ephemeral L1 observation,
// so later recall/orient calls can surface recent session activity.
func (e *Engine) ReportEvent(ctx context.Context, event Event) (*ReportResult, error) {
	content := fmt.Sprintf("event: %s", event.Type)
	meta := memory.Metadata{
		Source: memory.SourceSystemAuto, CLIType: event.CLIType,
		ProjectPath: event.ProjectPath, SessionID: event.SessionID,
		Extra: event.Payload,
	}
	m := e.tier1.Store(content, memory.TypeObservation, []string{"event:" + event.Type}, meta, 0)
	return &ReportResult{Processed: true, MemoryID: m.ID}, nil
}

// GetCurrent assembles the working context window for a session: its
// active L1 memories plus the project's most recently touched L2 memories.
func (e *Engine) GetCurrent(ctx context.Context, sessionID, currentFile, projectPath string) (*ContextWindow, error) {
	working := e.tier1.GetAll()
	if len(working) > e.maxWorkingMemories {
		working = working[:e.maxWorkingMemories]
	}

	recent, err := e.tier2.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(recent) > e.maxRelevantMemories {
		recent = recent[:e.maxRelevantMemories]
	}

	return &ContextWindow{
		SessionID:        sessionID,
		CurrentFile:      currentFile,
		WorkingMemories:  working,
		RelevantMemories: recent,
	}, nil
}

// ContextWindow is get_current's result shape (spec §6).
type ContextWindow struct {
	SessionID        string
	CurrentFile      string
	WorkingMemories  []*memory.Memory
	RelevantMemories []*memory.Memory
}

// SearchCode delegates to the project's code index, if enabled.
func (e *Engine) SearchCode(ctx context.Context, mode codeindex.SearchMode, query, pathFilter string, limit int) ([]codeindex.CodeMatch, error) {
	if e.codeIndex == nil {
		return nil, memerrors.New(memerrors.ValidationError, "code index is not enabled for this project")
	}
	return e.codeIndex.Search(ctx, mode, query, pathFilter, limit)
}
