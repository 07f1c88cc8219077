// Package protocol defines the typed request/result records for the eleven
// named operations the engine exposes (spec §6): get_current, store, recall,
// summarize, get, update, delete, list, report_event, search_code, orient.
// These are the shapes a protocol adapter (internal/mcpserver, or any future
// transport) translates to and from its own wire format; the package itself
// has no knowledge of MCP, JSON-RPC, or any other transport.
package protocol

import "github.com/contextfabric/context-fabric/internal/memory"

// MemoryView is the wire-safe projection of a memory.Memory returned by any
// operation. Tier travels alongside content since several operations
// (recall, get, update) need to report which tier currently owns a memory.
type MemoryView struct {
	ID             string         `json:"id" jsonschema:"memory identifier"`
	Type           string         `json:"type" jsonschema:"memory type, e.g. decision, scratchpad, code"`
	Tier           string         `json:"tier" jsonschema:"owning tier: L1, L2, or L3"`
	Content        string         `json:"content" jsonschema:"memory content"`
	Tags           []string       `json:"tags,omitempty" jsonschema:"tags attached to the memory"`
	Metadata       map[string]any `json:"metadata,omitempty" jsonschema:"free-form metadata"`
	CreatedAt      int64          `json:"createdAt" jsonschema:"epoch milliseconds"`
	UpdatedAt      int64          `json:"updatedAt" jsonschema:"epoch milliseconds"`
	AccessCount    int64          `json:"accessCount" jsonschema:"number of times recalled or fetched"`
	Pinned         bool           `json:"pinned,omitempty" jsonschema:"true if exempt from decay"`
	TTLSeconds     int64          `json:"ttlSeconds,omitempty" jsonschema:"L1-only time to live in seconds"`
	Similarity     float64        `json:"similarity,omitempty" jsonschema:"fused similarity score from recall, 0-1"`
	RelevanceScore float64        `json:"relevanceScore,omitempty" jsonschema:"recency/access-weighted relevance score"`
}

// ToMemoryView projects an internal memory.Memory into the wire shape.
func ToMemoryView(m *memory.Memory, tier memory.Tier) MemoryView {
	v := MemoryView{
		ID:             m.ID,
		Type:           string(m.Type),
		Tier:           string(tier),
		Content:        m.Content,
		Tags:           m.Tags,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		AccessCount:    m.AccessCount,
		Pinned:         m.Pinned,
		TTLSeconds:     m.TTLSeconds,
		Similarity:     m.Similarity,
		RelevanceScore: m.RelevanceScore,
	}
	if meta := metadataToMap(m.Metadata); len(meta) > 0 {
		v.Metadata = meta
	}
	return v
}

func metadataToMap(m memory.Metadata) map[string]any {
	out := map[string]any{}
	if m.Weight != 0 {
		out["weight"] = m.Weight
	}
	if m.Confidence != 0 {
		out["confidence"] = m.Confidence
	}
	if m.Source != "" {
		out["source"] = string(m.Source)
	}
	if m.CLIType != "" {
		out["cliType"] = m.CLIType
	}
	if m.ProjectPath != "" {
		out["projectPath"] = m.ProjectPath
	}
	if m.SessionID != "" {
		out["sessionId"] = m.SessionID
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// ErrorResponse is the {kind, message} shape spec §7 requires for every
// user-visible failure.
type ErrorResponse struct {
	Kind    string `json:"kind" jsonschema:"error taxonomy member, e.g. NotFound, ValidationError"`
	Message string `json:"message" jsonschema:"human-readable error message"`
}

// GetCurrentInput is get_current's request (spec §6).
type GetCurrentInput struct {
	SessionID   string `json:"sessionId" jsonschema:"identifies the current CLI/editor session"`
	CurrentFile string `json:"currentFile,omitempty" jsonschema:"path of the file currently open, if any"`
	ProjectPath string `json:"projectPath,omitempty" jsonschema:"absolute path of the current project"`
}

// GetCurrentResult is get_current's {context window} result.
type GetCurrentResult struct {
	SessionID        string       `json:"sessionId"`
	CurrentFile      string       `json:"currentFile,omitempty"`
	WorkingMemories  []MemoryView `json:"workingMemories" jsonschema:"active L1 memories for this session"`
	RelevantMemories []MemoryView `json:"relevantMemories" jsonschema:"recently touched L2 memories for this project"`
}

// StoreInput is store's request (spec §6).
type StoreInput struct {
	Content     string         `json:"content" jsonschema:"the memory content to persist"`
	Type        string         `json:"type" jsonschema:"memory type, e.g. decision, scratchpad, code"`
	Tier        string         `json:"tier,omitempty" jsonschema:"force a specific tier (L1, L2, L3) instead of routing"`
	Tags        []string       `json:"tags,omitempty" jsonschema:"tags to attach, checked by the router for global/project/temp hints"`
	TTL         int64          `json:"ttl,omitempty" jsonschema:"time to live in seconds, L1 candidates only"`
	Pinned      bool           `json:"pinned,omitempty" jsonschema:"exempt the memory from decay once stored in L2/L3"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"free-form metadata"`
	SessionHint bool           `json:"sessionHint,omitempty" jsonschema:"hint the router this came from an active session (affects generic code routing)"`
}

// StoreResult is store's {stored memory id + tier} result.
type StoreResult struct {
	ID   string `json:"id" jsonschema:"id of the stored memory"`
	Tier string `json:"tier" jsonschema:"tier the memory was routed to"`
}

// RecallFilter is recall's optional filter block (spec §6).
type RecallFilter struct {
	Types  []string `json:"types,omitempty" jsonschema:"restrict to these memory types"`
	Layers []string `json:"layers,omitempty" jsonschema:"restrict to these tiers, e.g. [\"L2\",\"L3\"]"`
	Tags   []string `json:"tags,omitempty" jsonschema:"require at least one of these tags"`
}

// RecallInput is recall's request (spec §6).
type RecallInput struct {
	Query     string       `json:"query" jsonschema:"free-text query to recall memories for"`
	Limit     int          `json:"limit,omitempty" jsonschema:"maximum number of results, default 20"`
	Threshold float64      `json:"threshold,omitempty" jsonschema:"minimum fused similarity, 0-1"`
	Filter    RecallFilter `json:"filter,omitempty"`
}

// RecallResult is recall's ranked list of {memory, similarity, tier}.
type RecallResult struct {
	Hits []MemoryView `json:"hits" jsonschema:"ranked list of matching memories"`
}

// SummarizeInput is summarize's request (spec §6).
type SummarizeInput struct {
	Tier          string  `json:"tier" jsonschema:"tier to summarize: L2 buckets by type, L3 runs a decay pass"`
	OlderThanDays float64 `json:"olderThanDays" jsonschema:"only consider memories at least this many days old"`
}

// SummarizeResult is summarize's {summaryId, count, content} result.
type SummarizeResult struct {
	SummaryID string `json:"summaryId"`
	Count     int    `json:"count"`
	Content   string `json:"content"`
}

// GetInput is get's request (spec §6).
type GetInput struct {
	ID string `json:"id" jsonschema:"memory identifier"`
}

// GetResult is get's {memory, tier} result.
type GetResult struct {
	Memory MemoryView `json:"memory"`
}

// UpdateInput is update's request (spec §6). Pointer fields distinguish
// "not supplied" from "set to zero value": nil means leave unchanged.
type UpdateInput struct {
	ID          string         `json:"id" jsonschema:"memory identifier"`
	Content     *string        `json:"content,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Pinned      *bool          `json:"pinned,omitempty"`
	Weight      *int           `json:"weight,omitempty" jsonschema:"1-5 importance weight, default 3"`
	TargetLayer string         `json:"targetLayer,omitempty" jsonschema:"promote to this tier if higher than the current one"`
}

// UpdateResult is update's updated memory (or promote result).
type UpdateResult struct {
	Memory MemoryView `json:"memory"`
}

// DeleteInput is delete's request (spec §6).
type DeleteInput struct {
	ID string `json:"id" jsonschema:"memory identifier"`
}

// DeleteResult is delete's {deletedFrom: tier} result.
type DeleteResult struct {
	DeletedFrom string `json:"deletedFrom"`
}

// ListInput is list's request (spec §6). Tier defaults to L2.
type ListInput struct {
	Tier   string   `json:"tier,omitempty"`
	Type   string   `json:"type,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// ListResult is list's page result.
type ListResult struct {
	Items []MemoryView `json:"items"`
	Total int          `json:"total"`
}

// ReportEventInput is report_event's request (spec §6). Event is inlined
// rather than nested since every field is required together.
type ReportEventInput struct {
	Type        string         `json:"type" jsonschema:"event type, e.g. session_start, file_opened"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   int64          `json:"timestamp" jsonschema:"epoch milliseconds"`
	SessionID   string         `json:"sessionId"`
	CLIType     string         `json:"cliType,omitempty"`
	ProjectPath string         `json:"projectPath,omitempty"`
}

// ReportEventResult is report_event's {processed, memoryId?, triggeredActions} result.
type ReportEventResult struct {
	Processed        bool     `json:"processed"`
	MemoryID         string   `json:"memoryId,omitempty"`
	TriggeredActions []string `json:"triggeredActions,omitempty"`
}

// SearchCodeInput is search_code's request (spec §6).
type SearchCodeInput struct {
	Query          string `json:"query" jsonschema:"search query"`
	Mode           string `json:"mode,omitempty" jsonschema:"text, symbol, or semantic; default text"`
	Language       string `json:"language,omitempty"`
	FilePattern    string `json:"filePattern,omitempty" jsonschema:"glob path filter, e.g. src/**"`
	SymbolKind     string `json:"symbolKind,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Threshold      float64 `json:"threshold,omitempty"`
	IncludeContent bool   `json:"includeContent,omitempty"`
}

// CodeMatchView is one search_code result.
type CodeMatchView struct {
	FilePath   string  `json:"filePath"`
	LineStart  int     `json:"lineStart"`
	LineEnd    int     `json:"lineEnd"`
	Content    string  `json:"content,omitempty"`
	SymbolName string  `json:"symbolName,omitempty"`
	SymbolKind string  `json:"symbolKind,omitempty"`
	Similarity float64 `json:"similarity"`
}

// SearchCodeResult is search_code's {results + index status} result.
type SearchCodeResult struct {
	Results     []CodeMatchView `json:"results"`
	IndexStatus string          `json:"indexStatus" jsonschema:"ready, disabled, or an error summary"`
}

// OrientInput is orient's request (spec §6).
type OrientInput struct {
	ProjectPath string `json:"projectPath" jsonschema:"absolute path of the current project"`
	Timezone    string `json:"timezone,omitempty" jsonschema:"IANA zone, defaults to UTC"`
}

// OrientAnchorView is the decomposed current-time anchor.
type OrientAnchorView struct {
	EpochMillis int64  `json:"epochMillis"`
	Date        string `json:"date"`
	TimeOfDay   string `json:"timeOfDay"`
	DayOfWeek   string `json:"dayOfWeek"`
	WeekNumber  int    `json:"weekNumber"`
	Timezone    string `json:"timezone"`
}

// OrientOfflineGapView describes the interval since the project's previous
// last_seen timestamp. Nil (via HasGap=false) when there was no prior visit.
type OrientOfflineGapView struct {
	HasGap           bool  `json:"hasGap"`
	SinceMillis      int64 `json:"sinceMillis,omitempty"`
	DurationMillis   int64 `json:"durationMillis,omitempty"`
	MemoriesSinceGap int   `json:"memoriesSinceGap,omitempty"`
}

// OrientResult is orient's {summary string + anchor + offlineGap + recent} result.
type OrientResult struct {
	Summary    string               `json:"summary"`
	Anchor     OrientAnchorView     `json:"anchor"`
	OfflineGap OrientOfflineGapView `json:"offlineGap"`
	Recent     []MemoryView         `json:"recent"`
}
