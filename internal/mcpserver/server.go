// Package mcpserver adapts the engine orchestrator's eleven operations
// (spec §6) to MCP tool calls, translating protocol.* records to and from
// github.com/modelcontextprotocol/go-sdk tool invocations. The adapter is
// deliberately thin: validation and business logic live in internal/engine;
// this package only shapes input/output and maps errors (spec §1 excludes
// the protocol adapter from the hard core).
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/contextfabric/context-fabric/internal/engine"
	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
	"github.com/contextfabric/context-fabric/internal/protocol"
	"github.com/contextfabric/context-fabric/pkg/version"
)

// Server bridges an *engine.Engine to the MCP protocol.
type Server struct {
	mcp    *mcp.Server
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates the MCP server and registers all eleven tools.
func NewServer(eng *engine.Engine, logger *slog.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("mcpserver: engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine: eng,
		logger: logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "context-fabric", Version: version.Version},
		nil,
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server, for transports to Run it.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over the given transport ("stdio" is the only one
// implemented; spec §1 scopes the request protocol adapter to a single
// local-process transport).
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting mcp server", slog.String("transport", transport))
	switch transport {
	case "", "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_current",
		Description: "Assemble the current context window: active working memories plus the project's most recently touched memories.",
	}, s.handleGetCurrent)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "store",
		Description: "Persist a memory. The router picks the tier (working, project, or semantic) unless a tier is forced.",
	}, s.handleStore)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "recall",
		Description: "Search across memory tiers by meaning and keyword, fused into one ranked list.",
	}, s.handleRecall)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "summarize",
		Description: "Summarize or decay older memories in a tier.",
	}, s.handleSummarize)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get",
		Description: "Fetch one memory by id, from whichever tier owns it.",
	}, s.handleGet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update",
		Description: "Modify a memory's content, tags, metadata, or pin state; or promote it to a higher tier.",
	}, s.handleUpdate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete",
		Description: "Remove a memory by id.",
	}, s.handleDelete)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list",
		Description: "Page through memories in one tier, optionally filtered by type or tags.",
	}, s.handleList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "report_event",
		Description: "Record a CLI/editor lifecycle event as a session observation.",
	}, s.handleReportEvent)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Search the project's code index by text, symbol name, or semantic similarity.",
	}, s.handleSearchCode)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "orient",
		Description: "Report the current time anchor, how long since the project was last visited, and what happened since.",
	}, s.handleOrient)

	s.logger.Info("mcp tools registered", slog.Int("count", 11))
}

func (s *Server) handleGetCurrent(ctx context.Context, _ *mcp.CallToolRequest, in protocol.GetCurrentInput) (*mcp.CallToolResult, protocol.GetCurrentResult, error) {
	cw, err := s.engine.GetCurrent(ctx, in.SessionID, in.CurrentFile, in.ProjectPath)
	if err != nil {
		return nil, protocol.GetCurrentResult{}, mapEngineError(err)
	}
	return nil, protocol.GetCurrentResult{
		SessionID:        cw.SessionID,
		CurrentFile:      cw.CurrentFile,
		WorkingMemories:  toMemoryViews(cw.WorkingMemories, memory.L1),
		RelevantMemories: toMemoryViews(cw.RelevantMemories, memory.L2),
	}, nil
}

func (s *Server) handleStore(ctx context.Context, _ *mcp.CallToolRequest, in protocol.StoreInput) (*mcp.CallToolResult, protocol.StoreResult, error) {
	if in.Content == "" {
		return nil, protocol.StoreResult{}, newValidationError("content is required")
	}
	typ := memory.Type(in.Type)
	if !typ.IsKnown() {
		return nil, protocol.StoreResult{}, newValidationError("unknown memory type: " + in.Type)
	}
	forced, ok := parseTier(in.Tier)
	if !ok {
		return nil, protocol.StoreResult{}, newValidationError("unknown tier: " + in.Tier)
	}

	opts := engine.StoreOptions{
		ForcedTier:  forced,
		Tags:        in.Tags,
		TTLSeconds:  in.TTL,
		Pinned:      in.Pinned,
		SessionHint: in.SessionHint,
	}
	if in.Metadata != nil {
		opts.Metadata = metadataFromMap(in.Metadata)
	}

	m, err := s.engine.Store(ctx, in.Content, typ, opts)
	if err != nil {
		return nil, protocol.StoreResult{}, mapEngineError(err)
	}
	return nil, protocol.StoreResult{ID: m.ID, Tier: string(m.Tier)}, nil
}

func (s *Server) handleRecall(ctx context.Context, _ *mcp.CallToolRequest, in protocol.RecallInput) (*mcp.CallToolResult, protocol.RecallResult, error) {
	if in.Query == "" {
		return nil, protocol.RecallResult{}, newValidationError("query is required")
	}

	opts := engine.RecallOptions{
		Limit:     in.Limit,
		Threshold: in.Threshold,
	}
	for _, t := range in.Filter.Types {
		opts.Types = append(opts.Types, memory.Type(t))
	}
	opts.Tags = in.Filter.Tags
	for _, l := range in.Filter.Layers {
		tier, ok := parseTier(l)
		if !ok || tier == "" {
			return nil, protocol.RecallResult{}, newValidationError("unknown layer: " + l)
		}
		opts.Layers = append(opts.Layers, tier)
	}

	hits, err := s.engine.Recall(ctx, in.Query, opts)
	if err != nil {
		return nil, protocol.RecallResult{}, mapEngineError(err)
	}

	out := make([]protocol.MemoryView, 0, len(hits))
	for _, h := range hits {
		v := protocol.ToMemoryView(h.Memory, h.Tier)
		v.Similarity = h.Similarity
		out = append(out, v)
	}
	return nil, protocol.RecallResult{Hits: out}, nil
}

func (s *Server) handleSummarize(ctx context.Context, _ *mcp.CallToolRequest, in protocol.SummarizeInput) (*mcp.CallToolResult, protocol.SummarizeResult, error) {
	tier, ok := parseTier(in.Tier)
	if !ok || tier == "" {
		return nil, protocol.SummarizeResult{}, newValidationError("tier is required and must be L1, L2, or L3")
	}
	r, err := s.engine.Summarize(ctx, tier, in.OlderThanDays)
	if err != nil {
		return nil, protocol.SummarizeResult{}, mapEngineError(err)
	}
	return nil, protocol.SummarizeResult{SummaryID: r.SummaryID, Count: r.Count, Content: r.Content}, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, in protocol.GetInput) (*mcp.CallToolResult, protocol.GetResult, error) {
	if in.ID == "" {
		return nil, protocol.GetResult{}, newValidationError("id is required")
	}
	m, tier, err := s.engine.Get(ctx, in.ID)
	if err != nil {
		return nil, protocol.GetResult{}, mapEngineError(err)
	}
	return nil, protocol.GetResult{Memory: protocol.ToMemoryView(m, tier)}, nil
}

func (s *Server) handleUpdate(ctx context.Context, _ *mcp.CallToolRequest, in protocol.UpdateInput) (*mcp.CallToolResult, protocol.UpdateResult, error) {
	if in.ID == "" {
		return nil, protocol.UpdateResult{}, newValidationError("id is required")
	}
	targetLayer, ok := parseTier(in.TargetLayer)
	if !ok {
		return nil, protocol.UpdateResult{}, newValidationError("unknown targetLayer: " + in.TargetLayer)
	}

	patch := engine.UpdatePatch{
		Content:     in.Content,
		Tags:        in.Tags,
		Pinned:      in.Pinned,
		Weight:      in.Weight,
		TargetLayer: targetLayer,
	}
	if in.Metadata != nil {
		meta := metadataFromMap(in.Metadata)
		patch.Metadata = &meta
	}

	m, err := s.engine.Update(ctx, in.ID, patch)
	if err != nil {
		return nil, protocol.UpdateResult{}, mapEngineError(err)
	}
	return nil, protocol.UpdateResult{Memory: protocol.ToMemoryView(m, m.Tier)}, nil
}

func (s *Server) handleDelete(ctx context.Context, _ *mcp.CallToolRequest, in protocol.DeleteInput) (*mcp.CallToolResult, protocol.DeleteResult, error) {
	if in.ID == "" {
		return nil, protocol.DeleteResult{}, newValidationError("id is required")
	}
	tier, err := s.engine.Delete(ctx, in.ID)
	if err != nil {
		return nil, protocol.DeleteResult{}, mapEngineError(err)
	}
	return nil, protocol.DeleteResult{DeletedFrom: string(tier)}, nil
}

func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, in protocol.ListInput) (*mcp.CallToolResult, protocol.ListResult, error) {
	tier, ok := parseTier(in.Tier)
	if !ok {
		return nil, protocol.ListResult{}, newValidationError("unknown tier: " + in.Tier)
	}
	page, err := s.engine.List(ctx, engine.ListOptions{
		Tier:   tier,
		Type:   memory.Type(in.Type),
		Tags:   in.Tags,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
	if err != nil {
		return nil, protocol.ListResult{}, mapEngineError(err)
	}
	resolved := tier
	if resolved == "" {
		resolved = memory.L2
	}
	return nil, protocol.ListResult{Items: toMemoryViews(page.Items, resolved), Total: page.Total}, nil
}

func (s *Server) handleReportEvent(ctx context.Context, _ *mcp.CallToolRequest, in protocol.ReportEventInput) (*mcp.CallToolResult, protocol.ReportEventResult, error) {
	if in.Type == "" {
		return nil, protocol.ReportEventResult{}, newValidationError("type is required")
	}
	r, err := s.engine.ReportEvent(ctx, engine.Event{
		Type:        in.Type,
		Payload:     in.Payload,
		Timestamp:   in.Timestamp,
		SessionID:   in.SessionID,
		CLIType:     in.CLIType,
		ProjectPath: in.ProjectPath,
	})
	if err != nil {
		return nil, protocol.ReportEventResult{}, mapEngineError(err)
	}
	return nil, protocol.ReportEventResult{
		Processed:        r.Processed,
		MemoryID:         r.MemoryID,
		TriggeredActions: r.TriggeredActions,
	}, nil
}

func (s *Server) handleSearchCode(ctx context.Context, _ *mcp.CallToolRequest, in protocol.SearchCodeInput) (*mcp.CallToolResult, protocol.SearchCodeResult, error) {
	if in.Query == "" {
		return nil, protocol.SearchCodeResult{}, newValidationError("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}
	matches, err := s.engine.SearchCode(ctx, searchModeFrom(in.Mode), in.Query, in.FilePattern, limit)
	if err != nil {
		if memerrors.KindOf(err) == memerrors.ValidationError {
			return nil, protocol.SearchCodeResult{Results: nil, IndexStatus: "disabled"}, nil
		}
		return nil, protocol.SearchCodeResult{}, mapEngineError(err)
	}
	return nil, protocol.SearchCodeResult{Results: codeMatchesToView(matches), IndexStatus: "ready"}, nil
}

func (s *Server) handleOrient(ctx context.Context, _ *mcp.CallToolRequest, in protocol.OrientInput) (*mcp.CallToolResult, protocol.OrientResult, error) {
	if in.ProjectPath == "" {
		return nil, protocol.OrientResult{}, newValidationError("projectPath is required")
	}
	r, err := s.engine.Orient(ctx, in.ProjectPath, in.Timezone)
	if err != nil {
		return nil, protocol.OrientResult{}, mapEngineError(err)
	}
	return nil, orientResultToView(r), nil
}
