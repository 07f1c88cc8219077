package mcpserver

import (
	"fmt"

	"github.com/contextfabric/context-fabric/internal/codeindex"
	"github.com/contextfabric/context-fabric/internal/engine"
	"github.com/contextfabric/context-fabric/internal/memory"
	"github.com/contextfabric/context-fabric/internal/protocol"
)

var validTiers = map[string]memory.Tier{
	"L1": memory.L1, "L2": memory.L2, "L3": memory.L3,
}

func parseTier(s string) (memory.Tier, bool) {
	if s == "" {
		return "", true
	}
	t, ok := validTiers[s]
	return t, ok
}

func metadataFromMap(in map[string]any) memory.Metadata {
	meta := memory.Metadata{Extra: map[string]any{}}
	for k, v := range in {
		switch k {
		case "weight":
			if n, ok := toInt(v); ok {
				meta.Weight = n
				continue
			}
		case "confidence":
			if f, ok := toFloat(v); ok {
				meta.Confidence = f
				continue
			}
		case "source":
			if s, ok := v.(string); ok {
				meta.Source = memory.Source(s)
				continue
			}
		case "cliType":
			if s, ok := v.(string); ok {
				meta.CLIType = s
				continue
			}
		case "projectPath":
			if s, ok := v.(string); ok {
				meta.ProjectPath = s
				continue
			}
		case "sessionId":
			if s, ok := v.(string); ok {
				meta.SessionID = s
				continue
			}
		}
		meta.Extra[k] = v
	}
	if len(meta.Extra) == 0 {
		meta.Extra = nil
	}
	return meta
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func toMemoryViews(items []*memory.Memory, tier memory.Tier) []protocol.MemoryView {
	out := make([]protocol.MemoryView, 0, len(items))
	for _, m := range items {
		out = append(out, protocol.ToMemoryView(m, tier))
	}
	return out
}

func codeMatchesToView(matches []codeindex.CodeMatch) []protocol.CodeMatchView {
	out := make([]protocol.CodeMatchView, 0, len(matches))
	for _, m := range matches {
		v := protocol.CodeMatchView{
			FilePath:   m.FilePath,
			LineStart:  m.LineStart,
			LineEnd:    m.LineEnd,
			Content:    m.Content,
			Similarity: m.Similarity,
		}
		if m.Symbol != nil {
			v.SymbolName = m.Symbol.Name
			v.SymbolKind = string(m.Symbol.Kind)
		}
		out = append(out, v)
	}
	return out
}

func searchModeFrom(mode string) codeindex.SearchMode {
	switch mode {
	case "symbol":
		return codeindex.SearchSymbol
	case "semantic":
		return codeindex.SearchSemantic
	default:
		return codeindex.SearchText
	}
}

func orientResultToView(r *engine.OrientResult) protocol.OrientResult {
	out := protocol.OrientResult{
		Anchor: protocol.OrientAnchorView{
			EpochMillis: r.TimeAnchor.EpochMillis,
			Date:        r.TimeAnchor.Date,
			TimeOfDay:   r.TimeAnchor.TimeOfDay,
			DayOfWeek:   r.TimeAnchor.DayOfWeek,
			WeekNumber:  r.TimeAnchor.WeekNumber,
			Timezone:    r.TimeAnchor.Timezone,
		},
		Recent: toMemoryViews(r.RecentMemoriesSinceLastSeen, memory.L2),
	}
	if r.OfflineGap != nil {
		out.OfflineGap = protocol.OrientOfflineGapView{
			HasGap:           true,
			SinceMillis:      r.OfflineGap.SinceMillis,
			DurationMillis:   r.OfflineGap.DurationMillis,
			MemoriesSinceGap: r.OfflineGap.MemoriesSinceGap,
		}
		hours := r.OfflineGap.DurationMillis / 1000 / 3600
		out.Summary = fmt.Sprintf("welcome back; %dh since last seen, %d memories recorded since",
			hours, r.OfflineGap.MemoriesSinceGap)
	} else {
		out.Summary = "first visit to this project; no prior session to compare against"
	}
	return out
}
