// Package router implements the smart router: a pure function mapping
// (content, type, tags, ttl, forcedTier) to a target tier with a rationale
// (spec §4.5). It performs no I/O and holds no state, mirroring the
// teacher's pattern-based query classifier style in internal/search.
package router

import (
	"strings"

	"github.com/contextfabric/context-fabric/internal/memory"
)

// Decision is the router's verdict for a single store/promote call.
type Decision struct {
	Tier       memory.Tier
	Reason     string
	Confidence float64
}

var tempTags = map[string]struct{}{"temp": {}, "temporary": {}, "draft": {}}
var globalTags = map[string]struct{}{"global": {}, "universal": {}}
var projectTags = map[string]struct{}{"project": {}, "local": {}}

var l1Types = map[memory.Type]struct{}{
	memory.TypeScratchpad:  {},
	memory.TypeMessage:     {},
	memory.TypeThought:     {},
	memory.TypeObservation: {},
}

var l2Types = map[memory.Type]struct{}{
	memory.TypeDecision:      {},
	memory.TypeBugFix:        {},
	memory.TypeDocumentation: {},
	memory.TypeError:         {},
	memory.TypeSummary:       {},
}

var l3Types = map[memory.Type]struct{}{
	memory.TypeCodePattern: {},
	memory.TypeConvention:  {},
	memory.TypeRelationship: {},
}

func hasAnyTag(tags []string, set map[string]struct{}) bool {
	for _, tag := range tags {
		if _, ok := set[strings.ToLower(tag)]; ok {
			return true
		}
	}
	return false
}

// Route decides the tier for a store or promote call. forcedTier, if
// non-empty, always wins. sessionHint is true when the caller's context
// carries an active session id (used only for the generic "code" type,
// spec §4.5 rule 7).
func Route(content string, typ memory.Type, tags []string, ttlSeconds int64, forcedTier memory.Tier, sessionHint bool) Decision {
	if forcedTier != "" {
		return Decision{Tier: forcedTier, Reason: "explicitly specified", Confidence: 1.0}
	}

	if hasAnyTag(tags, tempTags) {
		return Decision{Tier: memory.L1, Reason: "tagged temporary", Confidence: 0.95}
	}
	if hasAnyTag(tags, globalTags) {
		return Decision{Tier: memory.L3, Reason: "tagged global", Confidence: 0.95}
	}
	if hasAnyTag(tags, projectTags) {
		return Decision{Tier: memory.L2, Reason: "tagged project", Confidence: 0.95}
	}

	if ttlSeconds > 0 {
		return Decision{Tier: memory.L1, Reason: "positive TTL implies ephemeral", Confidence: 0.9}
	}

	if _, ok := l1Types[typ]; ok {
		return Decision{Tier: memory.L1, Reason: "type is inherently ephemeral", Confidence: 0.85}
	}
	if _, ok := l2Types[typ]; ok {
		return Decision{Tier: memory.L2, Reason: "type is project-scoped durable", Confidence: 0.85}
	}
	if _, ok := l3Types[typ]; ok {
		return Decision{Tier: memory.L3, Reason: "type is cross-project semantic", Confidence: 0.85}
	}

	if typ == memory.TypeCode {
		if sessionHint {
			return Decision{Tier: memory.L1, Reason: "generic code with active session context", Confidence: 0.7}
		}
		return Decision{Tier: memory.L2, Reason: "generic code with no session context", Confidence: 0.6}
	}

	return Decision{Tier: memory.L2, Reason: "unknown type defaults to project tier", Confidence: 0.5}
}
