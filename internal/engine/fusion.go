// Package engine wires the three memory tiers, the router, the embedding
// service, and the code index into the orchestrator spec §4.7 describes.
package engine

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter (spec §4.7).
const DefaultRRFConstant = 60

// RankedItem is one entry in a single tier's already-ranked result list,
// with its raw (non-fused) relevance score preserved for tie-breaking.
type RankedItem struct {
	ID    string
	Score float64
}

// RankedList is one contributing source for fusion: a tier or sub-query
// name plus its ranked items. recall fans out L1 (text), L2 (substring),
// L2 (bm25), and L3 (cosine) as up to four separate lists.
type RankedList struct {
	Source string
	Items  []RankedItem
}

// FusedResult is one item after RRF fusion across every contributing list.
type FusedResult struct {
	ID         string
	RRFScore   float64
	BestScore  float64        // highest raw score across all lists it appeared in
	ListCount  int            // number of lists the id appeared in
	SourceRank map[string]int // source name -> 1-indexed rank, absent if not present
}

// Fuser combines N ranked lists using Reciprocal Rank Fusion:
// RRF_score(d) = Σ weight_i / (k + rank_i). Adapted from the teacher's
// internal/search/fusion.go, generalized from exactly two fixed lists
// (BM25 + vector) to N named lists.
type Fuser struct {
	K int
}

// NewFuser returns a Fuser with the default k=60.
func NewFuser() *Fuser {
	return &Fuser{K: DefaultRRFConstant}
}

// NewFuserWithK returns a Fuser with a custom k. k <= 0 defaults to 60.
func NewFuserWithK(k int) *Fuser {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &Fuser{K: k}
}

// Fuse combines lists into one ranked, normalized result set. weights maps
// a list's Source to its contribution weight; a source absent from weights
// defaults to 1.0.
func (f *Fuser) Fuse(lists []RankedList, weights map[string]float64) []*FusedResult {
	total := 0
	for _, l := range lists {
		total += len(l.Items)
	}
	if total == 0 {
		return []*FusedResult{}
	}

	results := make(map[string]*FusedResult, total)
	maxLen := 0
	for _, l := range lists {
		if len(l.Items) > maxLen {
			maxLen = len(l.Items)
		}
	}
	missingRank := maxLen + 1

	weightOf := func(source string) float64 {
		if w, ok := weights[source]; ok {
			return w
		}
		return 1.0
	}

	for _, l := range lists {
		w := weightOf(l.Source)
		for rank, item := range l.Items {
			r := results[item.ID]
			if r == nil {
				r = &FusedResult{ID: item.ID, SourceRank: make(map[string]int)}
				results[item.ID] = r
			}
			r.SourceRank[l.Source] = rank + 1
			r.ListCount++
			if item.Score > r.BestScore {
				r.BestScore = item.Score
			}
			r.RRFScore += w / float64(f.K+rank+1)
		}
	}

	// Items absent from a given list still contribute at missingRank, so
	// that a list's weight never vanishes just because an id didn't appear
	// in it (mirrors the teacher's calculateMissingRank handling).
	for _, r := range results {
		for _, l := range lists {
			if _, present := r.SourceRank[l.Source]; !present {
				r.RRFScore += weightOf(l.Source) / float64(f.K+missingRank)
			}
		}
	}

	out := make([]*FusedResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return f.less(out[i], out[j]) })
	f.normalize(out)
	return out
}

// less orders by: higher RRF score, then present in more lists, then higher
// raw score, then lexicographically smaller id.
func (f *Fuser) less(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}
	if a.ListCount != b.ListCount {
		return a.ListCount > b.ListCount
	}
	if a.BestScore != b.BestScore {
		return a.BestScore > b.BestScore
	}
	return a.ID < b.ID
}

// normalize scales RRF scores to [0,1], the top-ranked item becoming 1.0.
func (f *Fuser) normalize(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].RRFScore
	if max == 0 {
		return
	}
	for _, r := range results {
		r.RRFScore = r.RRFScore / max
	}
}
