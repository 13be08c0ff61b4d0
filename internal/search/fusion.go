package search

import (
	"sort"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing constant (k=60), the
// value used by Azure AI Search and OpenSearch.
const DefaultRRFConstant = 60

// FusedResult is one note's combined ranking evidence before enrichment.
// Ranks are 1-based; 0 means the note was absent from that branch.
type FusedResult struct {
	NoteID       string
	Score        float64
	VectorRank   int
	VectorScore  float64
	KeywordRank  int
	KeywordScore float64
	MatchedTerms []string
	InBothLists  bool
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion. A note at
// rank r contributes weight/(K+r) per list it appears in; notes in both
// lists sum both contributions. Fusion looks only at ranks, so the two
// branches' score scales never need to be comparable.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion stage with the given smoothing constant.
// Non-positive k falls back to DefaultRRFConstant.
func NewRRFFusion(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines a vector result list and a keyword result list. alpha
// weights vector contributions, 1-alpha keyword contributions. Both input
// lists must be ordered best-first. The returned slice is ordered
// best-first with deterministic tie-breaking and scores normalized so the
// top result is 1.0.
func (f *RRFFusion) Fuse(vector []*store.VectorResult, keyword []*store.KeywordResult, alpha float64) []*FusedResult {
	fused := make(map[string]*FusedResult, len(vector)+len(keyword))
	get := func(noteID string) *FusedResult {
		r, ok := fused[noteID]
		if !ok {
			r = &FusedResult{NoteID: noteID}
			fused[noteID] = r
		}
		return r
	}

	for i, vr := range vector {
		rank := i + 1
		r := get(vr.NoteID)
		r.VectorRank = rank
		r.VectorScore = float64(vr.Score)
		r.Score += alpha / float64(f.K+rank)
	}
	for i, kr := range keyword {
		rank := i + 1
		r := get(kr.NoteID)
		r.KeywordRank = rank
		r.KeywordScore = kr.Score
		r.MatchedTerms = kr.MatchedTerms
		r.InBothLists = r.VectorRank > 0
		r.Score += (1 - alpha) / float64(f.K+rank)
	}

	results := make([]*FusedResult, 0, len(fused))
	for _, r := range fused {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return fusedLess(results[i], results[j])
	})
	normalizeFused(results)
	return results
}

// fusedLess orders by fused score, then both-list presence, then keyword
// score, then note ID. The final ID comparison makes equal inputs always
// produce the same ordering.
func fusedLess(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.InBothLists != b.InBothLists {
		return a.InBothLists
	}
	if a.KeywordScore != b.KeywordScore {
		return a.KeywordScore > b.KeywordScore
	}
	return a.NoteID < b.NoteID
}

// normalizeFused rescales scores so the best result is 1.0. With alpha at
// an extreme and hits from only the zero-weighted branch every score is 0;
// the ordering from fusedLess still holds, so normalization is skipped.
func normalizeFused(results []*FusedResult) {
	if len(results) == 0 {
		return
	}
	max := results[0].Score
	if max <= 0 {
		return
	}
	for _, r := range results {
		r.Score /= max
	}
}
