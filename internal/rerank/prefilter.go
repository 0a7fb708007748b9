// Package rerank implements a two-stage reranker: a cheap pooled-vector
// prefilter followed by exact late-interaction (ColBERT-style) scoring on
// the survivors.
package rerank

import (
	"sort"

	"github.com/viterin/vek/vek32"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// DefaultStage2K is the number of prefilter survivors promoted to the exact
// stage.
const DefaultStage2K = 40

// scored pairs a chunk with its prefilter score, preserving its position in
// the incoming (RRF-ordered) list for ties and for the no-pooled-vector case.
type scored struct {
	chunk *osgrep.Chunk
	score float64
	rank  int
}

// Prefilter ranks candidates by cosine similarity between the query's pooled
// projection and each chunk's PooledColbert48D, keeping the top stage2K.
// Candidates with no pooled vector score -1 and sort to the bottom, which
// covers chunks indexed before pooling existed. When candidates already fits
// within stage2K, the sort is skipped entirely and the input order passes
// through unchanged.
func Prefilter(candidates []*osgrep.Chunk, queryPooled []float32, stage2K int) []*osgrep.Chunk {
	if stage2K <= 0 {
		stage2K = DefaultStage2K
	}

	if len(candidates) <= stage2K {
		out := make([]*osgrep.Chunk, len(candidates))
		copy(out, candidates)
		return out
	}

	scoredList := make([]scored, len(candidates))
	for i, c := range candidates {
		s := scored{chunk: c, rank: i, score: -1}
		if len(c.PooledColbert48D) > 0 && len(queryPooled) > 0 {
			s.score = float64(vek32.Dot(queryPooled, c.PooledColbert48D))
		}
		scoredList[i] = s
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].rank < scoredList[j].rank
	})

	if stage2K < len(scoredList) {
		scoredList = scoredList[:stage2K]
	}

	out := make([]*osgrep.Chunk, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.chunk
	}
	return out
}
