// Package shape implements the post-rerank score-shaping stage: blending
// the exact rerank score with the fused RRF score, applying structural
// boosts/penalties, and diversifying results across files.
package shape

import (
	"strconv"

	"github.com/osgrep/osgrep-core/internal/rerank"
	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// DefaultRerankBlend is the weight given to the RRF score in the final blend.
const DefaultRerankBlend = 0.5

// Candidate is a chunk carrying its evolving score through the shaping
// pipeline (blend -> boost -> diversify).
type Candidate struct {
	Chunk *osgrep.Chunk
	Score float64
}

func candidateKey(c *osgrep.Chunk) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Path + "#" + strconv.Itoa(c.ChunkIndex)
}

// Blend combines each rerank result's exact score with its RRF score from
// the fusion stage: final = rerank_score + blend*rrf_score.
// rrfScores is keyed by the same candidate key the retriever used during
// fusion; a candidate missing from it (shouldn't happen post-fusion)
// contributes zero.
func Blend(results []rerank.Scored, rrfScores map[string]float64, blend float64) []Candidate {
	if blend == 0 {
		blend = DefaultRerankBlend
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		rrf := rrfScores[candidateKey(r.Chunk)]
		out[i] = Candidate{Chunk: r.Chunk, Score: r.Score + blend*rrf}
	}
	return out
}
