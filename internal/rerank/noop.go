package rerank

import "github.com/osgrep/osgrep-core/pkg/osgrep"

// NoOpRerank falls back to the incoming (RRF) order when reranking is
// disabled or the worker pool is unavailable, assigning decreasing scores
// so downstream blending still has a well-ordered signal to combine with
// the fused score.
func NoOpRerank(candidates []*osgrep.Chunk, rerankTop int) []Scored {
	if rerankTop <= 0 {
		rerankTop = DefaultRerankTop
	}
	if rerankTop > len(candidates) {
		rerankTop = len(candidates)
	}

	out := make([]Scored, rerankTop)
	for i := 0; i < rerankTop; i++ {
		out[i] = Scored{Chunk: candidates[i], Score: 1.0 / float64(i+1)}
	}
	return out
}
