package rerank

import (
	"context"
	"sort"

	"github.com/osgrep/osgrep-core/internal/worker"
	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// DefaultRerankTop is the number of exactly-scored results kept after stage 2.
const DefaultRerankTop = 20

// Scored is a candidate chunk with its exact late-interaction score.
type Scored struct {
	Chunk *osgrep.Chunk
	Score float64
}

// dequantize reconstructs a float32 matrix from an int8 matrix and its
// shared dequantization scale (float = int8 * scale), lazily — only called
// on the stage-2 survivors, never on the full candidate set.
func dequantize(raw [][]int8, scale float32) [][]float32 {
	out := make([][]float32, len(raw))
	for i, row := range raw {
		r := make([]float32, len(row))
		for j, v := range row {
			r[j] = float32(v) * scale
		}
		out[i] = r
	}
	return out
}

// ColbertRerank exactly scores the top rerankTop of the incoming (stage-1
// ordered) candidates via MaxSim late interaction, dispatched through the
// worker pool, and returns them sorted by score descending. Candidates
// beyond rerankTop are never scored.
func ColbertRerank(ctx context.Context, pool *worker.Pool, queryColbert [][]int8, queryScale float32, candidates []*osgrep.Chunk, rerankTop int) ([]Scored, error) {
	if rerankTop <= 0 {
		rerankTop = DefaultRerankTop
	}
	if rerankTop < len(candidates) {
		candidates = candidates[:rerankTop]
	}

	queryMatrix := dequantize(queryColbert, queryScale)

	docMatrices := make([][][]float32, len(candidates))
	for i, c := range candidates {
		docMatrices[i] = dequantize(c.Colbert, c.ColbertScale)
	}

	reply, err := pool.Dispatch(ctx, worker.Request{
		Kind:        worker.KindRerank,
		QueryMatrix: queryMatrix,
		DocMatrices: docMatrices,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		s := 0.0
		if i < len(reply.Scores) {
			s = reply.Scores[i]
		}
		out[i] = Scored{Chunk: c, Score: s}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if rerankTop < len(out) {
		out = out[:rerankTop]
	}
	return out, nil
}
