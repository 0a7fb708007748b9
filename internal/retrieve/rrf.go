package retrieve

import (
	"sort"
	"strconv"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// DefaultRRFK is the RRF smoothing constant.
const DefaultRRFK = 60

// fused accumulates a candidate's RRF score plus the first-seen chunk, so
// the dense list (scanned first) wins ties on insertion order.
type fused struct {
	chunk *osgrep.Chunk
	score float64
	order int
}

// candidateKey identifies the same logical chunk across the dense and
// lexical result lists, independent of each list's own ID assignment.
func candidateKey(c *osgrep.Chunk) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Path + "#" + strconv.Itoa(c.ChunkIndex)
}

// RRFFuse combines a dense-ranked list and a lexical-ranked list into a
// single list ordered by Reciprocal Rank Fusion score, truncated to limit
// when limit > 0 (the Retriever passes its stage-1 budget, 200 by default).
func RRFFuse(dense, lexical []*osgrep.Chunk, k int, limit int) []*osgrep.Chunk {
	chunks, _ := RRFFuseWithScores(dense, lexical, k, limit)
	return chunks
}

// RRFFuseWithScores behaves like RRFFuse but also returns each surviving
// candidate's fused RRF score keyed by candidateKey, so the score-shaping
// stage can blend it back in after reranking.
func RRFFuseWithScores(dense, lexical []*osgrep.Chunk, k int, limit int) ([]*osgrep.Chunk, map[string]float64) {
	if k <= 0 {
		k = DefaultRRFK
	}

	acc := make(map[string]*fused)
	order := 0

	addList := func(list []*osgrep.Chunk) {
		for rank, c := range list {
			key := candidateKey(c)
			contribution := 1.0 / float64(k+rank+1)
			if existing, ok := acc[key]; ok {
				existing.score += contribution
				continue
			}
			acc[key] = &fused{chunk: c, score: contribution, order: order}
			order++
		}
	}

	// Dense scanned first so it wins the insertion-order tie-break.
	addList(dense)
	addList(lexical)

	out := make([]*fused, 0, len(acc))
	for _, f := range acc {
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].order < out[j].order
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	result := make([]*osgrep.Chunk, len(out))
	scores := make(map[string]float64, len(out))
	for i, f := range out {
		result[i] = f.chunk
		scores[candidateKey(f.chunk)] = f.score
	}
	return result, scores
}
