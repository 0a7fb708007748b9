package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

func TestPrefilterRanksByPooledCosine(t *testing.T) {
	// stage2K smaller than len(candidates) so the cosine sort actually runs.
	candidates := []*osgrep.Chunk{
		{ID: "close", PooledColbert48D: []float32{1, 0, 0}},
		{ID: "far", PooledColbert48D: []float32{0, 1, 0}},
		{ID: "filler"},
	}
	out := Prefilter(candidates, []float32{1, 0, 0}, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "close", out[0].ID)
}

func TestPrefilterMissingPooledVectorSortsLast(t *testing.T) {
	candidates := []*osgrep.Chunk{
		{ID: "no-pooled"},
		{ID: "has-pooled", PooledColbert48D: []float32{1, 0}},
		{ID: "filler", PooledColbert48D: []float32{1, 0}},
	}
	out := Prefilter(candidates, []float32{1, 0}, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "has-pooled", out[0].ID)
}

func TestPrefilterTruncatesToStage2K(t *testing.T) {
	candidates := make([]*osgrep.Chunk, 5)
	for i := range candidates {
		candidates[i] = &osgrep.Chunk{ID: string(rune('a' + i)), PooledColbert48D: []float32{1, 0}}
	}
	out := Prefilter(candidates, []float32{1, 0}, 2)
	assert.Len(t, out, 2)
}

func TestPrefilterSkipsSortWhenCandidatesFitStage2K(t *testing.T) {
	// When len(candidates) <= stage2K, stage 1 is not executed: the
	// stage-2 input must equal the stage-1 input, in order, with no reorder
	// even though "far" would otherwise sort ahead of "close" by cosine.
	candidates := []*osgrep.Chunk{
		{ID: "far", PooledColbert48D: []float32{0, 1, 0}},
		{ID: "close", PooledColbert48D: []float32{1, 0, 0}},
	}
	out := Prefilter(candidates, []float32{1, 0, 0}, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "far", out[0].ID)
	assert.Equal(t, "close", out[1].ID)
}
