package retrieve

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// DefaultStage1K is the number of fused candidates the retriever keeps
// before handing off to the reranker.
const DefaultStage1K = 200

// Retriever runs dense and lexical searches against a store concurrently
// and fuses the results with RRF.
type Retriever struct {
	store Store
	rrfK  int
	stage1K int

	// ftsReady is a one-shot flag: the FTS index is created lazily on first
	// use and never attempted again for the lifetime of the Retriever.
	ftsReady atomic.Bool
}

// New creates a Retriever against store with the given RRF constant and
// stage-1 candidate budget; zero values fall back to package defaults.
func New(store Store, rrfK, stage1K int) *Retriever {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	if stage1K <= 0 {
		stage1K = DefaultStage1K
	}
	return &Retriever{store: store, rrfK: rrfK, stage1K: stage1K}
}

// preRerankK sizes the per-arm candidate request: max(5*limit, 500), so the
// fused list has enough depth to survive truncation to stage1K before
// reranking.
func preRerankK(limit int) int {
	k := 5 * limit
	if k < 500 {
		k = 500
	}
	return k
}

// Search runs dense and lexical retrieval concurrently against table and
// fuses the results with RRF, truncated to stage1K candidates. The returned
// map carries each survivor's fused RRF score, keyed by candidateKey, for
// the shaping stage to blend back in after reranking. Neither arm failing
// fails the search: a broken arm degrades to an empty result for that arm
// so the other can still surface candidates.
func (r *Retriever) Search(ctx context.Context, table Table, denseVec []float32, queryText string, limit int, whereSQL string) ([]*osgrep.Chunk, map[string]float64, error) {
	k := preRerankK(limit)

	var dense, lexical []*osgrep.Chunk

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		results, err := table.VectorSearch(ctx, denseVec, k, whereSQL)
		if err != nil {
			// Dense arm degrades gracefully: a vector-search failure
			// proceeds lexical-only rather than failing the whole search.
			slog.Warn("dense search unavailable, proceeding lexical-only", slog.Any("err", err))
			return
		}
		dense = results
	}()
	go func() {
		defer wg.Done()
		results, err := table.Search(ctx, queryText, k, whereSQL)
		if err != nil {
			if r.ensureFTSIndex(ctx) {
				results, err = table.Search(ctx, queryText, k, whereSQL)
			}
		}
		if err != nil {
			// Lexical arm degrades gracefully: when FTS is unavailable,
			// hybrid search proceeds dense-only.
			slog.Warn("lexical search unavailable, proceeding dense-only", slog.Any("err", err))
			return
		}
		lexical = results
	}()
	wg.Wait()

	chunks, scores := RRFFuseWithScores(dense, lexical, r.rrfK, r.stage1K)
	return chunks, scores, nil
}

// ensureFTSIndex attempts FTS index creation exactly once per Retriever
// lifetime, regardless of how many callers race into it concurrently.
func (r *Retriever) ensureFTSIndex(ctx context.Context) bool {
	if r.ftsReady.Load() {
		return true
	}
	if !r.ftsReady.CompareAndSwap(false, true) {
		return true
	}
	if err := r.store.CreateFTSIndex(ctx); err != nil {
		slog.Warn("failed to create fts index", slog.Any("err", err))
		return false
	}
	return true
}
