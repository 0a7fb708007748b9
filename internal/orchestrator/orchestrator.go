// Package orchestrator composes every other component into the two public
// operations the retrieval core exposes: search(query) and index(root). The
// orchestrator itself holds no concurrent-mutable state of its own between
// awaits — it is single-threaded; each call runs its sub-stages to
// completion in order.
package orchestrator

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/osgrep/osgrep-core/config"
	"github.com/osgrep/osgrep-core/internal/cache"
	"github.com/osgrep/osgrep-core/internal/changeset"
	"github.com/osgrep/osgrep-core/internal/encode"
	"github.com/osgrep/osgrep-core/internal/metastore"
	"github.com/osgrep/osgrep-core/internal/rerank"
	"github.com/osgrep/osgrep-core/internal/retrieve"
	"github.com/osgrep/osgrep-core/internal/shape"
	"github.com/osgrep/osgrep-core/internal/traverse"
	"github.com/osgrep/osgrep-core/internal/worker"
	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// Chunker is the external collaborator that splits a file's content into
// Chunk records (content, display text, line ranges, symbols). Its
// tree-sitter-backed implementation lives outside this module; the
// orchestrator only depends on this seam.
type Chunker interface {
	Chunk(ctx context.Context, absPath, repoRoot string) ([]*osgrep.Chunk, error)
}

// Upserter is the external vector store's write side: the store engine
// itself lives outside this module, which only needs these two operations
// to drive indexing.
type Upserter interface {
	Upsert(ctx context.Context, chunks []*osgrep.Chunk) error
	DeleteByPath(ctx context.Context, path string) error
}

// SearchOptions controls per-query behavior. The zero value leaves Rerank
// false, which skips the exact late-interaction pass and returns results in
// fused order; callers set Rerank to true to run it.
type SearchOptions struct {
	Rerank bool
}

// Orchestrator wires traversal, change detection, the worker pool, the
// hybrid retriever, the reranker, and score shaping together behind the two
// public operations.
type Orchestrator struct {
	Config config.Config

	Walker    *traverse.Walker
	Meta      *metastore.Store
	Pool      *worker.Pool
	Encoder   *encode.Facade
	Retriever *retrieve.Retriever
	Store     retrieve.Store
	Cache     *cache.VectorCache
	Chunker   Chunker
	Upserter  Upserter
}

// New assembles an Orchestrator from its already-constructed collaborators.
func New(cfg config.Config, walker *traverse.Walker, meta *metastore.Store, pool *worker.Pool, enc *encode.Facade, retriever *retrieve.Retriever, store retrieve.Store, vecCache *cache.VectorCache, chunker Chunker, upserter Upserter) *Orchestrator {
	return &Orchestrator{
		Config:    cfg,
		Walker:    walker,
		Meta:      meta,
		Pool:      pool,
		Encoder:   enc,
		Retriever: retriever,
		Store:     store,
		Cache:     vecCache,
		Chunker:   chunker,
		Upserter:  upserter,
	}
}

// Search runs the full query pipeline: encode the query, run hybrid
// retrieval, two-stage rerank, then score shaping, mapping survivors to the
// public result shape. It never returns an error for a missing table,
// missing FTS, or zero candidates — those degrade to an empty result.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int, opts SearchOptions, pathPrefix string) ([]osgrep.SearchResult, error) {
	if limit <= 0 {
		limit = o.Config.RerankTop
	}

	state, err := o.Encoder.Encode(ctx, query)
	if err != nil {
		return nil, err
	}

	table, err := o.Store.EnsureTable(ctx)
	if err != nil {
		slog.Warn("vector store table unavailable, returning empty result", slog.Any("err", err))
		return nil, nil
	}

	whereSQL := retrieve.PathPrefixFilter(pathPrefix)

	candidates, rrfScores, err := o.Retriever.Search(ctx, table, state.Dense, query, limit, whereSQL)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	prefiltered := rerank.Prefilter(candidates, state.Pooled, o.Config.Stage2K)

	var scored []rerank.Scored
	if opts.Rerank {
		scored, err = rerank.ColbertRerank(ctx, o.Pool, state.Colbert, state.ColbertScale, prefiltered, o.Config.RerankTop)
		if err != nil {
			slog.Warn("exact rerank failed, falling back to fused order", slog.Any("err", err))
			scored = rerank.NoOpRerank(prefiltered, o.Config.RerankTop)
		}
	} else {
		scored = rerank.NoOpRerank(prefiltered, o.Config.RerankTop)
	}

	if len(scored) == 0 {
		return nil, nil
	}

	blended := shape.Blend(scored, rrfScores, o.Config.RerankBlend)
	shape.ApplyBoosts(blended, shape.BoostConfig{
		AnchorPenalty: o.Config.AnchorPenalty,
		CodeBoost:     o.Config.CodeBoost,
		TestPenalty:   o.Config.TestPenalty,
		DocPenalty:    o.Config.DocPenalty,
	})
	diversified := shape.Diversify(blended, o.Config.MaxPerFile)

	if limit < len(diversified) {
		diversified = diversified[:limit]
	}

	results := make([]osgrep.SearchResult, len(diversified))
	for i, c := range diversified {
		results[i] = toSearchResult(c)
	}
	return results, nil
}

// toSearchResult maps a shaped candidate to the public result shape.
func toSearchResult(c shape.Candidate) osgrep.SearchResult {
	chunk := c.Chunk
	display := chunk.DisplayText
	if display == "" {
		display = chunk.Content
	}
	numLines := chunk.EndLine - chunk.StartLine + 1
	if numLines < 1 {
		numLines = 1
	}
	return osgrep.SearchResult{
		Text:      chunk.ContextPrev + display + chunk.ContextNext + " ",
		Score:     c.Score,
		Path:      chunk.Path,
		Hash:      chunk.Hash,
		IsAnchor:  chunk.IsAnchor,
		StartLine: chunk.StartLine,
		NumLines:  numLines,
		ChunkType: chunk.ChunkType,
	}
}

// IndexSummary reports what an Index call did.
type IndexSummary struct {
	Added    int
	Modified int
	Deleted  int
}

// Index runs the full indexing pipeline: traverse the repository, diff
// against the persisted meta store, chunk and embed changed files through
// the worker pool, upsert into the external store, and persist the updated
// meta store.
func (o *Orchestrator) Index(ctx context.Context, root string) (IndexSummary, error) {
	var summary IndexSummary

	fileCh, err := o.Walker.Files(ctx, root)
	if err != nil {
		return summary, err
	}

	var current []string
	for path := range fileCh {
		current = append(current, path)
	}

	prev := o.Meta.All()
	changes, err := changeset.Detect(prev, current, changeset.StatWithoutHash)
	if err != nil {
		return summary, err
	}

	for _, path := range changes.Deleted {
		o.Meta.Delete(path)
		rel := repoRelative(root, path)
		if err := o.Upserter.DeleteByPath(ctx, rel); err != nil {
			slog.Warn("failed to delete stale chunks", slog.String("path", rel), slog.Any("err", err))
		}
	}
	summary.Deleted = len(changes.Deleted)

	toIndex := append(append([]string{}, changes.Added...), changes.Modified...)
	for _, path := range toIndex {
		if err := o.indexFile(ctx, root, path); err != nil {
			slog.Warn("failed to index file", slog.String("path", path), slog.Any("err", err))
			continue
		}
	}
	summary.Added = len(changes.Added)
	summary.Modified = len(changes.Modified)

	if err := o.Meta.Save(); err != nil {
		return summary, err
	}
	return summary, nil
}

// indexFile chunks one file, embeds chunks not already in the vector cache,
// upserts the results, and records the file's fresh meta entry.
func (o *Orchestrator) indexFile(ctx context.Context, root, absPath string) error {
	chunks, err := o.Chunker.Chunk(ctx, absPath, root)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		if vec, ok := o.Cache.Get(c.Content); ok {
			c.Vector = vec
			continue
		}
		reply, err := o.Pool.Dispatch(ctx, worker.Request{Kind: worker.KindEmbedSingle, Text: c.Content})
		if err != nil {
			return err
		}
		c.Vector = reply.Vector
		o.Cache.Put(c.Content, reply.Vector)
	}

	if len(chunks) > 0 {
		if err := o.Upserter.Upsert(ctx, chunks); err != nil {
			return err
		}
	}

	meta, err := changeset.Stat(absPath)
	if err != nil {
		return err
	}
	o.Meta.Set(absPath, meta)
	return nil
}

// repoRelative converts an absolute traversal path into the repo-relative,
// POSIX-normalized addressing scheme Chunk.Path uses, falling back to the
// absolute path only when filepath.Rel cannot relate it to root (a path
// outside root comes back as "../...").
func repoRelative(root, absPath string) string {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return absPath
	}
	return filepath.ToSlash(rel)
}
