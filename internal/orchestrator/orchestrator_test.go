package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osgrep/osgrep-core/config"
	"github.com/osgrep/osgrep-core/internal/cache"
	"github.com/osgrep/osgrep-core/internal/encode"
	"github.com/osgrep/osgrep-core/internal/metastore"
	"github.com/osgrep/osgrep-core/internal/retrieve"
	"github.com/osgrep/osgrep-core/internal/traverse"
	"github.com/osgrep/osgrep-core/internal/worker"
	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// fakeChunker treats each file as a single chunk spanning its whole content,
// a stand-in for the out-of-scope tree-sitter chunker.
type fakeChunker struct{}

func (fakeChunker) Chunk(_ context.Context, absPath, root string) ([]*osgrep.Chunk, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		rel = absPath
	}
	rel = filepath.ToSlash(rel)
	return []*osgrep.Chunk{{
		ID:        rel,
		Path:      rel,
		Content:   string(data),
		StartLine: 1,
		EndLine:   1,
		ChunkType: osgrep.ChunkOther,
		Hash:      rel,
	}}, nil
}

// fakeStore is an in-memory Table+Store+Upserter stand-in for the external
// vector/FTS store.
type fakeStore struct {
	chunks map[string]*osgrep.Chunk

	ensureErr error
}

func newFakeStore() *fakeStore { return &fakeStore{chunks: map[string]*osgrep.Chunk{}} }

func (s *fakeStore) EnsureTable(context.Context) (retrieve.Table, error) {
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}
	return s, nil
}

func (s *fakeStore) CreateFTSIndex(context.Context) error { return nil }

func (s *fakeStore) VectorSearch(_ context.Context, _ []float32, limit int, _ string) ([]*osgrep.Chunk, error) {
	return s.all(limit), nil
}

func (s *fakeStore) Search(_ context.Context, text string, limit int, _ string) ([]*osgrep.Chunk, error) {
	var out []*osgrep.Chunk
	lower := strings.ToLower(text)
	for _, c := range s.chunks {
		if strings.Contains(strings.ToLower(c.Content), lower) {
			out = append(out, c)
		}
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) all(limit int) []*osgrep.Chunk {
	var out []*osgrep.Chunk
	for _, c := range s.chunks {
		out = append(out, c)
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *fakeStore) Upsert(_ context.Context, chunks []*osgrep.Chunk) error {
	for _, c := range chunks {
		s.chunks[c.Path] = c
	}
	return nil
}

func (s *fakeStore) DeleteByPath(_ context.Context, path string) error {
	for k, c := range s.chunks {
		if c.Path == path || k == path {
			delete(s.chunks, k)
		}
	}
	return nil
}

func newTestOrchestrator(t *testing.T, store *fakeStore) *Orchestrator {
	t.Helper()

	pool, err := worker.New(func(int) (worker.Encoder, error) {
		return worker.NewStaticEncoder(32, 8), nil
	}, 0, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Shutdown(0) })

	metaPath := filepath.Join(t.TempDir(), "meta.json")
	meta, err := metastore.Open(metaPath)
	require.NoError(t, err)
	t.Cleanup(meta.Close)

	cfg := config.Default()
	return New(cfg, traverse.New(), meta, pool, encode.New(pool, 0), retrieve.New(store, cfg.RRFK, cfg.Stage1K), store, cache.New("static", 100), fakeChunker{}, store)
}

func TestOrchestratorIndexThenSearchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc parseTokens() {}\n"), 0o644))

	store := newFakeStore()
	o := newTestOrchestrator(t, store)

	summary, err := o.Index(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Added)
	require.Len(t, store.chunks, 1)

	results, err := o.Search(context.Background(), "parseTokens", 10, SearchOptions{Rerank: true}, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, "main.go", results[0].Path)
}

func TestOrchestratorSearchEmptyWhenStoreMissing(t *testing.T) {
	store := newFakeStore()
	store.ensureErr = context.DeadlineExceeded
	o := newTestOrchestrator(t, store)

	results, err := o.Search(context.Background(), "anything", 10, SearchOptions{Rerank: true}, "")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestOrchestratorSearchEmptyWhenNoCandidates(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(t, store)

	results, err := o.Search(context.Background(), "nothing indexed yet", 10, SearchOptions{Rerank: true}, "")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestOrchestratorIndexThenDeleteRemovesChunks(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(filePath, []byte("package main\n"), 0o644))

	store := newFakeStore()
	o := newTestOrchestrator(t, store)

	_, err := o.Index(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, store.chunks, 1)

	require.NoError(t, os.Remove(filePath))
	summary, err := o.Index(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Deleted)
	require.Empty(t, store.chunks)
}
