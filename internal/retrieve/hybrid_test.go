package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgrep/osgrep-core/pkg/osgrep"
)

// fakeTable is a deterministic in-memory stand-in for the external vector/FTS
// store, used only by tests since the real store lives outside this module.
type fakeTable struct {
	denseResults   []*osgrep.Chunk
	denseErr       error
	lexicalResults []*osgrep.Chunk
	lexicalErr     error
	lexicalCalls   int
}

func (f *fakeTable) VectorSearch(_ context.Context, _ []float32, limit int, _ string) ([]*osgrep.Chunk, error) {
	if f.denseErr != nil {
		return nil, f.denseErr
	}
	out := f.denseResults
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTable) Search(_ context.Context, _ string, limit int, _ string) ([]*osgrep.Chunk, error) {
	f.lexicalCalls++
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	out := f.lexicalResults
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type fakeStore struct {
	table          *fakeTable
	ensureErr      error
	ftsIndexCalls  int
	ftsIndexErr    error
}

func (s *fakeStore) EnsureTable(context.Context) (Table, error) {
	if s.ensureErr != nil {
		return nil, s.ensureErr
	}
	return s.table, nil
}

func (s *fakeStore) CreateFTSIndex(context.Context) error {
	s.ftsIndexCalls++
	return s.ftsIndexErr
}

func TestRetrieverSearchFusesDenseAndLexical(t *testing.T) {
	table := &fakeTable{
		denseResults:   []*osgrep.Chunk{chunk("a", "a.go"), chunk("b", "b.go")},
		lexicalResults: []*osgrep.Chunk{chunk("b", "b.go"), chunk("c", "c.go")},
	}
	store := &fakeStore{table: table}

	r := New(store, 0, 0)
	out, scores, err := r.Search(context.Background(), table, []float32{1, 0}, "query", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Contains(t, scores, "b")
}

func TestRetrieverDegradesToDenseOnlyWhenLexicalFails(t *testing.T) {
	table := &fakeTable{
		denseResults: []*osgrep.Chunk{chunk("a", "a.go")},
		lexicalErr:   errors.New("fts unavailable"),
	}
	store := &fakeStore{table: table}

	r := New(store, 0, 0)
	out, _, err := r.Search(context.Background(), table, []float32{1}, "query", 10, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestRetrieverDegradesToLexicalOnlyWhenDenseFails(t *testing.T) {
	table := &fakeTable{
		denseErr:       errors.New("vector search unavailable"),
		lexicalResults: []*osgrep.Chunk{chunk("a", "a.go")},
	}
	store := &fakeStore{table: table}

	r := New(store, 0, 0)
	out, _, err := r.Search(context.Background(), table, []float32{1}, "query", 10, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestRetrieverAttemptsFTSIndexCreationOnce(t *testing.T) {
	table := &fakeTable{
		denseResults: []*osgrep.Chunk{chunk("a", "a.go")},
		lexicalErr:   errors.New("no such table"),
	}
	store := &fakeStore{table: table}

	r := New(store, 0, 0)
	_, _, err := r.Search(context.Background(), table, []float32{1}, "q", 10, "")
	require.NoError(t, err)
	_, _, err = r.Search(context.Background(), table, []float32{1}, "q", 10, "")
	require.NoError(t, err)

	assert.Equal(t, 1, store.ftsIndexCalls, "FTS index creation must only be attempted once per retriever lifetime")
}

func TestPathPrefixFilterEscapesQuotes(t *testing.T) {
	got := PathPrefixFilter("src/o'brien")
	assert.Equal(t, "path LIKE 'src/o''brien%'", got)
}

func TestPathPrefixFilterEmpty(t *testing.T) {
	assert.Equal(t, "", PathPrefixFilter(""))
}
