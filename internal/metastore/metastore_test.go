package metastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgrep/osgrep-core/internal/changeset"
)

func TestSetGetSaveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	require.NoError(t, err)

	s.Set("/a.go", changeset.FileMeta{Hash: "h1", Size: 10, MtimeMs: 1})
	require.NoError(t, s.Save())
	s.Close()

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entry, ok := reopened.Get("/a.go")
	require.True(t, ok)
	assert.Equal(t, "h1", entry.Hash)
}

func TestDeleteByPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	s.Set(filepath.Join("dir", "a.go"), changeset.FileMeta{Hash: "a"})
	s.Set(filepath.Join("dir", "b.go"), changeset.FileMeta{Hash: "b"})
	s.Set(filepath.Join("other", "c.go"), changeset.FileMeta{Hash: "c"})

	s.DeleteByPrefix("dir")

	_, ok := s.Get(filepath.Join("dir", "a.go"))
	assert.False(t, ok)
	_, ok = s.Get(filepath.Join("other", "c.go"))
	assert.True(t, ok)
}

func TestLoadRecoversFromTmpWhenMainCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(path+".tmp", []byte(`{"/a.go":{"hash":"h","mtimeMs":1,"size":2}}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	entry, ok := s.Get("/a.go")
	require.True(t, ok)
	assert.Equal(t, "h", entry.Hash)
}

func TestLoadStartsEmptyWhenBothFilesCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(path+".tmp", []byte("also not json"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.All())
}

func TestLoadNormalizesLegacyStringEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"/a.go":"legacy-hash"}`), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	entry, ok := s.Get("/a.go")
	require.True(t, ok)
	assert.Equal(t, "legacy-hash", entry.Hash)
	assert.Zero(t, entry.MtimeMs)
}

func TestConcurrentSavesDoNotRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			s.Set(filepath.Join("d", string(rune('a'+n))+".go"), changeset.FileMeta{Hash: "h"})
			done <- s.Save()
		}(i)
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}
}
