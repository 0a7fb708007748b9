package changeset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDetectAddedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello")

	set, err := Detect(map[string]FileMeta{}, []string{path}, StatWithoutHash)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, set.Added)
	assert.Empty(t, set.Modified)
	assert.Empty(t, set.Deleted)
}

func TestDetectUnchangedFileIsNeitherAddedNorModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello")

	meta, err := Stat(path)
	require.NoError(t, err)

	set, err := Detect(map[string]FileMeta{path: meta}, []string{path}, StatWithoutHash)
	require.NoError(t, err)
	assert.Empty(t, set.Added)
	assert.Empty(t, set.Modified)
	assert.Empty(t, set.Deleted)
}

func TestDetectSizeChangeIsModifiedWithoutHashing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello")
	prev := FileMeta{Hash: "irrelevant-because-size-differs", Size: 1, MtimeMs: 1}

	set, err := Detect(map[string]FileMeta{path: prev}, []string{path}, StatWithoutHash)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, set.Modified)
}

func TestDetectMtimeChangeSameSizeSameHashIsNotModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "hello")

	meta, err := Stat(path)
	require.NoError(t, err)

	stale := meta
	stale.MtimeMs = meta.MtimeMs - int64(time.Hour/time.Millisecond)

	set, err := Detect(map[string]FileMeta{path: stale}, []string{path}, StatWithoutHash)
	require.NoError(t, err)
	assert.Empty(t, set.Modified, "same size and same content hash must not count as modified even if mtime changed")
}

func TestDetectDeletedFile(t *testing.T) {
	set, err := Detect(map[string]FileMeta{"/gone.txt": {Size: 1}}, []string{}, StatWithoutHash)
	require.NoError(t, err)
	assert.Equal(t, []string{"/gone.txt"}, set.Deleted)
}

func TestDetectVanishedBetweenTraversalAndStatIsSkipped(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-existed.txt")
	set, err := Detect(map[string]FileMeta{}, []string{missing}, StatWithoutHash)
	require.NoError(t, err)
	assert.Empty(t, set.Added)
}
