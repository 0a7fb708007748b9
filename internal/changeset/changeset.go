// Package changeset computes add/modify/delete sets between a previous file
// meta snapshot and the current traversal.
package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// FileMeta is the persisted state for one file.
type FileMeta struct {
	Hash    string
	MtimeMs int64
	Size    int64
}

// Set partitions a traversal against a previous snapshot.
type Set struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Detect compares the previous meta map against the current file list
// (absolute paths) and returns the changed sets. Content hashing only
// happens for files whose size or mtime changed, to avoid reading unchanged
// files. stat should be StatWithoutHash in production; Detect calls
// hashFile itself only when needed.
func Detect(prev map[string]FileMeta, current []string, stat func(path string) (FileMeta, error)) (Set, error) {
	var result Set
	seen := make(map[string]bool, len(current))

	for _, path := range current {
		seen[path] = true

		fresh, err := stat(path)
		if err != nil {
			continue // vanished between traversal and stat: treat as absent
		}

		old, existed := prev[path]
		if !existed {
			result.Added = append(result.Added, path)
			continue
		}

		if fresh.Size != old.Size {
			result.Modified = append(result.Modified, path)
			continue
		}
		if fresh.MtimeMs != old.MtimeMs {
			hash, err := hashFile(path)
			if err != nil {
				continue
			}
			if hash != old.Hash {
				result.Modified = append(result.Modified, path)
			}
		}
	}

	for path := range prev {
		if !seen[path] {
			result.Deleted = append(result.Deleted, path)
		}
	}

	return result, nil
}

// Stat computes the FileMeta for path: size and mtime from the filesystem,
// plus a content hash. It always reads the whole file; Detect does not call
// it (Detect hashes lazily itself, only on size/mtime change).
func Stat(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	hash, err := hashFile(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Hash:    hash,
		MtimeMs: info.ModTime().UnixMilli(),
		Size:    info.Size(),
	}, nil
}

// StatWithoutHash returns size/mtime only, leaving Hash empty. Detect uses
// this as the cheap probe and only calls hashFile when size/mtime changed.
func StatWithoutHash(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		MtimeMs: info.ModTime().UnixMilli(),
		Size:    info.Size(),
	}, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
