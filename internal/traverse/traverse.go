// Package traverse enumerates indexable files in a repository, applying
// VCS-aware and custom ignore rules and following symlinks without cycles.
// Discovered paths stream out over a channel rather than building a slice
// up front.
package traverse

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/osgrep/osgrep-core/internal/ignore"
)

const ignoreFileName = ".osgrepignore"

// Walker discovers indexable files under a repository root.
type Walker struct {
	// CustomPatterns are gitignore-syntax patterns supplied at construction,
	// applied before any ignore file.
	CustomPatterns []string
}

// New creates a Walker with the given extra ignore patterns.
func New(customPatterns ...string) *Walker {
	return &Walker{CustomPatterns: customPatterns}
}

// Files streams absolute paths of every indexable file under root. The
// channel is closed when traversal completes or ctx is cancelled.
func (w *Walker) Files(ctx context.Context, root string) (<-chan string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 256)

	go func() {
		defer close(out)

		rootMatcher := w.rootMatcher(absRoot)
		visited := map[string]bool{}

		if isVCSRepo(absRoot) {
			w.walkVCS(ctx, absRoot, absRoot, rootMatcher, visited, out)
			return
		}

		w.walkRaw(ctx, absRoot, absRoot, rootMatcher, visited, out)
	}()

	return out, nil
}

// rootMatcher builds the custom-pattern + root .osgrepignore matcher used
// by raw traversal and for the root repository's tracked files; nested
// repositories' tracked files are not filtered by it.
func (w *Walker) rootMatcher(absRoot string) *ignore.Matcher {
	m := ignore.New()
	for _, p := range w.CustomPatterns {
		m.AddPattern(p)
	}
	ignoreFile := filepath.Join(absRoot, ignoreFileName)
	if _, err := os.Stat(ignoreFile); err == nil {
		if err := m.AddFromFile(ignoreFile, ""); err != nil {
			slog.Warn("failed to read ignore file", slog.String("path", ignoreFile), slog.String("error", err.Error()))
		}
	}
	return m
}

// IsIgnored reports whether path should be excluded from indexing, applying
// this precedence: hidden segments, then custom/.osgrepignore patterns. It
// does not consult VCS tracked-files state (that optimization only applies
// during a full Files traversal); it is meant for one-off checks (e.g. a
// file-watcher event) against a root already known to use raw rules.
func (w *Walker) IsIgnored(path, root string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return true
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return true
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)

	if rel == "." {
		return false
	}
	if strings.HasPrefix(rel, "../") || rel == ".." {
		return true
	}

	if hasHiddenSegment(rel) {
		return true
	}

	m := w.rootMatcher(absRoot)
	info, statErr := os.Stat(absPath)
	isDir := statErr == nil && info.IsDir()
	return m.Match(rel, isDir)
}

// hasHiddenSegment reports whether any path segment (other than "." or "..")
// begins with a dot.
func hasHiddenSegment(relSlashPath string) bool {
	for _, seg := range strings.Split(relSlashPath, "/") {
		if seg == "." || seg == ".." || seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// walkVCS enumerates dir's tracked files via git, recursing into nested
// repositories with their own tracked-files listing rather than the outer
// repo's ignore rules: nested rules replace, not layer under, the outer ones.
func (w *Walker) walkVCS(ctx context.Context, absRoot, dir string, rootMatcher *ignore.Matcher, visited map[string]bool, out chan<- string) {
	files, err := trackedFiles(ctx, dir)
	if err != nil || len(files) == 0 {
		// VCS enumeration yielded nothing: use raw traversal for this
		// subtree instead.
		w.walkRaw(ctx, absRoot, dir, rootMatcher, visited, out)
		return
	}

	for _, rel := range files {
		select {
		case <-ctx.Done():
			return
		default:
		}
		abs := filepath.Join(dir, rel)
		if hasHiddenSegment(filepath.ToSlash(rel)) {
			continue
		}
		if dir == absRoot && rootMatcher.Match(filepath.ToSlash(rel), false) {
			continue
		}
		info, err := os.Lstat(abs)
		if err != nil {
			continue // broken symlink or permission error: silently skipped
		}
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				continue
			}
			abs = resolved
		}
		out <- abs
	}

	for _, nested := range findNestedRepos(absRoot, dir) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.walkVCS(ctx, absRoot, nested, rootMatcher, visited, out)
	}
}

// walkRaw performs manual recursive traversal (no VCS enumeration
// available), applying the hidden-segment rule and ignore matcher, following
// symlinks to files and directories while deduping already-visited
// directories by their canonical path.
func (w *Walker) walkRaw(ctx context.Context, absRoot, dir string, rootMatcher *ignore.Matcher, visited map[string]bool, out chan<- string) {
	canonical, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return // broken symlink target: silently skipped
	}
	if visited[canonical] {
		return
	}
	visited[canonical] = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		return // permission denied: silently skipped
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		abs := filepath.Join(dir, name)

		rel, err := filepath.Rel(absRoot, abs)
		if err != nil {
			continue
		}
		relSlash := filepath.ToSlash(rel)

		if hasHiddenSegment(relSlash) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // broken symlink or permission error
		}

		isSymlink := info.Mode()&os.ModeSymlink != 0
		target := abs
		if isSymlink {
			resolved, err := filepath.EvalSymlinks(abs)
			if err != nil {
				continue // broken symlink: silently skipped
			}
			target = resolved
			info, err = os.Stat(target)
			if err != nil {
				continue
			}
		}

		if info.IsDir() {
			if rootMatcher.Match(relSlash, true) {
				continue
			}
			w.walkRaw(ctx, absRoot, target, rootMatcher, visited, out)
			continue
		}

		if rootMatcher.Match(relSlash, false) {
			continue
		}
		out <- target
	}
}

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
