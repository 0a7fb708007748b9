package traverse

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
)

// isVCSRepo reports whether dir lies inside a git working tree (at its root
// or below it), git being the only VCS this traversal layer special-cases.
func isVCSRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// trackedFiles enumerates files git knows about (tracked + untracked-but-not-
// ignored), relative to dir, using the same ignore rules git itself applies.
// An empty, non-error result signals "fall back to raw traversal" — this
// genuinely happens on very large repos where `git ls-files` can be slow to
// start or return nothing under some sparse-checkout configurations.
func trackedFiles(ctx context.Context, dir string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard", "-z")
	cmd.Dir = dir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}

	raw := stdout.Bytes()
	if len(raw) == 0 {
		return nil, nil
	}

	parts := bytes.Split(bytes.TrimRight(raw, "\x00"), []byte{0})
	files := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		files = append(files, filepath.FromSlash(string(p)))
	}
	return files, nil
}

// findNestedRepos checks dir's immediate subdirectories for one holding a
// ".git" directory (a repository checked in directly), excluding dir's own
// ".git". Deeper levels are not searched, and a ".git" file (as a submodule
// checkout uses) is not detected. Returned paths are dir joined with the
// subdirectory name.
func findNestedRepos(root, dir string) []string {
	var nested []string
	entries, err := readDirNames(dir)
	if err != nil {
		return nil
	}
	for _, name := range entries {
		if name == ".git" {
			continue
		}
		sub := filepath.Join(dir, name)
		if isDir(sub) {
			if isDir(filepath.Join(sub, ".git")) && sub != root {
				nested = append(nested, sub)
			}
		}
	}
	return nested
}
