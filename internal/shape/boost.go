package shape

import "strings"

// BoostConfig holds the structural multipliers applied after blending.
// Every multiplier is independently overridable via config/env
// (config.Config already surfaces these as OSGREP_* overrides).
type BoostConfig struct {
	AnchorPenalty float64 // applied to IsAnchor chunks, default 0.99
	CodeBoost     float64 // applied to function/method/class/interface chunks, default 1.05
	TestPenalty   float64 // applied when Path looks like a test file, default 0.9
	DocPenalty    float64 // applied when Path looks like documentation, default 0.85
}

var codeChunkTypes = map[string]bool{
	"function":   true,
	"class":      true,
	"method":     true,
	"interface":  true,
	"type_alias": true,
}

// ApplyBoosts multiplies each candidate's score by the applicable
// structural factors. Multiple factors compose multiplicatively when more
// than one applies to the same chunk.
func ApplyBoosts(candidates []Candidate, cfg BoostConfig) {
	for i := range candidates {
		c := candidates[i].Chunk
		factor := 1.0

		if c.IsAnchor && cfg.AnchorPenalty > 0 {
			factor *= cfg.AnchorPenalty
		}
		if codeChunkTypes[string(c.ChunkType)] && !c.IsAnchor && cfg.CodeBoost > 0 {
			factor *= cfg.CodeBoost
		}
		if isTestPath(c.Path) && cfg.TestPenalty > 0 {
			factor *= cfg.TestPenalty
		}
		if isDocPath(c.Path) && cfg.DocPenalty > 0 {
			factor *= cfg.DocPenalty
		}

		candidates[i].Score *= factor
	}
}

// isTestPath matches common test-file naming conventions across languages.
func isTestPath(path string) bool {
	lower := strings.ToLower(path)
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}
	switch {
	case strings.Contains(lower, "/test/"), strings.Contains(lower, "/tests/"), strings.Contains(lower, "/__tests__/"),
		strings.Contains(lower, "/spec/"), strings.Contains(lower, "/specs/"):
		return true
	case strings.HasSuffix(base, "_test.go"), strings.HasSuffix(base, ".test.ts"), strings.HasSuffix(base, ".test.js"),
		strings.HasSuffix(base, ".spec.ts"), strings.HasSuffix(base, ".spec.js"),
		strings.HasPrefix(base, "test_"), strings.HasSuffix(base, "_test.py"):
		return true
	default:
		return false
	}
}

// isDocPath matches documentation files and directories.
func isDocPath(path string) bool {
	lower := strings.ToLower(path)
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}
	switch {
	case strings.Contains(lower, "/docs/"), strings.Contains(lower, "/doc/"):
		return true
	case strings.HasSuffix(base, ".md"), strings.HasSuffix(base, ".mdx"), strings.HasSuffix(base, ".rst"), strings.HasSuffix(base, ".adoc"),
		strings.HasSuffix(base, ".txt"), strings.HasSuffix(base, ".json"), strings.HasSuffix(base, ".lock"):
		return true
	default:
		return false
	}
}
