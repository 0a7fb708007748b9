package shape

import "sort"

// DefaultMaxPerFile caps how many surviving chunks from the same file reach
// the final result list.
const DefaultMaxPerFile = 3

// Diversify re-sorts candidates by score descending, stable on input order,
// then drops any candidate beyond maxPerFile for its Path. A candidate
// dropped for exceeding its file's quota never returns, even if a later,
// lower-scoring file would otherwise have room — a simple greedy per-file
// cap, not a round-robin reshuffle.
func Diversify(candidates []Candidate, maxPerFile int) []Candidate {
	if maxPerFile <= 0 {
		maxPerFile = DefaultMaxPerFile
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })

	counts := make(map[string]int)
	out := make([]Candidate, 0, len(ordered))
	for _, c := range ordered {
		path := c.Chunk.Path
		if counts[path] >= maxPerFile {
			continue
		}
		counts[path]++
		out = append(out, c)
	}
	return out
}
