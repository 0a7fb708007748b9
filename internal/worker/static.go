package worker

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"runtime"
	"strings"
	"sync"
)

// StaticEncoder is a dependency-free, hash-based Encoder: deterministic,
// fast, and network-free, used where no real model backend is configured
// (e.g. tests, or a cold-start before model weights are downloaded). It also
// produces a late-interaction matrix and pooled projection so it can stand
// in for every Encoder method the pool dispatches.
type StaticEncoder struct {
	mu        sync.RWMutex
	closed    bool
	dense     int
	pooledDim int
}

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEncoder creates a StaticEncoder with the given dense and pooled
// dimensions.
func NewStaticEncoder(denseDim, pooledDim int) *StaticEncoder {
	if denseDim <= 0 {
		denseDim = 256
	}
	if pooledDim <= 0 {
		pooledDim = 48
	}
	return &StaticEncoder{dense: denseDim, pooledDim: pooledDim}
}

// EmbedSingle hashes tokens into a fixed-size vector and L2-normalizes it.
func (e *StaticEncoder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	return normalize(e.vectorize(text, e.dense)), nil
}

// EmbedBatch embeds each text independently.
func (e *StaticEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Rerank computes a MaxSim-style score per document: for each query row take
// the max dot product over document rows, summed across query rows.
func (e *StaticEncoder) Rerank(_ context.Context, queryMatrix [][]float32, docMatrices [][][]float32) ([]float64, error) {
	scores := make([]float64, len(docMatrices))
	for d, doc := range docMatrices {
		var sum float64
		for _, qrow := range queryMatrix {
			best := float64(-1)
			for _, drow := range doc {
				if dot := float64(dotF32(qrow, drow)); dot > best {
					best = dot
				}
			}
			if best > -1 {
				sum += best
			}
		}
		scores[d] = sum
	}
	return scores, nil
}

// EncodeQuery derives a dense vector, a tiny per-token "late interaction"
// matrix (one row per token hashed into dense/4 dims), and a mean-pooled,
// projected, unit-norm summary of that matrix.
func (e *StaticEncoder) EncodeQuery(_ context.Context, text string) ([]float32, [][]int8, float32, []float32, error) {
	dense := normalize(e.vectorize(text, e.dense))

	tokens := tokenRegex.FindAllString(text, -1)
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	rowDim := e.dense / 4
	if rowDim < 4 {
		rowDim = 4
	}

	rows := make([][]float32, len(tokens))
	for i, tok := range tokens {
		rows[i] = normalize(e.vectorize(tok, rowDim))
	}

	quant, scale := quantize(rows)
	pooled := normalize(meanPoolProject(rows, e.pooledDim))

	return dense, quant, scale, pooled, nil
}

// RSSBytes reports process memory via runtime.MemStats, the standard tool
// for in-process introspection.
func (e *StaticEncoder) RSSBytes() int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int64(m.Sys)
}

// Close marks the encoder closed; further calls still function since this
// encoder holds no real resources (best-effort, never errors).
func (e *StaticEncoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *StaticEncoder) vectorize(text string, dim int) []float32 {
	vec := make([]float32, dim)
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return vec
	}
	for _, tok := range tokenRegex.FindAllString(strings.ToLower(trimmed), -1) {
		idx := hashToIndex(tok, dim)
		vec[idx] += 1
	}
	return vec
}

func hashToIndex(s string, dim int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(dim))
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dotF32(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// quantize maps unit-norm rows to int8 with a single shared scale.
func quantize(rows [][]float32) ([][]int8, float32) {
	var maxAbs float32
	for _, row := range rows {
		for _, v := range row {
			if abs := float32(math.Abs(float64(v))); abs > maxAbs {
				maxAbs = abs
			}
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	scale := maxAbs / 127
	out := make([][]int8, len(rows))
	for i, row := range rows {
		q := make([]int8, len(row))
		for j, v := range row {
			q[j] = int8(math.Round(float64(v / scale)))
		}
		out[i] = q
	}
	return out, scale
}

// meanPoolProject mean-pools rows then truncates to dim, or repeats the
// pooled values cyclically when dim exceeds the row width — a stand-in
// for the learned linear projection a real ColBERT pooling head would apply.
func meanPoolProject(rows [][]float32, dim int) []float32 {
	if len(rows) == 0 {
		return make([]float32, dim)
	}
	rowDim := len(rows[0])
	mean := make([]float32, rowDim)
	for _, row := range rows {
		for i, v := range row {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(rows))
	}

	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		out[i] = mean[i%rowDim]
	}
	return out
}
