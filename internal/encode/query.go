// Package encode implements a query encoder facade: turning a query string
// into the transient Query State used by retrieval and reranking.
package encode

import (
	"context"
	"log/slog"

	"github.com/osgrep/osgrep-core/internal/worker"
)

// State is the transient per-query encoding.
type State struct {
	Dense        []float32
	Colbert      [][]int8
	ColbertScale float32
	Pooled       []float32 // unit-norm
}

// Facade encodes queries through the worker pool.
type Facade struct {
	Pool       *worker.Pool
	ColbertDim int // expected row width; 0 disables the mismatch check
}

// New creates a Facade dispatching through pool, warning (but not failing)
// if the worker's colbert row width differs from expectedColbertDim.
func New(pool *worker.Pool, expectedColbertDim int) *Facade {
	return &Facade{Pool: pool, ColbertDim: expectedColbertDim}
}

// Encode produces the full Query State for query via the worker pool.
func (f *Facade) Encode(ctx context.Context, query string) (State, error) {
	reply, err := f.Pool.Dispatch(ctx, worker.Request{Kind: worker.KindEncodeQuery, Text: query})
	if err != nil {
		return State{}, err
	}

	if f.ColbertDim > 0 && len(reply.ColbertRaw) > 0 && len(reply.ColbertRaw[0]) != f.ColbertDim {
		slog.Warn("colbert dimension mismatch",
			slog.Int("expected", f.ColbertDim),
			slog.Int("actual", len(reply.ColbertRaw[0])))
	}

	return State{
		Dense:        reply.Vector,
		Colbert:      reply.ColbertRaw,
		ColbertScale: reply.ColbertScale,
		Pooled:       reply.Pooled,
	}, nil
}
