package encode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osgrep/osgrep-core/internal/worker"
)

func newTestPool(t *testing.T, denseDim, pooledDim int) *worker.Pool {
	t.Helper()
	p, err := worker.New(func(int) (worker.Encoder, error) {
		return worker.NewStaticEncoder(denseDim, pooledDim), nil
	}, 0, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { p.Shutdown(0) })
	return p
}

func TestEncodeReturnsFullQueryState(t *testing.T) {
	pool := newTestPool(t, 32, 8)
	f := New(pool, 0)

	state, err := f.Encode(context.Background(), "func Authenticate(token string) error")
	require.NoError(t, err)

	assert.Len(t, state.Dense, 32)
	assert.NotEmpty(t, state.Colbert)
	assert.Len(t, state.Pooled, 8)
}

type erroringEncoder struct {
	worker.Encoder
}

func (erroringEncoder) EncodeQuery(ctx context.Context, text string) ([]float32, [][]int8, float32, []float32, error) {
	return nil, nil, 0, nil, assert.AnError
}

func (erroringEncoder) RSSBytes() int64 { return 0 }
func (erroringEncoder) Close() error    { return nil }

func TestEncodePropagatesWorkerError(t *testing.T) {
	pool, err := worker.New(func(int) (worker.Encoder, error) {
		return erroringEncoder{}, nil
	}, 0, time.Second)
	require.NoError(t, err)
	defer pool.Shutdown(0)

	f := New(pool, 0)
	_, encErr := f.Encode(context.Background(), "will fail")
	assert.ErrorIs(t, encErr, assert.AnError)
}

func TestEncodeWithMismatchedColbertDimDoesNotFail(t *testing.T) {
	// rowDim derives from denseDim/4 inside StaticEncoder; requesting an
	// expectation that does not match must log a warning, not an error.
	pool := newTestPool(t, 32, 8)
	f := New(pool, 999)

	state, err := f.Encode(context.Background(), "mismatched dim expectation")
	require.NoError(t, err)
	assert.NotEmpty(t, state.Colbert)
}

func TestEncodeZeroColbertDimSkipsMismatchCheck(t *testing.T) {
	pool := newTestPool(t, 32, 8)
	f := New(pool, 0)

	_, err := f.Encode(context.Background(), "no check requested")
	require.NoError(t, err)
}
