package worker

import "context"

// Kind tags the payload carried by a Request.
type Kind int

const (
	KindEmbedSingle Kind = iota
	KindEmbedBatch
	KindRerank
	// KindEncodeQuery asks a worker for the full query encoding (dense +
	// late-interaction matrix + pooled projection) in one round trip, since
	// a query is encoded by the same forward pass that produces all three.
	KindEncodeQuery
)

// Request is one tagged message dispatched to a worker slot. Exactly one of
// Text, Texts, or (QueryMatrix, DocMatrices) is populated, matching Kind.
type Request struct {
	ID   string
	Kind Kind

	Text  string
	Texts []string

	QueryMatrix [][]float32
	DocMatrices [][][]float32

	Deadline context.Context
}

// Reply carries the same ID as its Request plus the result fields for its
// Kind (Vector, Vectors or Scores; KindEncodeQuery fills Vector, ColbertRaw,
// ColbertScale and Pooled), or Err. RSSBytes is populated after every
// executed request, independent of success/failure.
type Reply struct {
	ID string

	Vector  []float32
	Vectors [][]float32
	Scores  []float64

	ColbertRaw   [][]int8
	ColbertScale float32
	Pooled       []float32

	Err error

	RSSBytes int64

	// sourceSlot identifies which worker produced this reply, so the pool's
	// demux loop can target a memory-pressure restart without a second
	// lookup table.
	sourceSlot *slotState
}

// Encoder is the model-holding unit a worker owns exclusively. Model weight
// loading/downloading lives outside this module; Encoder is the seam the
// core dispatches through.
type Encoder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Rerank(ctx context.Context, queryMatrix [][]float32, docMatrices [][][]float32) ([]float64, error)
	// EncodeQuery returns the dense vector, quantized late-interaction
	// matrix (with dequantization scale), and the unit-norm pooled
	// projection for a query string.
	EncodeQuery(ctx context.Context, text string) (dense []float32, colbert [][]int8, scale float32, pooled []float32, err error)
	RSSBytes() int64
	Close() error
}

// EncoderFactory constructs a fresh Encoder for the given slot index. Called
// once at pool startup and again every time that slot restarts.
type EncoderFactory func(slot int) (Encoder, error)
