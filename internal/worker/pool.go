// Package worker implements a fixed-size encoder worker pool: bounded
// parallel workers with caching upstream, routing, timeouts, and
// memory-triggered restart. Each worker owns its encoder and runs as an
// isolated goroutine with its own inbound channel; replies land on a single
// shared results channel that the pool demultiplexes by request id.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	coreerrors "github.com/osgrep/osgrep-core/internal/errors"
)

// DefaultTimeout is applied to a request when its context carries no
// deadline.
const DefaultTimeout = 90 * time.Second

// DefaultMaxWorkerRSS is the resident-memory threshold that triggers a
// worker restart.
const DefaultMaxWorkerRSS = 6 * 1024 * 1024 * 1024

// Size returns N = clamp(logical_cpus - 1, 1, 4), the pool's worker count.
func Size() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

type pendingEntry struct {
	ch   chan Reply
	slot int
}

// slotState is one worker: its own inbound queue, its currently loaded
// Encoder, and a single-flight restart guard.
type slotState struct {
	idx     int
	factory EncoderFactory

	mu      sync.RWMutex
	encoder Encoder
	inbox   chan Request
	cancel  context.CancelFunc

	flight      singleflight.Group
	restarting  atomic.Bool
	restartDone atomic.Pointer[chan struct{}]
}

// Pool is a fixed-size worker pool of encoder slots.
type Pool struct {
	slots   []*slotState
	results chan Reply

	pendingMu sync.Mutex
	pending   map[string]pendingEntry

	nextSlot  atomic.Uint64
	idCounter atomic.Uint64

	maxRSS  int64
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Pool of Size() workers, each built by factory. maxRSS <= 0
// uses DefaultMaxWorkerRSS; timeout <= 0 uses DefaultTimeout.
func New(factory EncoderFactory, maxRSS int64, timeout time.Duration) (*Pool, error) {
	if maxRSS <= 0 {
		maxRSS = DefaultMaxWorkerRSS
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	n := Size()
	p := &Pool{
		slots:   make([]*slotState, n),
		results: make(chan Reply, n*8),
		pending: make(map[string]pendingEntry),
		maxRSS:  maxRSS,
		timeout: timeout,
		closed:  make(chan struct{}),
	}

	for i := 0; i < n; i++ {
		enc, err := factory(i)
		if err != nil {
			return nil, fmt.Errorf("worker slot %d: %w", i, err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		s := &slotState{
			idx:     i,
			factory: factory,
			encoder: enc,
			inbox:   make(chan Request, 16),
			cancel:  cancel,
		}
		p.slots[i] = s
		go p.runSlot(s, ctx)
	}

	go p.demux()

	return p, nil
}

// demux reads every worker reply and routes it to the caller awaiting that
// request id; a reply whose id has no pending entry (because it timed out
// already) is silently discarded.
func (p *Pool) demux() {
	for {
		select {
		case reply := <-p.results:
			p.pendingMu.Lock()
			entry, ok := p.pending[reply.ID]
			if ok {
				delete(p.pending, reply.ID)
			}
			p.pendingMu.Unlock()

			if ok {
				entry.ch <- reply
			}

			if reply.RSSBytes > 0 && reply.RSSBytes > p.maxRSS && reply.sourceSlot != nil {
				slot := reply.sourceSlot
				slog.Warn("worker memory pressure, scheduling restart",
					slog.Int("slot", slot.idx), slog.Int64("rss_bytes", reply.RSSBytes))
				go p.RestartSlot(slot.idx, coreerrors.New(coreerrors.ErrCodeWorkerMemoryPressure, "worker rss exceeded threshold", nil))
			}
		case <-p.closed:
			return
		}
	}
}

// Dispatch routes req to a worker round-robin, awaiting an in-flight restart
// on the chosen slot before sending, then waits for a reply or the
// request's deadline.
func (p *Pool) Dispatch(ctx context.Context, req Request) (Reply, error) {
	if req.ID == "" {
		req.ID = fmt.Sprintf("req-%d", p.idCounter.Add(1))
	}

	deadlineCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		deadlineCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	req.Deadline = deadlineCtx

	n := len(p.slots)
	idx := int(p.nextSlot.Add(1)-1) % n
	slot := p.slots[idx]

	if slot.restarting.Load() {
		if chPtr := slot.restartDone.Load(); chPtr != nil {
			select {
			case <-*chPtr:
			case <-deadlineCtx.Done():
				return Reply{}, coreerrors.New(coreerrors.ErrCodeWorkerTimeout, "timed out awaiting worker restart", deadlineCtx.Err())
			}
		}
	}

	replyCh := make(chan Reply, 1)
	p.pendingMu.Lock()
	p.pending[req.ID] = pendingEntry{ch: replyCh, slot: idx}
	p.pendingMu.Unlock()

	slot.mu.RLock()
	inbox := slot.inbox
	slot.mu.RUnlock()

	select {
	case inbox <- req:
	case <-deadlineCtx.Done():
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		return Reply{}, coreerrors.New(coreerrors.ErrCodeWorkerTimeout, "worker queue full before deadline", deadlineCtx.Err())
	}

	select {
	case reply := <-replyCh:
		return reply, reply.Err
	case <-deadlineCtx.Done():
		p.pendingMu.Lock()
		delete(p.pending, req.ID)
		p.pendingMu.Unlock()
		return Reply{}, coreerrors.New(coreerrors.ErrCodeWorkerTimeout, "worker request timed out", deadlineCtx.Err())
	}
}

// rejectPending fails every pending request assigned to slot idx with a
// WorkerRestarting error, the first step of the restart sequence.
func (p *Pool) rejectPending(idx int) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, entry := range p.pending {
		if entry.slot == idx {
			entry.ch <- Reply{ID: id, Err: coreerrors.WorkerRestarting(idx)}
			delete(p.pending, id)
		}
	}
}

// RestartSlot terminates and reconstructs the worker at idx. Concurrent
// callers join the same in-flight restart via singleflight and all observe
// its completion.
func (p *Pool) RestartSlot(idx int, cause error) error {
	slot := p.slots[idx]

	_, err, _ := slot.flight.Do("restart", func() (interface{}, error) {
		done := make(chan struct{})
		slot.restartDone.Store(&done)
		slot.restarting.Store(true)
		defer func() {
			slot.restarting.Store(false)
			close(done)
		}()

		slog.Warn("restarting worker slot", slog.Int("slot", idx), slog.Any("cause", cause))

		p.rejectPending(idx)

		slot.mu.Lock()
		slot.cancel()
		oldEncoder := slot.encoder
		slot.mu.Unlock()
		if oldEncoder != nil {
			_ = oldEncoder.Close()
		}

		enc, ferr := slot.factory(idx)
		if ferr != nil {
			return nil, ferr
		}

		ctx, cancel := context.WithCancel(context.Background())
		slot.mu.Lock()
		slot.encoder = enc
		slot.inbox = make(chan Request, 16)
		slot.cancel = cancel
		slot.mu.Unlock()

		go p.runSlot(slot, ctx)
		return nil, nil
	})

	return err
}

// Shutdown sends no further work to any slot, cancels every worker's
// context, and returns once all workers have had a grace period to exit.
// Idempotent.
func (p *Pool) Shutdown(grace time.Duration) {
	p.closeOnce.Do(func() {
		close(p.closed)
		encoders := make([]Encoder, 0, len(p.slots))
		for _, s := range p.slots {
			s.mu.RLock()
			cancel := s.cancel
			enc := s.encoder
			s.mu.RUnlock()
			cancel()
			encoders = append(encoders, enc)
		}
		time.Sleep(grace) // grace period for worker loops to observe cancellation
		for _, enc := range encoders {
			if enc != nil {
				_ = enc.Close()
			}
		}
	})
}

// runSlot is the worker's message loop: receive a Request, execute it
// against the slot's Encoder, and publish the Reply on the shared results
// channel. A panic during execution is treated as a worker crash and
// triggers the same restart path as an explicit error/exit signal.
func (p *Pool) runSlot(s *slotState, ctx context.Context) {
	for {
		s.mu.RLock()
		inbox := s.inbox
		s.mu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case req, ok := <-inbox:
			if !ok {
				return
			}
			p.execute(s, ctx, req)
		}
	}
}

func (p *Pool) execute(s *slotState, ctx context.Context, req Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panic, restarting slot", slog.Int("slot", s.idx), slog.Any("panic", r))
			reply := Reply{ID: req.ID, Err: coreerrors.WorkerCrash(s.idx, fmt.Errorf("panic: %v", r)), sourceSlot: s}
			select {
			case p.results <- reply:
			case <-p.closed:
			}
			go p.RestartSlot(s.idx, fmt.Errorf("panic: %v", r))
		}
	}()

	s.mu.RLock()
	enc := s.encoder
	s.mu.RUnlock()

	var reply Reply
	reply.ID = req.ID
	reply.sourceSlot = s

	switch req.Kind {
	case KindEmbedSingle:
		vec, err := enc.EmbedSingle(req.Deadline, req.Text)
		reply.Vector, reply.Err = vec, err
	case KindEmbedBatch:
		vecs, err := enc.EmbedBatch(req.Deadline, req.Texts)
		reply.Vectors, reply.Err = vecs, err
	case KindRerank:
		scores, err := enc.Rerank(req.Deadline, req.QueryMatrix, req.DocMatrices)
		reply.Scores, reply.Err = scores, err
	case KindEncodeQuery:
		dense, colbert, scale, pooled, err := enc.EncodeQuery(req.Deadline, req.Text)
		reply.Vector, reply.ColbertRaw, reply.ColbertScale, reply.Pooled, reply.Err = dense, colbert, scale, pooled, err
	}

	reply.RSSBytes = enc.RSSBytes()

	select {
	case p.results <- reply:
	case <-p.closed:
	}

	if reply.Err != nil && coreerrors.Code(reply.Err) == coreerrors.ErrCodeWorkerCrash {
		go p.RestartSlot(s.idx, reply.Err)
	}
}
