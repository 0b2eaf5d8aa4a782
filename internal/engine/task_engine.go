// File: internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/config"
)

// Engine distributes sequences to a pool of workers. Sequences are
// independent; each worker runs one at a time through the Runner.
type Engine struct {
	cfg      config.Interface
	logger   *zap.Logger
	runner   Runner
	reporter Reporter

	wg sync.WaitGroup

	resultsMu sync.Mutex
	results   map[string]schemas.SequenceResult

	// stateLock protects isRunning.
	stateLock sync.Mutex
	isRunning bool
}

type EngineOption func(*Engine)

// WithReporter receives the results of sequences that were never dispatched.
// Dispatched sequences report through their Runner.
func WithReporter(r Reporter) EngineOption { return func(e *Engine) { e.reporter = r } }

// New creates an Engine.
func New(cfg config.Interface, logger *zap.Logger, runner Runner, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if runner == nil {
		return nil, errors.New("runner cannot be nil")
	}
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "sequence_engine")),
		runner:  runner,
		results: make(map[string]schemas.SequenceResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start launches the worker pool consuming seqChan. Workers exit when the
// channel is closed and drained or when ctx is cancelled.
func (e *Engine) Start(ctx context.Context, seqChan <-chan Sequence) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		e.logger.Warn("Engine.Start called, but engine is already running.")
		return
	}
	e.isRunning = true
	e.stateLock.Unlock()

	concurrency := e.cfg.Engine().WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	e.logger.Info("Starting sequence worker pool", zap.Int("concurrency", concurrency))

	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(ctx, i+1, seqChan)
	}
}

// Stop waits for every worker to exit.
func (e *Engine) Stop() {
	e.logger.Info("Stopping engine... waiting for workers to finish.")
	e.wg.Wait()

	e.stateLock.Lock()
	e.isRunning = false
	e.stateLock.Unlock()

	e.logger.Info("Engine stopped gracefully.")
}

func (e *Engine) runWorker(ctx context.Context, workerID int, seqChan <-chan Sequence) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, worker shutting down immediately.", zap.Error(ctx.Err()))
			return
		case seq, ok := <-seqChan:
			if !ok {
				logger.Debug("Sequence queue closed and drained, worker shutting down.")
				return
			}
			e.process(ctx, seq, logger)
		}
	}
}

func (e *Engine) process(ctx context.Context, seq Sequence, logger *zap.Logger) {
	logger.Debug("Processing sequence",
		zap.String("sequence_id", seq.ID),
		zap.String("target", string(seq.Target)),
		zap.Int("steps", len(seq.Keys)),
	)

	seqCtx := ctx
	if timeout := e.cfg.Engine().SequenceTimeout; timeout > 0 {
		var cancel context.CancelFunc
		seqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := e.runner.Run(seqCtx, seq)
	if result.Status != schemas.SequenceCompleted {
		logger.Warn("Sequence did not complete",
			zap.String("sequence_id", seq.ID),
			zap.String("status", string(result.Status)),
			zap.Int("failures", len(result.Failures)),
		)
	}

	e.resultsMu.Lock()
	e.results[seq.ID] = result
	e.resultsMu.Unlock()
}

// Run executes seqs on the pool and returns one result per sequence, in input
// order. Sequences never dispatched because ctx ended get a cancelled result.
func (e *Engine) Run(ctx context.Context, seqs []Sequence) []schemas.SequenceResult {
	queueSize := e.cfg.Engine().QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	seqChan := make(chan Sequence, queueSize)

	e.Start(ctx, seqChan)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(seqChan)
		for _, seq := range seqs {
			select {
			case seqChan <- seq:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn("Stopped dispatching sequences", zap.Error(err))
	}
	e.Stop()

	e.resultsMu.Lock()
	out := make([]schemas.SequenceResult, 0, len(seqs))
	var unrun []schemas.SequenceResult
	for _, seq := range seqs {
		res, ok := e.results[seq.ID]
		if !ok {
			res = notRun(seq, ctx.Err())
			unrun = append(unrun, res)
		}
		delete(e.results, seq.ID)
		out = append(out, res)
	}
	e.resultsMu.Unlock()

	if len(unrun) > 0 {
		e.logger.Warn("Sequences were not run", zap.Int("count", len(unrun)))
		e.reportUnrun(unrun)
	}
	return out
}

func (e *Engine) reportUnrun(results []schemas.SequenceResult) {
	if e.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultReportTimeout)
	defer cancel()
	for _, res := range results {
		if err := e.reporter.ReportSequence(ctx, res); err != nil {
			e.logger.Error("Failed to report sequence result", zap.String("sequence_id", res.SequenceID), zap.Error(err))
		}
	}
}

func notRun(seq Sequence, cause error) schemas.SequenceResult {
	msg := "sequence was not run"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	now := time.Now().UTC()
	var first string
	if len(seq.Keys) > 0 {
		first = string(seq.Keys[0])
	}
	return schemas.SequenceResult{
		SequenceID: seq.ID,
		Requests:   seq.Strings(),
		Status:     schemas.SequenceCancelled,
		Failures: []schemas.Failure{{
			Kind:    schemas.FailureCancelled,
			Request: first,
			Message: msg,
		}},
		StartedAt:  now,
		FinishedAt: now,
	}
}
