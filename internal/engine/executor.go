// File: internal/engine/executor.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/dependencies"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

const (
	DefaultExchangeTimeout = 30 * time.Second
	defaultReportTimeout   = 30 * time.Second
)

// Executor runs sequences. One Executor is shared by every worker; all
// per-sequence state lives in the render.Context Run creates.
type Executor struct {
	collection  *requests.Collection
	resolver    *dependencies.Resolver
	renderer    *render.Renderer
	transport   Transport
	reporter    Reporter
	strategy    Strategy
	invalidator Invalidator

	exchangeTimeout time.Duration
	reportTimeout   time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

type ExecutorOption func(*Executor)

func WithStrategy(s Strategy) ExecutorOption { return func(e *Executor) { e.strategy = s } }

// WithInvalidator routes 401 responses to the credential store.
func WithInvalidator(i Invalidator) ExecutorOption { return func(e *Executor) { e.invalidator = i } }

// WithExchangeTimeout bounds one network exchange, including the part that
// outlives a cancelled sequence.
func WithExchangeTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.exchangeTimeout = d
		}
	}
}

func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor validates its collaborators.
func NewExecutor(
	collection *requests.Collection,
	resolver *dependencies.Resolver,
	renderer *render.Renderer,
	transport Transport,
	reporter Reporter,
	opts ...ExecutorOption,
) (*Executor, error) {
	if collection == nil {
		return nil, errors.New("request collection cannot be nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver cannot be nil")
	}
	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if reporter == nil {
		return nil, errors.New("reporter cannot be nil")
	}
	e := &Executor{
		collection:      collection,
		resolver:        resolver,
		renderer:        renderer,
		transport:       transport,
		reporter:        reporter,
		strategy:        Defaults{},
		exchangeTimeout: DefaultExchangeTimeout,
		reportTimeout:   defaultReportTimeout,
		logger:          zap.NewNop(),
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("executor")
	return e, nil
}

// Run executes seq step by step. Cancellation is honored between steps; an
// exchange already on the wire finishes and its values are recorded. Render
// failures abort the sequence; transport errors and extraction misses are
// recorded and only skip the requests that needed the missing values.
func (e *Executor) Run(ctx context.Context, seq Sequence) schemas.SequenceResult {
	logger := e.logger.With(
		zap.String("sequence_id", seq.ID),
		zap.String("target", string(seq.Target)),
		zap.Int("iteration", seq.Iteration),
	)
	result := schemas.SequenceResult{
		SequenceID: seq.ID,
		Requests:   seq.Strings(),
		Status:     schemas.SequenceCompleted,
		StartedAt:  e.now(),
	}
	rc := render.NewContext()
	overrides := e.strategy.Overrides(seq)

	for step, key := range seq.Keys {
		if err := ctx.Err(); err != nil {
			f := schemas.Failure{
				Kind:    schemas.FailureCancelled,
				Request: string(key),
				Message: fmt.Sprintf("sequence cancelled before %s: %v", key, err),
			}
			result.Failures = append(result.Failures, f)
			result.Status = schemas.SequenceCancelled
			logger.Info("Sequence cancelled", zap.Int("completed_steps", step))
			break
		}

		rr, hard := e.step(ctx, seq, step, key, rc, overrides, logger)
		e.reportRequest(rr, logger)
		result.Steps = append(result.Steps, rr)
		if hard != nil {
			result.Failures = append(result.Failures, *hard)
			if hard.Kind == schemas.FailureCancelled {
				result.Status = schemas.SequenceCancelled
			} else {
				result.Status = schemas.SequenceAborted
			}
			logger.Warn("Sequence stopped",
				zap.String("request", string(key)),
				zap.String("kind", string(hard.Kind)),
				zap.String("reason", hard.Message),
			)
			break
		}
	}

	result.FinishedAt = e.now()
	e.reportSequence(result, logger)
	return result
}

// step renders and sends one request. It returns a non-nil failure only when
// the sequence must stop.
func (e *Executor) step(
	ctx context.Context,
	seq Sequence,
	step int,
	key requests.Key,
	rc *render.Context,
	overrides render.Overrides,
	logger *zap.Logger,
) (schemas.RequestResult, *schemas.Failure) {
	rr := schemas.RequestResult{
		SequenceID: seq.ID,
		Step:       step,
		Request:    string(key),
		Timestamp:  e.now(),
	}

	if reason, skipped := rc.Skipped(key); skipped {
		rr.Failures = append(rr.Failures, schemas.Failure{
			Kind:    schemas.FailureSkipped,
			Request: string(key),
			Message: reason,
		})
		logger.Debug("Skipping request", zap.String("request", string(key)), zap.String("reason", reason))
		return rr, nil
	}

	req, err := e.collection.Get(key)
	if err != nil {
		f := failureOf(key, err)
		rr.Failures = append(rr.Failures, f)
		return rr, &f
	}

	raw, err := e.renderer.Render(ctx, req, rc, overrides)
	if err != nil {
		f := failureOf(key, err)
		// A render interrupted by the caller is a cancellation whatever it was waiting on.
		if ctx.Err() != nil && f.Kind != schemas.FailureRenderTimeout {
			f.Kind = schemas.FailureCancelled
		}
		rr.Failures = append(rr.Failures, f)
		return rr, &f
	}
	rr.Rendered = raw

	// The exchange outlives cancellation so its response is still recorded.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.exchangeTimeout)
	defer cancel()
	resp, err := e.transport.Send(exCtx, raw)
	if err != nil {
		rr.Failures = append(rr.Failures, failureOf(key, err))
		skipped := e.resolver.Miss(rc, key, fmt.Sprintf("%s failed: %v", key, err))
		logger.Warn("Exchange failed",
			zap.String("request", string(key)),
			zap.Int("skipped", len(skipped)),
			zap.Error(err),
		)
		return rr, nil
	}
	rr.Response = resp

	if resp.StatusCode == http.StatusUnauthorized && e.invalidator != nil {
		for _, tag := range req.Tags() {
			e.invalidator.Invalidate(tag)
		}
	}

	if err := e.resolver.Record(rc, key, resp); err != nil {
		rr.Failures = append(rr.Failures, failureOf(key, err))
	}
	if values := rc.ValuesOf(key); len(values) > 0 {
		rr.ExtractedValues = values
	}
	return rr, nil
}

func (e *Executor) reportRequest(rr schemas.RequestResult, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), e.reportTimeout)
	defer cancel()
	if err := e.reporter.ReportRequest(ctx, rr); err != nil {
		logger.Error("Failed to report request result", zap.String("request", rr.Request), zap.Error(err))
	}
}

func (e *Executor) reportSequence(res schemas.SequenceResult, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), e.reportTimeout)
	defer cancel()
	if err := e.reporter.ReportSequence(ctx, res); err != nil {
		logger.Error("Failed to report sequence result", zap.Error(err))
	}
}
