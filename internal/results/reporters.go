// File: internal/results/reporters.go
package results

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

// Reporter is the sink the engine writes results to.
type Reporter interface {
	ReportRequest(ctx context.Context, rr schemas.RequestResult) error
	ReportSequence(ctx context.Context, res schemas.SequenceResult) error
}

// Collector keeps every result in memory. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	requests  []schemas.RequestResult
	sequences []schemas.SequenceResult
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) ReportRequest(_ context.Context, rr schemas.RequestResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, rr)
	return nil
}

func (c *Collector) ReportSequence(_ context.Context, res schemas.SequenceResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequences = append(c.sequences, res)
	return nil
}

// Requests returns a copy of the request results in arrival order.
func (c *Collector) Requests() []schemas.RequestResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schemas.RequestResult(nil), c.requests...)
}

// Sequences returns a copy of the sequence results in arrival order.
func (c *Collector) Sequences() []schemas.SequenceResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schemas.SequenceResult(nil), c.sequences...)
}

// LogReporter writes each result as a structured log entry.
type LogReporter struct {
	logger *zap.Logger
}

func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger.Named("results")}
}

func (l *LogReporter) ReportRequest(_ context.Context, rr schemas.RequestResult) error {
	fields := []zap.Field{
		zap.String("sequence_id", rr.SequenceID),
		zap.Int("step", rr.Step),
		zap.String("request", rr.Request),
		zap.Int("rendered_bytes", len(rr.Rendered)),
	}
	if rr.Response != nil {
		fields = append(fields,
			zap.Int("status_code", rr.Response.StatusCode),
			zap.Duration("duration", rr.Response.Duration),
		)
	}
	if len(rr.ExtractedValues) > 0 {
		fields = append(fields, zap.Any("extracted", rr.ExtractedValues))
	}
	if len(rr.Failures) > 0 {
		fields = append(fields, zap.Any("failures", rr.Failures))
		l.logger.Warn("Request step failed", fields...)
		return nil
	}
	l.logger.Info("Request step", fields...)
	return nil
}

func (l *LogReporter) ReportSequence(_ context.Context, res schemas.SequenceResult) error {
	fields := []zap.Field{
		zap.String("sequence_id", res.SequenceID),
		zap.Strings("requests", res.Requests),
		zap.String("status", string(res.Status)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	if len(res.Failures) > 0 {
		fields = append(fields, zap.Any("failures", res.Failures))
	}
	if res.Status == schemas.SequenceCompleted {
		l.logger.Info("Sequence finished", fields...)
	} else {
		l.logger.Warn("Sequence finished", fields...)
	}
	return nil
}

// Multi fans results out to several reporters. Every reporter is called even
// when an earlier one fails; the errors are combined.
type Multi []Reporter

func (m Multi) ReportRequest(ctx context.Context, rr schemas.RequestResult) error {
	var err error
	for _, r := range m {
		if r != nil {
			err = multierr.Append(err, r.ReportRequest(ctx, rr))
		}
	}
	return err
}

func (m Multi) ReportSequence(ctx context.Context, res schemas.SequenceResult) error {
	var err error
	for _, r := range m {
		if r != nil {
			err = multierr.Append(err, r.ReportSequence(ctx, res))
		}
	}
	return err
}
