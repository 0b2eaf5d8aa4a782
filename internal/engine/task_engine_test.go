// File: internal/engine/task_engine_test.go
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/config"
	"github.com/xkilldash9x/restfuzz/internal/mocks"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// -- Mock Implementations --

// fakeRunner simulates the Executor.
type fakeRunner struct {
	runFunc func(ctx context.Context, seq Sequence) schemas.SequenceResult
	calls   atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, seq Sequence) schemas.SequenceResult {
	f.calls.Add(1)
	if f.runFunc != nil {
		return f.runFunc(ctx, seq)
	}
	return schemas.SequenceResult{SequenceID: seq.ID, Status: schemas.SequenceCompleted}
}

func engineConfig(cfg config.EngineConfig) *mocks.MockConfig {
	mockCfg := new(mocks.MockConfig)
	mockCfg.On("Engine").Return(cfg)
	return mockCfg
}

func sequences(n int) []Sequence {
	seqs := make([]Sequence, n)
	for i := range seqs {
		key := requests.NewKey("GET", fmt.Sprintf("/item/%d", i))
		seqs[i] = NewSequence(key, []requests.Key{key}, 0)
	}
	return seqs
}

// -- Test Suite --

func TestNew_Validation(t *testing.T) {
	cfg := engineConfig(config.EngineConfig{})
	runner := &fakeRunner{}

	_, err := New(nil, zap.NewNop(), runner)
	assert.EqualError(t, err, "config cannot be nil")
	_, err = New(cfg, nil, runner)
	assert.EqualError(t, err, "logger cannot be nil")
	_, err = New(cfg, zap.NewNop(), nil)
	assert.EqualError(t, err, "runner cannot be nil")
}

// TestEngine_StartStop verifies the lifecycle: start, drain the channel, stop.
func TestEngine_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	mockCfg := engineConfig(config.EngineConfig{WorkerConcurrency: 2})
	runner := &fakeRunner{}
	engine, err := New(mockCfg, zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	// -- Execution --
	seqChan := make(chan Sequence, 10)
	engine.Start(context.Background(), seqChan)
	engine.Start(context.Background(), seqChan) // second call is ignored
	for _, seq := range sequences(3) {
		seqChan <- seq
	}
	close(seqChan)
	engine.Stop()

	// -- Assertions --
	assert.EqualValues(t, 3, runner.calls.Load())
	mockCfg.AssertCalled(t, "Engine")
}

func TestEngine_Run_ResultsInInputOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	mockCfg := engineConfig(config.EngineConfig{WorkerConcurrency: 3, QueueSize: 2})
	var started atomic.Int32
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, seq Sequence) schemas.SequenceResult {
			// Earlier sequences take longer so completion order differs from input order.
			time.Sleep(time.Duration(10-started.Add(1)) * time.Millisecond)
			return schemas.SequenceResult{SequenceID: seq.ID, Requests: seq.Strings(), Status: schemas.SequenceCompleted}
		},
	}
	engine, err := New(mockCfg, zaptest.NewLogger(t), runner)
	require.NoError(t, err)
	seqs := sequences(8)

	// -- Execution --
	results := engine.Run(context.Background(), seqs)

	// -- Assertions --
	require.Len(t, results, len(seqs))
	for i, res := range results {
		assert.Equal(t, seqs[i].ID, res.SequenceID)
		assert.Equal(t, schemas.SequenceCompleted, res.Status)
	}
}

func TestEngine_Run_BoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	const workers = 2
	mockCfg := engineConfig(config.EngineConfig{WorkerConcurrency: workers})
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, seq Sequence) schemas.SequenceResult {
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return schemas.SequenceResult{SequenceID: seq.ID, Status: schemas.SequenceCompleted}
		},
	}
	engine, err := New(mockCfg, zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	// -- Execution --
	engine.Run(context.Background(), sequences(6))

	// -- Assertions --
	assert.LessOrEqual(t, maxSeen, workers)
	assert.EqualValues(t, 6, runner.calls.Load())
}

func TestEngine_Run_SequenceTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	mockCfg := engineConfig(config.EngineConfig{WorkerConcurrency: 1, SequenceTimeout: 50 * time.Millisecond})
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, seq Sequence) schemas.SequenceResult {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
			return schemas.SequenceResult{SequenceID: seq.ID, Status: schemas.SequenceCancelled}
		},
	}
	engine, err := New(mockCfg, zaptest.NewLogger(t), runner)
	require.NoError(t, err)

	// -- Execution --
	start := time.Now()
	results := engine.Run(context.Background(), sequences(1))

	// -- Assertions --
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, schemas.SequenceCancelled, results[0].Status)
}

// TestEngine_Run_ContextCancellation ensures every sequence still yields a
// record when the run is cancelled.
func TestEngine_Run_ContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	// -- Setup --
	mockCfg := engineConfig(config.EngineConfig{WorkerConcurrency: 2})
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, seq Sequence) schemas.SequenceResult {
			return schemas.SequenceResult{SequenceID: seq.ID, Status: schemas.SequenceCancelled}
		},
	}
	reporter := new(mocks.MockReporter)
	reporter.On("ReportSequence", mock.Anything, mock.Anything).Return(nil)
	engine, err := New(mockCfg, zaptest.NewLogger(t), runner, WithReporter(reporter))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seqs := sequences(5)

	// -- Execution --
	results := engine.Run(ctx, seqs)

	// -- Assertions --
	require.Len(t, results, len(seqs))
	for i, res := range results {
		assert.Equal(t, seqs[i].ID, res.SequenceID)
		assert.Equal(t, schemas.SequenceCancelled, res.Status)
	}
	unrun := len(seqs) - int(runner.calls.Load())
	assert.Len(t, reporter.Sequences, unrun, "only sequences that never reached a worker are reported by the engine")
	for _, res := range reporter.Sequences {
		require.Len(t, res.Failures, 1)
		assert.Equal(t, schemas.FailureCancelled, res.Failures[0].Kind)
		assert.Contains(t, res.Failures[0].Message, "sequence was not run")
	}
}
