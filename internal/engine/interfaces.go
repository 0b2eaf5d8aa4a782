// File: internal/engine/interfaces.go
package engine

import (
	"context"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

// -- Interfaces for Dependency Inversion --

// Transport performs one request/response exchange with the service under test.
type Transport interface {
	Send(ctx context.Context, raw []byte) (*schemas.Response, error)
}

// Reporter receives structured results as sequences execute. Implementations
// must be safe for concurrent use; workers report in parallel.
type Reporter interface {
	ReportRequest(ctx context.Context, result schemas.RequestResult) error
	ReportSequence(ctx context.Context, result schemas.SequenceResult) error
}

// Invalidator is told when the server rejected a credential.
type Invalidator interface {
	Invalidate(tag string)
}

// Runner executes a single sequence to completion.
type Runner interface {
	Run(ctx context.Context, seq Sequence) schemas.SequenceResult
}
