// File: internal/engine/classify.go
package engine

import (
	"context"
	"errors"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/auth"
	"github.com/xkilldash9x/restfuzz/internal/dependencies"
	"github.com/xkilldash9x/restfuzz/internal/network"
	"github.com/xkilldash9x/restfuzz/internal/primitives"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Classify maps an error to the failure taxonomy. Order matters: a render
// timeout wraps whatever the render was doing when it expired, and a caller
// cancellation wins over the operation it interrupted.
func Classify(err error) schemas.FailureKind {
	var (
		renderTimeout *render.RenderTimeoutError
		cycle         *dependencies.CyclicDependencyError
		unresolved    *primitives.UnresolvedDependencyError
		refresh       *auth.TokenRefreshError
		miss          *dependencies.ExtractionMissError
		transport     *network.TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &renderTimeout):
		return schemas.FailureRenderTimeout
	case errors.Is(err, context.Canceled):
		return schemas.FailureCancelled
	case errors.Is(err, requests.ErrDuplicateRequestID):
		return schemas.FailureDuplicateRequestID
	case errors.Is(err, requests.ErrUnknownRequestID):
		return schemas.FailureUnknownRequestID
	case errors.As(err, &cycle):
		return schemas.FailureCyclicDependency
	case errors.As(err, &unresolved):
		return schemas.FailureUnresolvedDependency
	case errors.Is(err, auth.ErrMissingCredential):
		return schemas.FailureMissingCredential
	case errors.As(err, &refresh):
		return schemas.FailureTokenRefreshFailed
	case errors.As(err, &miss):
		return schemas.FailureExtractionMiss
	case errors.As(err, &transport):
		return schemas.FailureTransportError
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.FailureCancelled
	}
	return schemas.FailureInternal
}

// failureOf builds the record for err against request.
func failureOf(request requests.Key, err error) schemas.Failure {
	f := schemas.Failure{Kind: Classify(err), Request: string(request), Message: err.Error()}
	var cycle *dependencies.CyclicDependencyError
	if errors.As(err, &cycle) {
		for _, m := range cycle.Members {
			f.Members = append(f.Members, string(m))
		}
	}
	return f
}
