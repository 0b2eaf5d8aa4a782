// File: internal/results/providers/hints.go
package providers

import (
	"sync"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

// HintProvider explains a failure kind to the person reading a report.
type HintProvider interface {
	Hint(kind schemas.FailureKind) (string, bool)
}

// InMemoryHintProvider serves hints from a map. Register may add or replace
// entries at runtime.
type InMemoryHintProvider struct {
	mu    sync.RWMutex
	hints map[schemas.FailureKind]string
}

// NewInMemoryHintProvider returns a provider preloaded with a hint for every
// built-in failure kind.
func NewInMemoryHintProvider() *InMemoryHintProvider {
	return &InMemoryHintProvider{
		hints: map[schemas.FailureKind]string{
			schemas.FailureDuplicateRequestID:   "Two requests share a method and path; the grammar must declare each endpoint once.",
			schemas.FailureUnknownRequestID:     "A target or reference names a request that is not in the grammar.",
			schemas.FailureCyclicDependency:     "These requests consume each other's values; break the cycle by seeding one of them with a static value.",
			schemas.FailureUnresolvedDependency: "A producer never yielded the referenced value. Check the producer's extraction path.",
			schemas.FailureMissingCredential:    "No credential is configured for the request's auth tag.",
			schemas.FailureTokenRefreshFailed:   "The token provider failed; check the refresh command or static token.",
			schemas.FailureExtractionMiss:       "The producer's response did not contain the declared path, or was not a 2xx.",
			schemas.FailureTransportError:       "The target could not be reached or closed the connection early.",
			schemas.FailureRenderTimeout:        "Rendering waited too long on a credential refresh.",
			schemas.FailureCancelled:            "The run was interrupted or a sequence hit its timeout.",
			schemas.FailureSkipped:              "An earlier step in the sequence failed to produce a value this request needs.",
			schemas.FailureInternal:             "Unexpected error; see the log for details.",
		},
	}
}

// Hint implements HintProvider.
func (p *InMemoryHintProvider) Hint(kind schemas.FailureKind) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.hints[kind]
	return h, ok
}

// Register sets the hint for kind. An empty hint removes it.
func (p *InMemoryHintProvider) Register(kind schemas.FailureKind, hint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hint == "" {
		delete(p.hints, kind)
		return
	}
	p.hints[kind] = hint
}
