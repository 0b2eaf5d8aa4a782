// File: internal/results/providers/hints_test.go
package providers

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

func TestInMemoryHintProvider_BuiltinKinds(t *testing.T) {
	p := NewInMemoryHintProvider()
	for _, kind := range []schemas.FailureKind{
		schemas.FailureDuplicateRequestID, schemas.FailureUnknownRequestID,
		schemas.FailureCyclicDependency, schemas.FailureUnresolvedDependency,
		schemas.FailureMissingCredential, schemas.FailureTokenRefreshFailed,
		schemas.FailureExtractionMiss, schemas.FailureTransportError,
		schemas.FailureRenderTimeout, schemas.FailureCancelled,
		schemas.FailureSkipped, schemas.FailureInternal,
	} {
		hint, ok := p.Hint(kind)
		assert.True(t, ok, "kind %s", kind)
		assert.NotEmpty(t, hint, "kind %s", kind)
	}

	_, ok := p.Hint("made_up")
	assert.False(t, ok)
}

func TestInMemoryHintProvider_Register(t *testing.T) {
	p := NewInMemoryHintProvider()

	p.Register(schemas.FailureTransportError, "Is the target running?")
	hint, _ := p.Hint(schemas.FailureTransportError)
	assert.Equal(t, "Is the target running?", hint)

	p.Register(schemas.FailureTransportError, "")
	_, ok := p.Hint(schemas.FailureTransportError)
	assert.False(t, ok)
}

func TestInMemoryHintProvider_Concurrency(t *testing.T) {
	p := NewInMemoryHintProvider()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Register("custom", "hint")
		}()
		go func() {
			defer wg.Done()
			p.Hint(schemas.FailureSkipped)
		}()
	}
	wg.Wait()
	hint, ok := p.Hint("custom")
	assert.True(t, ok)
	assert.Equal(t, "hint", hint)
}
