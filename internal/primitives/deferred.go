// File: internal/primitives/deferred.go
package primitives

import (
	"context"
	"fmt"
)

// Source says where a deferred value comes from.
type Source int

const (
	// SourceResponse values were extracted from an earlier response in the sequence.
	SourceResponse Source = iota + 1
	// SourceToken values come from the shared token refresher.
	SourceToken
)

func (s Source) String() string {
	switch s {
	case SourceResponse:
		return "response"
	case SourceToken:
		return "token"
	default:
		return "unknown"
	}
}

// UnresolvedDependencyError means a dynamic reference was rendered before its
// producer ran. Correct ordering makes this impossible, so it always indicates a defect.
type UnresolvedDependencyError struct {
	Source string
	Path   string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("unresolved dependency: no value for %q from %s", e.Path, e.Source)
}

// Deferred is a placeholder resolved from shared state at render time.
// Dynamic references and refreshable tokens are the same variant with different sources.
type Deferred struct {
	source Source
	// producer and path are set for SourceResponse.
	producer string
	path     string
	// tag is set for SourceToken.
	tag string
}

// DynamicReference is resolved from the value producer's response yielded at path.
func DynamicReference(producer, path string) Primitive {
	return Deferred{source: SourceResponse, producer: producer, path: path}
}

// RefreshableAuthToken is resolved from the token refresher's current value for tag.
func RefreshableAuthToken(tag string) Primitive {
	return Deferred{source: SourceToken, tag: tag}
}

func (d Deferred) Kind() Kind { return KindDeferred }

func (d Deferred) Source() Source { return d.source }

func (d Deferred) Producer() string { return d.producer }

func (d Deferred) Path() string { return d.path }

func (d Deferred) Tag() string { return d.tag }

func (d Deferred) Render(ctx context.Context, _ *string, env Env) ([]byte, error) {
	switch d.source {
	case SourceResponse:
		if env != nil {
			if v, ok := env.Value(d.producer, d.path); ok {
				return []byte(v), nil
			}
		}
		return nil, &UnresolvedDependencyError{Source: d.producer, Path: d.path}
	case SourceToken:
		if env == nil {
			return nil, fmt.Errorf("no credential source for tag %q", d.tag)
		}
		header, value, err := env.Credential(ctx, d.tag)
		if err != nil {
			return nil, err
		}
		if header == "" {
			return []byte(value), nil
		}
		// The placeholder stands in for a whole header line.
		return []byte(header + ": " + value + "\r\n"), nil
	default:
		return nil, fmt.Errorf("deferred primitive has no source")
	}
}

func (d Deferred) String() string {
	if d.source == SourceToken {
		return fmt.Sprintf("auth_token(%q)", d.tag)
	}
	return fmt.Sprintf("dynamic(%s, %q)", d.producer, d.path)
}
