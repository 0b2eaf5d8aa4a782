// File: internal/engine/sequence.go
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/dependencies"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Sequence is one ordered execution of dependency-linked requests. Target is
// the request the sequence exists to exercise; Keys ends with it and starts
// with its transitive producers.
type Sequence struct {
	ID        string
	Target    requests.Key
	Keys      []requests.Key
	Iteration int
}

// NewSequence assigns a fresh ID.
func NewSequence(target requests.Key, keys []requests.Key, iteration int) Sequence {
	return Sequence{
		ID:        uuid.New().String(),
		Target:    target,
		Keys:      keys,
		Iteration: iteration,
	}
}

// Strings returns the keys as plain strings for reporting.
func (s Sequence) Strings() []string {
	out := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		out[i] = string(k)
	}
	return out
}

// BuildSequences plans one sequence per target and iteration. Targets default
// to every request in the collection, in plan order followed by the unrunnable
// ones. A target that sits on or behind a dependency cycle produces an aborted
// SequenceResult carrying a cyclic_dependency failure instead of a Sequence.
// An unknown target is a load-time error.
func BuildSequences(res *dependencies.Resolver, targets []requests.Key, iterations int) ([]Sequence, []schemas.SequenceResult, error) {
	if res == nil {
		return nil, nil, errors.New("resolver cannot be nil")
	}
	if iterations <= 0 {
		iterations = 1
	}
	plan := res.Plan()
	if len(targets) == 0 {
		targets = append([]requests.Key(nil), plan.Order...)
		for _, k := range res.Graph().Keys() {
			if plan.Err(k) != nil {
				targets = append(targets, k)
			}
		}
	}

	var (
		seqs    []Sequence
		aborted []schemas.SequenceResult
	)
	for _, target := range targets {
		keys, err := res.SequenceFor(target)
		if err != nil {
			var cycle *dependencies.CyclicDependencyError
			if !errors.As(err, &cycle) {
				return nil, nil, err
			}
			aborted = append(aborted, cyclicResult(target, cycle))
			continue
		}
		for i := 0; i < iterations; i++ {
			seqs = append(seqs, NewSequence(target, keys, i))
		}
	}
	return seqs, aborted, nil
}

func cyclicResult(target requests.Key, cycle *dependencies.CyclicDependencyError) schemas.SequenceResult {
	members := make([]string, len(cycle.Members))
	for i, m := range cycle.Members {
		members[i] = string(m)
	}
	msg := cycle.Error()
	if !containsMember(cycle.Members, target) {
		msg = fmt.Sprintf("%s depends on a %s", target, cycle.Error())
	}
	now := time.Now().UTC()
	return schemas.SequenceResult{
		SequenceID: uuid.New().String(),
		Requests:   []string{string(target)},
		Status:     schemas.SequenceAborted,
		Failures: []schemas.Failure{{
			Kind:    schemas.FailureCyclicDependency,
			Request: string(target),
			Message: msg,
			Members: members,
		}},
		StartedAt:  now,
		FinishedAt: now,
	}
}

func containsMember(members []requests.Key, k requests.Key) bool {
	for _, m := range members {
		if m == k {
			return true
		}
	}
	return false
}
