// File: api/schemas/results.go
package schemas

import (
	"net/http"
	"time"
)

// FailureKind classifies a failure recorded against a request or sequence.
type FailureKind string

const (
	FailureDuplicateRequestID   FailureKind = "duplicate_request_id"
	FailureUnknownRequestID     FailureKind = "unknown_request_id"
	FailureCyclicDependency     FailureKind = "cyclic_dependency"
	FailureUnresolvedDependency FailureKind = "unresolved_dependency"
	FailureMissingCredential    FailureKind = "missing_credential"
	FailureTokenRefreshFailed   FailureKind = "token_refresh_failed"
	FailureExtractionMiss       FailureKind = "extraction_miss"
	FailureTransportError       FailureKind = "transport_error"
	FailureRenderTimeout        FailureKind = "render_timeout"
	FailureCancelled            FailureKind = "cancelled"
	FailureSkipped              FailureKind = "skipped"
	FailureInternal             FailureKind = "internal"
)

// Hard reports whether a failure of this kind aborts the sequence it occurs in.
func (k FailureKind) Hard() bool {
	switch k {
	case FailureUnresolvedDependency, FailureMissingCredential, FailureTokenRefreshFailed,
		FailureRenderTimeout, FailureCyclicDependency, FailureInternal:
		return true
	}
	return false
}

// SequenceStatus is the terminal state of one sequence execution.
type SequenceStatus string

const (
	SequenceCompleted SequenceStatus = "completed"
	SequenceAborted   SequenceStatus = "aborted"
	SequenceCancelled SequenceStatus = "cancelled"
)

// Response is what a transport observed for one rendered request.
type Response struct {
	StatusCode int           `json:"status_code"`
	Headers    http.Header   `json:"headers,omitempty"`
	Body       []byte        `json:"body,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports a 2xx status.
func (r *Response) Succeeded() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Failure is a structured record of something that went wrong.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Request string      `json:"request,omitempty"`
	Message string      `json:"message"`
	// Members lists the requests involved, e.g. the members of a dependency cycle.
	Members []string `json:"members,omitempty"`
}

// RequestResult is emitted once per request step of a sequence.
type RequestResult struct {
	SequenceID      string            `json:"sequence_id"`
	Step            int               `json:"step"`
	Request         string            `json:"request"`
	Rendered        []byte            `json:"rendered,omitempty"`
	Response        *Response         `json:"response,omitempty"`
	ExtractedValues map[string]string `json:"extracted_values,omitempty"`
	Failures        []Failure         `json:"failures,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
}

// SequenceResult summarizes one sequence execution.
type SequenceResult struct {
	SequenceID string          `json:"sequence_id"`
	Requests   []string        `json:"requests"`
	Status     SequenceStatus  `json:"status"`
	Steps      []RequestResult `json:"steps,omitempty"`
	Failures   []Failure       `json:"failures,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}
