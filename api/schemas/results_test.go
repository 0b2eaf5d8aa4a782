package schemas_test

import (
	"net/http"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/restfuzz/api/schemas"
)

// TestFailureKindValues pins the string values used by reporters and the store.
func TestFailureKindValues(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		kind     schemas.FailureKind
		expected string
		hard     bool
	}{
		{schemas.FailureDuplicateRequestID, "duplicate_request_id", false},
		{schemas.FailureCyclicDependency, "cyclic_dependency", true},
		{schemas.FailureUnresolvedDependency, "unresolved_dependency", true},
		{schemas.FailureMissingCredential, "missing_credential", true},
		{schemas.FailureTokenRefreshFailed, "token_refresh_failed", true},
		{schemas.FailureExtractionMiss, "extraction_miss", false},
		{schemas.FailureTransportError, "transport_error", false},
		{schemas.FailureRenderTimeout, "render_timeout", true},
		{schemas.FailureSkipped, "skipped", false},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, string(tt.kind))
			assert.Equal(t, tt.hard, tt.kind.Hard())
		})
	}
}

func TestResponseSucceeded(t *testing.T) {
	t.Parallel()
	var nilResp *schemas.Response
	assert.False(t, nilResp.Succeeded())
	assert.True(t, (&schemas.Response{StatusCode: http.StatusCreated}).Succeeded())
	assert.False(t, (&schemas.Response{StatusCode: http.StatusUnauthorized}).Succeeded())
	assert.False(t, (&schemas.Response{StatusCode: http.StatusMovedPermanently}).Succeeded())
}

// TestStructJSONTags guards the reporting contract against accidental renames.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "RequestResult",
			structRef: schemas.RequestResult{},
			expectedTags: map[string]string{
				"SequenceID":      "sequence_id",
				"Request":         "request",
				"Rendered":        "rendered",
				"ExtractedValues": "extracted_values",
				"Failures":        "failures",
			},
		},
		{
			name:      "SequenceResult",
			structRef: schemas.SequenceResult{},
			expectedTags: map[string]string{
				"SequenceID": "sequence_id",
				"Status":     "status",
				"StartedAt":  "started_at",
				"FinishedAt": "finished_at",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ := reflect.TypeOf(tt.structRef)
			for field, want := range tt.expectedTags {
				f, ok := typ.FieldByName(field)
				if !assert.True(t, ok, "field %s missing", field) {
					continue
				}
				tag := strings.Split(f.Tag.Get("json"), ",")[0]
				assert.Equal(t, want, tag, "json tag for %s", field)
			}
		})
	}
}
