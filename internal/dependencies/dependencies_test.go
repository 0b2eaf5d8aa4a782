// File: internal/dependencies/dependencies_test.go
package dependencies

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/grammar"
	p "github.com/xkilldash9x/restfuzz/internal/primitives"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// -- Test Helpers --

type ref struct{ producer, path string }

// mk builds "METHOD id" consuming the given references.
func mk(t *testing.T, method, id string, refs ...ref) *requests.Request {
	t.Helper()
	prims := []p.Primitive{p.StaticString(method + " "), p.StaticString(id)}
	for _, r := range refs {
		prims = append(prims, p.StaticString("/"), p.DynamicReference(r.producer, r.path))
	}
	prims = append(prims, p.StaticString(" HTTP/1.1\r\n\r\n"))
	r, err := requests.New(id, prims...)
	require.NoError(t, err)
	return r
}

func collection(t *testing.T, reqs ...*requests.Request) *requests.Collection {
	t.Helper()
	c := requests.NewCollection()
	for _, r := range reqs {
		require.NoError(t, c.Add(r))
	}
	return c
}

func resolver(t *testing.T, c *requests.Collection) *Resolver {
	t.Helper()
	r, err := NewResolver(c, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func jsonResponse(status int, body string) *schemas.Response {
	return &schemas.Response{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"application/json"}, "Location": []string{"/package/77"}},
		Body:       []byte(body),
	}
}

// -- Test Cases --

func TestBuild_UnknownProducer(t *testing.T) {
	c := collection(t, mk(t, "GET", "/package/{id}", ref{"POST /package", "id"}))
	_, err := Build(c)
	assert.ErrorIs(t, err, requests.ErrUnknownRequestID)
	assert.ErrorContains(t, err, "referenced by GET /package/{id}")

	_, err = NewResolver(nil, nil)
	assert.Error(t, err)
}

func TestPlan_ProducerBeforeConsumer(t *testing.T) {
	// Consumers registered ahead of their producers.
	c := collection(t,
		mk(t, "GET", "/package/{id}/rate", ref{"POST /package", "metadata.ID"}),
		mk(t, "GET", "/package/{id}", ref{"POST /package", "metadata.ID"}),
		mk(t, "POST", "/package"),
		mk(t, "DELETE", "/reset"),
	)
	plan := resolver(t, c).Plan()

	assert.Empty(t, plan.Cycles)
	assert.Empty(t, plan.Blocked)
	want := []requests.Key{"POST /package", "GET /package/{id}/rate", "GET /package/{id}", "DELETE /reset"}
	if diff := cmp.Diff(want, plan.Order); diff != "" {
		t.Errorf("plan order mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_OrderIsDeterministic(t *testing.T) {
	build := func() []requests.Key {
		c := collection(t,
			mk(t, "GET", "/c", ref{"POST /b", "id"}, ref{"POST /a", "id"}),
			mk(t, "POST", "/b", ref{"POST /a", "id"}),
			mk(t, "POST", "/a"),
			mk(t, "GET", "/z"),
		)
		return resolver(t, c).Plan().Order
	}
	first := build()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, build())
	}
	assert.Equal(t, []requests.Key{"POST /a", "POST /b", "GET /c", "GET /z"}, first)
}

func TestPlan_CycleIsIsolated(t *testing.T) {
	c := collection(t,
		mk(t, "GET", "/unrelated"),
		mk(t, "POST", "/a", ref{"POST /b", "id"}),
		mk(t, "POST", "/b", ref{"POST /a", "id"}),
		mk(t, "GET", "/downstream", ref{"POST /a", "id"}),
		mk(t, "POST", "/self", ref{"POST /self", "id"}),
		mk(t, "GET", "/also-unrelated"),
	)
	r := resolver(t, c)
	plan := r.Plan()

	require.Len(t, plan.Cycles, 2)
	assert.Equal(t, []requests.Key{"POST /a", "POST /b"}, plan.Cycles[0].Members, "exactly the cycle members")
	assert.Equal(t, []requests.Key{"POST /self"}, plan.Cycles[1].Members, "self reference is a cycle")
	assert.Equal(t, "cyclic dependency among [POST /a, POST /b]", plan.Cycles[0].Error())

	require.Len(t, plan.Blocked, 1)
	assert.Equal(t, requests.Key("GET /downstream"), plan.Blocked[0].Key)
	assert.Same(t, plan.Cycles[0], plan.Blocked[0].Cause)

	assert.Equal(t, []requests.Key{"GET /unrelated", "GET /also-unrelated"}, plan.Order)

	_, err := r.SequenceFor("POST /b")
	var cyclic *CyclicDependencyError
	require.ErrorAs(t, err, &cyclic)
	assert.Equal(t, []requests.Key{"POST /a", "POST /b"}, cyclic.Members)

	_, err = r.SequenceFor("GET /downstream")
	assert.ErrorAs(t, err, &cyclic)

	seq, err := r.SequenceFor("GET /unrelated")
	require.NoError(t, err)
	assert.Equal(t, []requests.Key{"GET /unrelated"}, seq)
}

func TestPackageRegistry_HasNoImplicitEdges(t *testing.T) {
	c, err := grammar.PackageRegistry()
	require.NoError(t, err)
	r := resolver(t, c)

	assert.Empty(t, r.Graph().Edges())
	assert.Equal(t, c.Keys(), r.Plan().Order, "no edges means registration order")

	// The POST /package/{id} path literal does not create a dependency on POST /package.
	seq, err := r.SequenceFor("POST /package/{id}")
	require.NoError(t, err)
	assert.Equal(t, []requests.Key{"POST /package/{id}"}, seq)
	assert.Empty(t, r.Graph().Producers("POST /package/{id}"))
}

func TestSequenceFor(t *testing.T) {
	c := collection(t,
		mk(t, "POST", "/a"),
		mk(t, "POST", "/x"),
		mk(t, "POST", "/b", ref{"POST /a", "id"}),
		mk(t, "GET", "/c", ref{"POST /b", "id"}),
	)
	r := resolver(t, c)

	seq, err := r.SequenceFor("GET /c")
	require.NoError(t, err)
	assert.Equal(t, []requests.Key{"POST /a", "POST /b", "GET /c"}, seq)

	_, err = r.SequenceFor("GET /missing")
	assert.ErrorIs(t, err, requests.ErrUnknownRequestID)
}

func TestGraphAccessors(t *testing.T) {
	c := collection(t,
		mk(t, "POST", "/a"),
		mk(t, "GET", "/b", ref{"POST /a", "id"}, ref{"POST /a", "name"}),
		mk(t, "GET", "/c", ref{"POST /a", "id"}),
	)
	g, err := Build(c)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, g.Paths("POST /a"))
	assert.Equal(t, []requests.Key{"GET /b", "GET /c"}, g.Consumers("POST /a"))
	assert.Equal(t, []requests.Key{"POST /a"}, g.Producers("GET /b"))
	assert.Len(t, g.Edges(), 3)
	assert.True(t, g.Has("GET /c"))
	assert.False(t, g.Has("GET /d"))
}

func TestRecord(t *testing.T) {
	c := collection(t,
		mk(t, "POST", "/package"),
		mk(t, "GET", "/package/{id}", ref{"POST /package", "metadata.ID"}),
		mk(t, "GET", "/package/{id}/rate", ref{"GET /package/{id}", "score"}),
		mk(t, "GET", "/loc", ref{"POST /package", "headers.Location"}),
		mk(t, "GET", "/unrelated"),
	)
	r := resolver(t, c)

	t.Run("values land in the context", func(t *testing.T) {
		rc := render.NewContext()
		err := r.Record(rc, "POST /package", jsonResponse(201, `{"metadata":{"ID":"pkg-1","Version":"1.2.3"}}`))
		require.NoError(t, err)
		v, ok := rc.Value("POST /package", "metadata.ID")
		assert.True(t, ok)
		assert.Equal(t, "pkg-1", v)
		v, _ = rc.Value("POST /package", "headers.Location")
		assert.Equal(t, "/package/77", v)
	})

	t.Run("absent path skips its consumers transitively", func(t *testing.T) {
		rc := render.NewContext()
		err := r.Record(rc, "POST /package", jsonResponse(200, `{"metadata":{}}`))
		var miss *ExtractionMissError
		require.ErrorAs(t, err, &miss)
		assert.Equal(t, []string{"metadata.ID"}, miss.Paths)
		assert.Equal(t, []requests.Key{"GET /package/{id}", "GET /package/{id}/rate"}, miss.Skipped)

		_, skipped := rc.Skipped("GET /loc")
		assert.False(t, skipped, "the header value was still produced")
		_, skipped = rc.Skipped("GET /package/{id}/rate")
		assert.True(t, skipped)
		_, skipped = rc.Skipped("GET /unrelated")
		assert.False(t, skipped)
	})

	t.Run("non-2xx produces nothing", func(t *testing.T) {
		rc := render.NewContext()
		err := r.Record(rc, "POST /package", jsonResponse(400, `{"metadata":{"ID":"pkg-1"}}`))
		var miss *ExtractionMissError
		require.ErrorAs(t, err, &miss)
		assert.Equal(t, 400, miss.StatusCode)
		assert.ElementsMatch(t, []string{"metadata.ID", "headers.Location"}, miss.Paths)
		_, ok := rc.Value("POST /package", "metadata.ID")
		assert.False(t, ok)
	})

	t.Run("nil response produces nothing", func(t *testing.T) {
		rc := render.NewContext()
		assert.Error(t, r.Record(rc, "POST /package", nil))
	})

	t.Run("requests nobody consumes record nothing", func(t *testing.T) {
		rc := render.NewContext()
		assert.NoError(t, r.Record(rc, "GET /unrelated", jsonResponse(500, "")))
	})
}

func TestMiss(t *testing.T) {
	c := collection(t,
		mk(t, "POST", "/a"),
		mk(t, "POST", "/b", ref{"POST /a", "id"}),
		mk(t, "GET", "/c", ref{"POST /b", "id"}),
		mk(t, "GET", "/d"),
	)
	r := resolver(t, c)
	rc := render.NewContext()

	skipped := r.Miss(rc, "POST /a", "transport failure")
	assert.Equal(t, []requests.Key{"POST /b", "GET /c"}, skipped)
	reason, ok := rc.Skipped("GET /c")
	assert.True(t, ok)
	assert.Equal(t, "transport failure", reason)

	assert.Empty(t, r.Miss(rc, "POST /a", "again"), "already skipped requests are not reported twice")
	assert.Empty(t, r.Miss(rc, "GET /d", "leaf"))
}

func TestExtract(t *testing.T) {
	resp := jsonResponse(200, `{"id":7,"name":"left-pad","ok":true,"none":null,"items":[{"id":"x"},{"id":"y"}],"meta":{"a":1},"versions":{"2":"v2-id"}}`)
	testCases := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"id", "7", true},
		{"name", "left-pad", true},
		{"ok", "true", true},
		{"items.1.id", "y", true},
		{"meta", `{"a":1}`, true},
		{"none", "", false},
		{"missing", "", false},
		{"items.5.id", "", false},
		{"versions.2", "v2-id", true},
		{"items.first", "", false},
		{"name.0", "", false},
		{"headers.Content-Type", "application/json", true},
		{"headers.X-Missing", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := Extract(resp, tc.path)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}

	_, ok := Extract(nil, "id")
	assert.False(t, ok)
	_, ok = Extract(jsonResponse(200, "not json"), "id")
	assert.False(t, ok)
}
