// File: internal/requests/requests_test.go
package requests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	p "github.com/xkilldash9x/restfuzz/internal/primitives"
)

func packagePost(t *testing.T) *Request {
	t.Helper()
	r, err := New("/package",
		p.StaticString("POST "),
		p.BasePath(""),
		p.StaticString("/package HTTP/1.1\r\n"),
		p.RefreshableAuthToken("authentication_token_tag"),
		p.StaticString("\r\n{\"Name\":"),
		p.FuzzableObject(`{ "fuzz": false }`),
		p.StaticString(",\"debloat\":"),
		p.FuzzableBool(true),
		p.StaticString("}"),
	)
	require.NoError(t, err)
	return r
}

func TestKey(t *testing.T) {
	k := NewKey("get", "/package/{id}")
	assert.Equal(t, Key("GET /package/{id}"), k)
	assert.Equal(t, "GET", k.Method())
	assert.Equal(t, "/package/{id}", k.ID())
	assert.Equal(t, "GET /package/{id}#3", Slot{Request: k, Index: 3}.String())
}

func TestNewRequest(t *testing.T) {
	t.Run("parses method from the first static string", func(t *testing.T) {
		r := packagePost(t)
		assert.Equal(t, "POST", r.Method())
		assert.Equal(t, "/package", r.ID())
		assert.Equal(t, Key("POST /package"), r.Key())
		assert.Equal(t, 9, r.Len())
	})

	t.Run("rejects malformed definitions", func(t *testing.T) {
		_, err := New("", p.StaticString("GET "))
		assert.Error(t, err)

		_, err = New("/x")
		assert.Error(t, err)

		_, err = New("/x", p.FuzzableBool(true))
		assert.ErrorContains(t, err, "first primitive must be a static method string")

		_, err = New("/x", p.StaticString("GET /x HTTP/1.1\r\n"))
		assert.ErrorContains(t, err, "cannot parse method")
	})

	t.Run("MustNew panics on malformed definitions", func(t *testing.T) {
		assert.Panics(t, func() { MustNew("/x") })
	})
}

func TestDeclaredDependencies(t *testing.T) {
	r, err := New("/package/{id}",
		p.StaticString("GET "),
		p.StaticString("/package/"),
		p.DynamicReference("POST /package", "metadata.ID"),
		p.StaticString(" HTTP/1.1\r\n"),
		p.RefreshableAuthToken("a"),
		p.RefreshableAuthToken("a"),
		p.RefreshableAuthToken("b"),
		p.StaticString("\r\n{\"id\":\""),
		p.DynamicReference("POST /package", "metadata.ID"),
		p.StaticString("\",\"v\":\""),
		p.DynamicReference("POST /package", "metadata.Version"),
		p.StaticString("\"}"),
	)
	require.NoError(t, err)

	assert.Equal(t, []Dependency{
		{Producer: "POST /package", Path: "metadata.ID"},
		{Producer: "POST /package", Path: "metadata.Version"},
	}, r.DeclaredDependencies())
	assert.Equal(t, []string{"a", "b"}, r.Tags())

	// Returned slices are copies.
	deps := r.DeclaredDependencies()
	deps[0].Path = "mutated"
	assert.Equal(t, "metadata.ID", r.DeclaredDependencies()[0].Path)
}

func TestStaticPathLiteralDeclaresNothing(t *testing.T) {
	r, err := New("/package/{id}",
		p.StaticString("POST "),
		p.StaticString("/package/"),
		p.FuzzableString("fuzzstring", false, "123567192081501"),
		p.StaticString(" HTTP/1.1\r\n\r\n"),
	)
	require.NoError(t, err)
	assert.Empty(t, r.DeclaredDependencies())
	assert.Equal(t, []int{2}, r.FuzzableSlots())
}

func TestRequestRender(t *testing.T) {
	r, err := New("/reset",
		p.StaticString("DELETE "),
		p.BasePath(""),
		p.StaticString("/reset?force="),
		p.FuzzableBool(false),
		p.StaticString(" HTTP/1.1\r\n\r\n"),
	)
	require.NoError(t, err)

	out, err := r.Render(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "DELETE /reset?force=false HTTP/1.1\r\n\r\n", string(out))

	yes := "true"
	out, err = r.Render(context.Background(), func(i int) *string {
		if i == 3 {
			return &yes
		}
		return nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "DELETE /reset?force=true HTTP/1.1\r\n\r\n", string(out))

	t.Run("wraps primitive errors with the slot", func(t *testing.T) {
		dep := MustNew("/x", p.StaticString("GET "), p.DynamicReference("POST /y", "id"))
		_, err := dep.Render(context.Background(), nil, nil)
		var unresolved *p.UnresolvedDependencyError
		require.ErrorAs(t, err, &unresolved)
		assert.ErrorContains(t, err, "GET /x primitive 1")
	})
}

func TestCollection(t *testing.T) {
	c := NewCollection()
	post := packagePost(t)
	get := MustNew("/package/{id}", p.StaticString("GET "), p.StaticString("/package/1"))
	postID := MustNew("/package/{id}", p.StaticString("POST "), p.StaticString("/package/1"))

	require.NoError(t, c.Add(post))
	require.NoError(t, c.Add(get))
	require.NoError(t, c.Add(postID), "same path with another method is a different request")

	t.Run("duplicate key is rejected", func(t *testing.T) {
		err := c.Add(packagePost(t))
		assert.ErrorIs(t, err, ErrDuplicateRequestID)
		assert.Equal(t, 3, c.Len())
	})

	t.Run("nil request is rejected", func(t *testing.T) {
		assert.Error(t, c.Add(nil))
	})

	t.Run("get and unknown", func(t *testing.T) {
		got, err := c.Get("GET /package/{id}")
		require.NoError(t, err)
		assert.Same(t, get, got)

		_, err = c.Get("GET /nope")
		assert.ErrorIs(t, err, ErrUnknownRequestID)
	})

	t.Run("registration order", func(t *testing.T) {
		assert.Equal(t, []Key{"POST /package", "GET /package/{id}", "POST /package/{id}"}, c.Keys())
		all := c.All()
		require.Len(t, all, 3)
		assert.Same(t, post, all[0])
		i, ok := c.Index("POST /package/{id}")
		assert.True(t, ok)
		assert.Equal(t, 2, i)
	})

	t.Run("base path", func(t *testing.T) {
		_, ok := c.BasePath()
		assert.False(t, ok)
		c.SetBasePath("/api/v1")
		bp, ok := c.BasePath()
		assert.True(t, ok)
		assert.Equal(t, "/api/v1", bp)
	})
}
