// File: internal/requests/request.go
package requests

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/restfuzz/internal/primitives"
)

// Key identifies a request within a collection: the method and the endpoint path,
// e.g. "POST /package". The endpoint path alone is not unique because one path
// usually serves several methods.
type Key string

// NewKey joins a method and an endpoint path.
func NewKey(method, id string) Key {
	return Key(strings.ToUpper(method) + " " + id)
}

// Method returns the method half of the key.
func (k Key) Method() string {
	m, _, _ := strings.Cut(string(k), " ")
	return m
}

// ID returns the endpoint path half of the key.
func (k Key) ID() string {
	_, id, _ := strings.Cut(string(k), " ")
	return id
}

// Slot addresses a single primitive of a request.
type Slot struct {
	Request Key
	Index   int
}

func (s Slot) String() string { return fmt.Sprintf("%s#%d", s.Request, s.Index) }

// Dependency is a value a request consumes from an earlier request's response.
type Dependency struct {
	Producer Key
	Path     string
}

// Request is an ordered primitive sequence plus the metadata derived from it.
// It is built once at grammar load and never mutated afterwards.
type Request struct {
	id         string
	method     string
	primitives []primitives.Primitive
	deps       []Dependency
	tags       []string
	fuzzable   []int
}

// New builds a request. The method is taken from the first static string ("POST ").
func New(id string, prims ...primitives.Primitive) (*Request, error) {
	if id == "" {
		return nil, errors.New("request id cannot be empty")
	}
	if len(prims) == 0 {
		return nil, fmt.Errorf("request %s has no primitives", id)
	}
	first, ok := primitives.TextOf(prims[0])
	if !ok {
		return nil, fmt.Errorf("request %s: first primitive must be a static method string, got %s", id, prims[0])
	}
	method := strings.TrimSpace(first)
	if method == "" || strings.ContainsAny(method, " /\r\n") {
		return nil, fmt.Errorf("request %s: cannot parse method from %q", id, first)
	}

	r := &Request{
		id:         id,
		method:     strings.ToUpper(method),
		primitives: make([]primitives.Primitive, len(prims)),
	}
	copy(r.primitives, prims)
	r.scan()
	return r, nil
}

// MustNew is New for compiled-in grammars; it panics on a malformed definition.
func MustNew(id string, prims ...primitives.Primitive) *Request {
	r, err := New(id, prims...)
	if err != nil {
		panic(err)
	}
	return r
}

// scan derives the dependency, tag and fuzzable-slot indexes in one pass.
func (r *Request) scan() {
	seenDeps := make(map[Dependency]struct{})
	seenTags := make(map[string]struct{})
	for i, p := range r.primitives {
		if primitives.IsFuzzable(p) {
			r.fuzzable = append(r.fuzzable, i)
		}
		d, ok := p.(primitives.Deferred)
		if !ok {
			continue
		}
		switch d.Source() {
		case primitives.SourceResponse:
			dep := Dependency{Producer: Key(d.Producer()), Path: d.Path()}
			if _, dup := seenDeps[dep]; !dup {
				seenDeps[dep] = struct{}{}
				r.deps = append(r.deps, dep)
			}
		case primitives.SourceToken:
			if _, dup := seenTags[d.Tag()]; !dup {
				seenTags[d.Tag()] = struct{}{}
				r.tags = append(r.tags, d.Tag())
			}
		}
	}
}

func (r *Request) ID() string { return r.id }

func (r *Request) Method() string { return r.method }

func (r *Request) Key() Key { return NewKey(r.method, r.id) }

// Len returns the number of primitives.
func (r *Request) Len() int { return len(r.primitives) }

// Primitive returns the i-th primitive.
func (r *Request) Primitive(i int) primitives.Primitive { return r.primitives[i] }

// DeclaredDependencies returns the distinct producer values this request consumes,
// in the order they first appear.
func (r *Request) DeclaredDependencies() []Dependency {
	out := make([]Dependency, len(r.deps))
	copy(out, r.deps)
	return out
}

// Tags returns the token tags this request renders.
func (r *Request) Tags() []string {
	out := make([]string, len(r.tags))
	copy(out, r.tags)
	return out
}

// FuzzableSlots returns the indices of fuzzable primitives.
func (r *Request) FuzzableSlots() []int {
	out := make([]int, len(r.fuzzable))
	copy(out, r.fuzzable)
	return out
}

// Render concatenates every primitive's output in order. bound returns the
// fuzzing override for a primitive index, or nil. No framing is added.
func (r *Request) Render(ctx context.Context, bound func(index int) *string, env primitives.Env) ([]byte, error) {
	var buf bytes.Buffer
	for i, p := range r.primitives {
		var value *string
		if bound != nil && primitives.IsFuzzable(p) {
			value = bound(i)
		}
		out, err := p.Render(ctx, value, env)
		if err != nil {
			return nil, fmt.Errorf("render %s primitive %d (%s): %w", r.Key(), i, p.Kind(), err)
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}

func (r *Request) String() string { return string(r.Key()) }
