// File: internal/primitives/primitives.go
package primitives

import (
	"context"
	"fmt"
	"strconv"

	json "github.com/json-iterator/go"
)

// Kind discriminates the primitive variants.
type Kind int

const (
	KindStatic Kind = iota
	KindFuzzableString
	KindFuzzableBool
	KindFuzzableObject
	KindDeferred
	KindBasePath
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static_string"
	case KindFuzzableString:
		return "fuzzable_string"
	case KindFuzzableBool:
		return "fuzzable_bool"
	case KindFuzzableObject:
		return "fuzzable_object"
	case KindDeferred:
		return "deferred"
	case KindBasePath:
		return "basepath"
	default:
		return "unknown"
	}
}

// Env supplies everything a primitive may need at render time beyond its own definition.
// Implementations are scoped to a single sequence.
type Env interface {
	// Value returns a value produced earlier in the sequence by source at path.
	Value(source, path string) (string, bool)
	// Credential returns the current credential for tag, refreshing it if needed.
	// header is empty when the credential renders as a bare value.
	Credential(ctx context.Context, tag string) (header, value string, err error)
	// BasePath returns the collection-wide path prefix, if one is set.
	BasePath() (string, bool)
}

// Primitive is one atomic element of a request template.
// Primitives are immutable; fuzzing only changes the bound value handed to Render.
type Primitive interface {
	Kind() Kind
	// Render returns the bytes for this element. bound is the fuzzing override, or nil.
	Render(ctx context.Context, bound *string, env Env) ([]byte, error)
	String() string
}

// IsFuzzable reports whether a fuzzing strategy may bind a value to p.
func IsFuzzable(p Primitive) bool {
	switch p.Kind() {
	case KindFuzzableString, KindFuzzableBool, KindFuzzableObject:
		return true
	}
	return false
}

// jsonStrings quotes without HTML escaping so "<" and "&" stay readable on the wire.
var jsonStrings = json.Config{EscapeHTML: false}.Froze()

// Quote wraps s in double quotes, escaping it per JSON string rules.
func Quote(s string) string {
	out, err := jsonStrings.MarshalToString(s)
	if err != nil {
		// MarshalToString on a plain string only fails on encoder bugs.
		return strconv.Quote(s)
	}
	return out
}

// -- Static --

type staticString struct {
	text string
}

// StaticString emits text verbatim.
func StaticString(text string) Primitive { return staticString{text: text} }

func (s staticString) Kind() Kind { return KindStatic }

func (s staticString) Render(context.Context, *string, Env) ([]byte, error) {
	return []byte(s.text), nil
}

func (s staticString) String() string { return fmt.Sprintf("static(%q)", s.text) }

// TextOf returns the literal of a StaticString primitive.
func TextOf(p Primitive) (string, bool) {
	s, ok := p.(staticString)
	return s.text, ok
}

// -- Fuzzable string --

// FuzzableStringPrimitive is a string value the fuzzing strategy may vary.
type FuzzableStringPrimitive struct {
	defaultValue string
	quoted       bool
	examples     []string
}

// FuzzableString builds a fuzzable string. Without an override it renders
// its first example, or defaultValue when there are none.
func FuzzableString(defaultValue string, quoted bool, examples ...string) Primitive {
	ex := make([]string, len(examples))
	copy(ex, examples)
	return FuzzableStringPrimitive{defaultValue: defaultValue, quoted: quoted, examples: ex}
}

func (f FuzzableStringPrimitive) Kind() Kind { return KindFuzzableString }

func (f FuzzableStringPrimitive) Default() string { return f.defaultValue }

func (f FuzzableStringPrimitive) Quoted() bool { return f.quoted }

// Examples returns a copy of the example values.
func (f FuzzableStringPrimitive) Examples() []string {
	out := make([]string, len(f.examples))
	copy(out, f.examples)
	return out
}

func (f FuzzableStringPrimitive) value(bound *string) string {
	if bound != nil {
		return *bound
	}
	if len(f.examples) > 0 {
		return f.examples[0]
	}
	return f.defaultValue
}

func (f FuzzableStringPrimitive) Render(_ context.Context, bound *string, _ Env) ([]byte, error) {
	v := f.value(bound)
	if f.quoted {
		return []byte(Quote(v)), nil
	}
	return []byte(v), nil
}

func (f FuzzableStringPrimitive) String() string {
	return fmt.Sprintf("fuzzable_string(%q, quoted=%t, examples=%d)", f.defaultValue, f.quoted, len(f.examples))
}

// -- Fuzzable bool --

type fuzzableBool struct {
	defaultValue bool
}

// FuzzableBool builds a boolean fuzzable value.
func FuzzableBool(defaultValue bool) Primitive { return fuzzableBool{defaultValue: defaultValue} }

func (b fuzzableBool) Kind() Kind { return KindFuzzableBool }

func (b fuzzableBool) Render(_ context.Context, bound *string, _ Env) ([]byte, error) {
	if bound != nil {
		return []byte(*bound), nil
	}
	return []byte(strconv.FormatBool(b.defaultValue)), nil
}

func (b fuzzableBool) String() string { return fmt.Sprintf("fuzzable_bool(%t)", b.defaultValue) }

// -- Fuzzable object --

type fuzzableObject struct {
	defaultJSON string
}

// FuzzableObject builds an opaque JSON fragment substituted wholesale.
func FuzzableObject(defaultJSON string) Primitive { return fuzzableObject{defaultJSON: defaultJSON} }

func (o fuzzableObject) Kind() Kind { return KindFuzzableObject }

func (o fuzzableObject) Render(_ context.Context, bound *string, _ Env) ([]byte, error) {
	if bound != nil {
		return []byte(*bound), nil
	}
	return []byte(o.defaultJSON), nil
}

func (o fuzzableObject) String() string { return fmt.Sprintf("fuzzable_object(%q)", o.defaultJSON) }

// -- Base path --

type basePath struct {
	value string
}

// BasePath is the API path prefix. A collection-wide base path takes precedence.
func BasePath(value string) Primitive { return basePath{value: value} }

func (b basePath) Kind() Kind { return KindBasePath }

func (b basePath) Render(_ context.Context, _ *string, env Env) ([]byte, error) {
	if env != nil {
		if v, ok := env.BasePath(); ok {
			return []byte(v), nil
		}
	}
	return []byte(b.value), nil
}

func (b basePath) String() string { return fmt.Sprintf("basepath(%q)", b.value) }

// DefaultText returns the definition-time value of a fuzzable bool, fuzzable
// object or base path primitive.
func DefaultText(p Primitive) (string, bool) {
	switch v := p.(type) {
	case fuzzableBool:
		return strconv.FormatBool(v.defaultValue), true
	case fuzzableObject:
		return v.defaultJSON, true
	case basePath:
		return v.value, true
	}
	return "", false
}
