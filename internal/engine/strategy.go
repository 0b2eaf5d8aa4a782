// File: internal/engine/strategy.go
package engine

import (
	"github.com/xkilldash9x/restfuzz/internal/primitives"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Strategy supplies the bound values a sequence renders with. Slots it leaves
// out render their defaults.
type Strategy interface {
	Overrides(seq Sequence) render.Overrides
}

// Defaults binds nothing.
type Defaults struct{}

func (Defaults) Overrides(Sequence) render.Overrides { return nil }

// ExampleWalk binds every fuzzable string that has examples to example
// number Iteration, wrapping around. It is deterministic.
type ExampleWalk struct {
	collection *requests.Collection
}

func NewExampleWalk(c *requests.Collection) *ExampleWalk {
	return &ExampleWalk{collection: c}
}

func (w *ExampleWalk) Overrides(seq Sequence) render.Overrides {
	out := make(render.Overrides)
	for _, key := range seq.Keys {
		req, err := w.collection.Get(key)
		if err != nil {
			continue
		}
		for _, i := range req.FuzzableSlots() {
			fs, ok := req.Primitive(i).(primitives.FuzzableStringPrimitive)
			if !ok {
				continue
			}
			examples := fs.Examples()
			if len(examples) == 0 {
				continue
			}
			out[requests.Slot{Request: key, Index: i}] = examples[seq.Iteration%len(examples)]
		}
	}
	return out
}
