// File: internal/dependencies/resolver.go
package dependencies

import (
	"fmt"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// HeaderPrefix selects a response header instead of a body field.
const HeaderPrefix = "headers."

// ExtractionMissError is recorded when a producer's response did not yield a
// value that a later request needs.
type ExtractionMissError struct {
	Producer   requests.Key
	Paths      []string
	StatusCode int
	// Skipped lists the consumers that will not run in this sequence as a result.
	Skipped []requests.Key
}

func (e *ExtractionMissError) Error() string {
	return fmt.Sprintf("%s (status %d) did not produce %s; skipping %d dependent request(s)",
		e.Producer, e.StatusCode, strings.Join(e.Paths, ", "), len(e.Skipped))
}

// Resolver answers ordering questions and moves extracted values into a
// sequence's render context. It holds no per-sequence state.
type Resolver struct {
	graph  *Graph
	plan   *Plan
	logger *zap.Logger
}

// NewResolver builds the graph and plan for c.
func NewResolver(c *requests.Collection, logger *zap.Logger) (*Resolver, error) {
	if c == nil {
		return nil, fmt.Errorf("request collection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g, err := Build(c)
	if err != nil {
		return nil, err
	}
	r := &Resolver{graph: g, plan: g.Plan(), logger: logger.Named("resolver")}
	for _, cycle := range r.plan.Cycles {
		r.logger.Warn("Cyclic dependency isolated", zap.Error(cycle))
	}
	for _, b := range r.plan.Blocked {
		r.logger.Warn("Request blocked by cyclic dependency",
			zap.String("request", string(b.Key)),
			zap.Error(b.Cause),
		)
	}
	return r, nil
}

func (r *Resolver) Graph() *Graph { return r.graph }

func (r *Resolver) Plan() *Plan { return r.plan }

// SequenceFor returns key preceded by everything it transitively depends on, in plan order.
func (r *Resolver) SequenceFor(key requests.Key) ([]requests.Key, error) {
	if !r.graph.Has(key) {
		return nil, fmt.Errorf("%w: %s", requests.ErrUnknownRequestID, key)
	}
	if err := r.plan.Err(key); err != nil {
		return nil, err
	}

	needed := map[requests.Key]bool{key: true}
	stack := []requests.Key{key}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range r.graph.producers[cur] {
			if !needed[p] {
				needed[p] = true
				stack = append(stack, p)
			}
		}
	}

	seq := make([]requests.Key, 0, len(needed))
	for _, k := range r.plan.Order {
		if needed[k] {
			seq = append(seq, k)
		}
	}
	return seq, nil
}

// Record extracts every value consumers need from producer's response into rc.
// A missing response, a non-2xx status, or an absent path counts as a miss; the
// consumers that needed a missed value, and everything downstream of them, are
// marked skipped in rc.
func (r *Resolver) Record(rc *render.Context, producer requests.Key, resp *schemas.Response) error {
	paths := r.graph.paths[producer]
	if len(paths) == 0 {
		return nil
	}

	var missed []string
	for _, path := range paths {
		if !resp.Succeeded() {
			missed = append(missed, path)
			continue
		}
		v, ok := Extract(resp, path)
		if !ok {
			missed = append(missed, path)
			continue
		}
		rc.Set(producer, path, v)
	}
	if len(missed) == 0 {
		return nil
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	reason := fmt.Sprintf("%s did not produce a required value", producer)
	var direct []requests.Key
	for _, path := range missed {
		for _, c := range r.graph.pathUsers[producer][path] {
			direct = appendUnique(direct, c)
		}
	}
	skipped := r.skip(rc, direct, reason)

	r.logger.Debug("Extraction miss",
		zap.String("producer", string(producer)),
		zap.Strings("paths", missed),
		zap.Int("status", status),
		zap.Int("skipped", len(skipped)),
	)
	return &ExtractionMissError{Producer: producer, Paths: missed, StatusCode: status, Skipped: skipped}
}

// Miss marks every transitive consumer of producer skipped in rc, e.g. after a
// transport failure. It returns the newly skipped keys in plan order.
func (r *Resolver) Miss(rc *render.Context, producer requests.Key, reason string) []requests.Key {
	return r.skip(rc, r.graph.consumers[producer], reason)
}

func (r *Resolver) skip(rc *render.Context, roots []requests.Key, reason string) []requests.Key {
	marked := make(map[requests.Key]bool)
	queue := append([]requests.Key(nil), roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if marked[cur] {
			continue
		}
		marked[cur] = true
		queue = append(queue, r.graph.consumers[cur]...)
	}

	var newly []requests.Key
	for _, k := range r.graph.keys {
		if !marked[k] {
			continue
		}
		if _, already := rc.Skipped(k); already {
			continue
		}
		rc.Skip(k, reason)
		newly = append(newly, k)
	}
	return newly
}

// Extract reads one value from a response. "headers.Name" reads a header;
// anything else is a dotted JSON path into the body, where numeric segments
// index arrays ("items.0.id") and name object members ("versions.2").
// Strings are returned unquoted, other JSON values as their raw JSON text.
// Null and absent values are misses.
func Extract(resp *schemas.Response, path string) (string, bool) {
	if resp == nil || path == "" {
		return "", false
	}
	if name, ok := strings.CutPrefix(path, HeaderPrefix); ok {
		v := resp.Headers.Get(name)
		return v, v != ""
	}

	node := json.Get(resp.Body)
	for _, seg := range strings.Split(path, ".") {
		switch node.ValueType() {
		case json.ArrayValue:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 {
				return "", false
			}
			node = node.Get(n)
		case json.ObjectValue:
			// Object keys are always strings, numeric or not.
			node = node.Get(seg)
		default:
			return "", false
		}
		if node.LastError() != nil {
			return "", false
		}
	}
	switch node.ValueType() {
	case json.InvalidValue, json.NilValue:
		return "", false
	case json.StringValue:
		return node.ToString(), true
	default:
		return strings.TrimSpace(node.ToString()), true
	}
}
