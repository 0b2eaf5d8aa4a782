// File: internal/dependencies/graph.go
package dependencies

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Edge says consumer needs the value producer yields at Path.
type Edge struct {
	Producer requests.Key
	Consumer requests.Key
	Path     string
}

// CyclicDependencyError names exactly the requests of one cycle, in registration order.
type CyclicDependencyError struct {
	Members []requests.Key
}

func (e *CyclicDependencyError) Error() string {
	names := make([]string, len(e.Members))
	for i, m := range e.Members {
		names[i] = string(m)
	}
	return fmt.Sprintf("cyclic dependency among [%s]", strings.Join(names, ", "))
}

// Graph is the producer/consumer structure of a collection. It is immutable
// once built and safe to share between sequences.
type Graph struct {
	keys      []requests.Key
	index     map[requests.Key]int
	edges     []Edge
	producers map[requests.Key][]requests.Key // consumer -> distinct producers
	consumers map[requests.Key][]requests.Key // producer -> distinct consumers
	paths     map[requests.Key][]string       // producer -> distinct extraction paths
	pathUsers map[requests.Key]map[string][]requests.Key
}

// Build derives the dependency graph from every request's declared dependencies.
// A reference to a request that is not in the collection is an error.
func Build(c *requests.Collection) (*Graph, error) {
	all := c.All()
	g := &Graph{
		keys:      make([]requests.Key, len(all)),
		index:     make(map[requests.Key]int, len(all)),
		producers: make(map[requests.Key][]requests.Key),
		consumers: make(map[requests.Key][]requests.Key),
		paths:     make(map[requests.Key][]string),
		pathUsers: make(map[requests.Key]map[string][]requests.Key),
	}
	for i, r := range all {
		g.keys[i] = r.Key()
		g.index[r.Key()] = i
	}

	for _, r := range all {
		consumer := r.Key()
		for _, dep := range r.DeclaredDependencies() {
			if _, ok := g.index[dep.Producer]; !ok {
				return nil, fmt.Errorf("%w: %s (referenced by %s)", requests.ErrUnknownRequestID, dep.Producer, consumer)
			}
			g.edges = append(g.edges, Edge{Producer: dep.Producer, Consumer: consumer, Path: dep.Path})
			g.producers[consumer] = appendUnique(g.producers[consumer], dep.Producer)
			g.consumers[dep.Producer] = appendUnique(g.consumers[dep.Producer], consumer)

			users, ok := g.pathUsers[dep.Producer]
			if !ok {
				users = make(map[string][]requests.Key)
				g.pathUsers[dep.Producer] = users
			}
			if _, seen := users[dep.Path]; !seen {
				g.paths[dep.Producer] = append(g.paths[dep.Producer], dep.Path)
			}
			users[dep.Path] = appendUnique(users[dep.Path], consumer)
		}
	}
	for _, cs := range g.consumers {
		g.sortByRegistration(cs)
	}
	return g, nil
}

func appendUnique(list []requests.Key, k requests.Key) []requests.Key {
	for _, existing := range list {
		if existing == k {
			return list
		}
	}
	return append(list, k)
}

func (g *Graph) sortByRegistration(keys []requests.Key) {
	sort.Slice(keys, func(i, j int) bool { return g.index[keys[i]] < g.index[keys[j]] })
}

// Keys returns every request key in registration order.
func (g *Graph) Keys() []requests.Key { return append([]requests.Key(nil), g.keys...) }

// Edges returns every dependency edge.
func (g *Graph) Edges() []Edge { return append([]Edge(nil), g.edges...) }

// Producers returns the requests key directly depends on.
func (g *Graph) Producers(key requests.Key) []requests.Key {
	return append([]requests.Key(nil), g.producers[key]...)
}

// Consumers returns the requests that directly depend on key, in registration order.
func (g *Graph) Consumers(key requests.Key) []requests.Key {
	return append([]requests.Key(nil), g.consumers[key]...)
}

// Paths returns the distinct extraction paths consumers need from producer.
func (g *Graph) Paths(producer requests.Key) []string {
	return append([]string(nil), g.paths[producer]...)
}

// Has reports whether key is part of the graph.
func (g *Graph) Has(key requests.Key) bool {
	_, ok := g.index[key]
	return ok
}

// Blocked is a request that cannot run because it depends, directly or
// transitively, on a cycle.
type Blocked struct {
	Key   requests.Key
	Cause *CyclicDependencyError
}

// Plan is the executable schedule of a graph.
type Plan struct {
	// Order lists every runnable request, producers before consumers,
	// ties broken by registration order.
	Order   []requests.Key
	Cycles  []*CyclicDependencyError
	Blocked []Blocked

	unrunnable map[requests.Key]*CyclicDependencyError
}

// Err returns the cycle that prevents key from running, or nil.
func (p *Plan) Err(key requests.Key) error {
	if cause, ok := p.unrunnable[key]; ok {
		return cause
	}
	return nil
}

// Plan isolates cycles and orders everything else. Cycles are found as strongly
// connected components; a component is cyclic when it has more than one member
// or a self-edge. Requests downstream of a cycle are blocked. The result is
// deterministic for a given collection.
func (g *Graph) Plan() *Plan {
	plan := &Plan{unrunnable: make(map[requests.Key]*CyclicDependencyError)}

	for _, scc := range g.stronglyConnected() {
		if len(scc) == 1 && !g.selfLoop(scc[0]) {
			continue
		}
		g.sortByRegistration(scc)
		cycle := &CyclicDependencyError{Members: scc}
		plan.Cycles = append(plan.Cycles, cycle)
		for _, m := range scc {
			plan.unrunnable[m] = cycle
		}
	}
	sort.Slice(plan.Cycles, func(i, j int) bool {
		return g.index[plan.Cycles[i].Members[0]] < g.index[plan.Cycles[j].Members[0]]
	})

	// Everything reachable from a cycle along producer->consumer edges is blocked
	// by the first cycle that reaches it.
	for _, cycle := range plan.Cycles {
		queue := append([]requests.Key(nil), cycle.Members...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range g.consumers[cur] {
				if _, done := plan.unrunnable[next]; done {
					continue
				}
				plan.unrunnable[next] = cycle
				queue = append(queue, next)
			}
		}
	}
	for _, k := range g.keys {
		cause, ok := plan.unrunnable[k]
		if !ok {
			continue
		}
		if !containsKey(cause.Members, k) {
			plan.Blocked = append(plan.Blocked, Blocked{Key: k, Cause: cause})
		}
	}

	plan.Order = g.topological(plan.unrunnable)
	return plan
}

func containsKey(keys []requests.Key, k requests.Key) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func (g *Graph) selfLoop(k requests.Key) bool {
	for _, p := range g.producers[k] {
		if p == k {
			return true
		}
	}
	return false
}

// topological orders the runnable requests with Kahn's algorithm, always
// taking the lowest registration index among the ready requests.
func (g *Graph) topological(exclude map[requests.Key]*CyclicDependencyError) []requests.Key {
	indegree := make(map[requests.Key]int)
	var ready []int
	for i, k := range g.keys {
		if _, skip := exclude[k]; skip {
			continue
		}
		n := 0
		for _, p := range g.producers[k] {
			if _, skip := exclude[p]; !skip {
				n++
			}
		}
		indegree[k] = n
		if n == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]requests.Key, 0, len(indegree))
	for len(ready) > 0 {
		cur := g.keys[ready[0]]
		ready = ready[1:]
		order = append(order, cur)
		for _, c := range g.consumers[cur] {
			if _, skip := exclude[c]; skip {
				continue
			}
			indegree[c]--
			if indegree[c] == 0 {
				idx := g.index[c]
				pos := sort.SearchInts(ready, idx)
				ready = append(ready, 0)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = idx
			}
		}
	}
	return order
}

// stronglyConnected runs Tarjan's algorithm over consumer->producer edges,
// visiting roots in registration order.
func (g *Graph) stronglyConnected() [][]requests.Key {
	var (
		counter int
		stack   []requests.Key
		onStack = make(map[requests.Key]bool)
		index   = make(map[requests.Key]int)
		low     = make(map[requests.Key]int)
		out     [][]requests.Key
	)

	var visit func(v requests.Key)
	visit = func(v requests.Key) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.producers[v] {
			if _, seen := index[w]; !seen {
				visit(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}

		if low[v] == index[v] {
			var scc []requests.Key
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			out = append(out, scc)
		}
	}

	for _, k := range g.keys {
		if _, seen := index[k]; !seen {
			visit(k)
		}
	}
	return out
}
