// File: internal/render/context.go
package render

import (
	"sync"

	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Context holds the values extracted from responses earlier in one sequence,
// plus the requests that sequence has given up on. One Context belongs to
// exactly one sequence and is discarded with it.
type Context struct {
	mu      sync.RWMutex
	values  map[requests.Key]map[string]string
	skipped map[requests.Key]string
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{
		values:  make(map[requests.Key]map[string]string),
		skipped: make(map[requests.Key]string),
	}
}

// Set stores the value producer yielded at path.
func (c *Context) Set(producer requests.Key, path, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.values[producer]
	if !ok {
		m = make(map[string]string)
		c.values[producer] = m
	}
	m[path] = value
}

// Value looks up a value recorded for producer at path.
func (c *Context) Value(producer requests.Key, path string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[producer][path]
	return v, ok
}

// ValuesOf returns a copy of everything producer yielded.
func (c *Context) ValuesOf(producer requests.Key) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.values[producer]
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Skip marks key as not to be sent in this sequence. The first reason wins.
func (c *Context) Skip(key requests.Key, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, already := c.skipped[key]; !already {
		c.skipped[key] = reason
	}
}

// Skipped reports whether key was marked skipped, and why.
func (c *Context) Skipped(key requests.Key) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	reason, ok := c.skipped[key]
	return reason, ok
}
