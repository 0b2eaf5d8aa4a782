// File: internal/requests/collection.go
package requests

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateRequestID is returned when a key is registered twice.
	ErrDuplicateRequestID = errors.New("duplicate request id")
	// ErrUnknownRequestID is returned when a key is not registered.
	ErrUnknownRequestID = errors.New("unknown request id")
)

// Collection is the full set of requests for an API, in registration order.
// It is populated at grammar load and read-only afterwards; the lock only
// protects loading from concurrent misuse.
type Collection struct {
	mu       sync.RWMutex
	order    []*Request
	byKey    map[Key]int
	basePath *string
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{byKey: make(map[Key]int)}
}

// Add registers a request.
func (c *Collection) Add(r *Request) error {
	if r == nil {
		return errors.New("cannot add a nil request")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := r.Key()
	if _, exists := c.byKey[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequestID, key)
	}
	c.byKey[key] = len(c.order)
	c.order = append(c.order, r)
	return nil
}

// Get looks a request up by key.
func (c *Collection) Get(key Key) (*Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequestID, key)
	}
	return c.order[i], nil
}

// Index returns the registration position of key.
func (c *Collection) Index(key Key) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byKey[key]
	return i, ok
}

// All returns the requests in registration order.
func (c *Collection) All() []*Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Request, len(c.order))
	copy(out, c.order)
	return out
}

// Keys returns the request keys in registration order.
func (c *Collection) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Key, len(c.order))
	for i, r := range c.order {
		out[i] = r.Key()
	}
	return out
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// SetBasePath sets the path prefix that overrides every BasePath primitive.
func (c *Collection) SetBasePath(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.basePath = &p
}

// BasePath returns the collection-wide path prefix, if one was set.
func (c *Collection) BasePath() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.basePath == nil {
		return "", false
	}
	return *c.basePath, true
}
