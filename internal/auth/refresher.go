// File: internal/auth/refresher.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of one credential tag.
type State int

const (
	StateUninitialized State = iota
	StateValid
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ErrMissingCredential is returned for a tag that was never configured.
var ErrMissingCredential = errors.New("missing credential")

// TokenRefreshError is returned to every caller waiting on a refresh that failed or timed out.
type TokenRefreshError struct {
	Tag string
	Err error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for tag %q: %v", e.Tag, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// Provider fetches a fresh credential value for a tag.
type Provider interface {
	Refresh(ctx context.Context, tag string) (string, error)
}

// HeaderProvider is a Provider whose output also names the header the value
// belongs in, as token scripts do. The reported header applies to tags
// configured without one.
type HeaderProvider interface {
	Provider
	RefreshCredential(ctx context.Context, tag string) (header, value string, err error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, tag string) (string, error)

func (f ProviderFunc) Refresh(ctx context.Context, tag string) (string, error) { return f(ctx, tag) }

// TokenSpec configures one tag.
type TokenSpec struct {
	// TTL bounds how long a refreshed value stays valid. Zero means until invalidated
	// or until the value's own JWT expiry.
	TTL time.Duration
	// Header, when set, makes the token render as a full "Header: value" line.
	Header string
}

type token struct {
	spec        TokenSpec
	value       string
	// reported is the header name the provider returned with value.
	reported    string
	refreshedAt time.Time
	expiresAt   time.Time
	state       State
}

// header is the configured header name, else the one the provider reported.
func (t *token) header() string {
	if t.spec.Header != "" {
		return t.spec.Header
	}
	return t.reported
}

func (t *token) validAt(now time.Time) bool {
	return t.state == StateValid && (t.expiresAt.IsZero() || now.Before(t.expiresAt))
}

const (
	defaultRefreshTimeout = 30 * time.Second
	defaultJWTLeeway      = 5 * time.Second
)

// Refresher is the process-wide credential state shared by every sequence.
// Reads are concurrent; at most one refresh per tag is in flight and every
// caller waiting on that tag shares its outcome.
type Refresher struct {
	provider       Provider
	logger         *zap.Logger
	now            func() time.Time
	refreshTimeout time.Duration
	jwtLeeway      time.Duration

	mu     sync.RWMutex
	tokens map[string]*token
	group  singleflight.Group

	refreshes atomic.Int64
}

// Option customizes a Refresher.
type Option func(*Refresher)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }

// WithRefreshTimeout bounds each provider call.
func WithRefreshTimeout(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.refreshTimeout = d
		}
	}
}

// WithJWTLeeway sets how long before a JWT's exp claim the value is treated as expired.
func WithJWTLeeway(d time.Duration) Option { return func(r *Refresher) { r.jwtLeeway = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Refresher) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRefresher creates a Refresher backed by provider.
func NewRefresher(provider Provider, opts ...Option) (*Refresher, error) {
	if provider == nil {
		return nil, errors.New("credential provider cannot be nil")
	}
	r := &Refresher{
		provider:       provider,
		logger:         zap.NewNop(),
		now:            time.Now,
		refreshTimeout: defaultRefreshTimeout,
		jwtLeeway:      defaultJWTLeeway,
		tokens:         make(map[string]*token),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("token_refresher")
	return r, nil
}

// Configure registers tag. Reconfiguring a tag resets it to Uninitialized.
func (r *Refresher) Configure(tag string, spec TokenSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tag] = &token{spec: spec, state: StateUninitialized}
}

// Tags returns the configured tags.
func (r *Refresher) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.tokens))
	for tag := range r.tokens {
		tags = append(tags, tag)
	}
	return tags
}

// State reports the current state of tag, accounting for TTL expiry.
func (r *Refresher) State(tag string) (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[tag]
	if !ok {
		return StateUninitialized, fmt.Errorf("%w: tag %q", ErrMissingCredential, tag)
	}
	if t.state == StateValid && !t.validAt(r.now()) {
		return StateExpired, nil
	}
	return t.state, nil
}

// Refreshes returns how many provider refreshes have succeeded.
func (r *Refresher) Refreshes() int64 { return r.refreshes.Load() }

// Credential implements the render-time lookup: it returns the header name and the
// current value for tag, blocking on a refresh when the value is missing or expired.
func (r *Refresher) Credential(ctx context.Context, tag string) (string, string, error) {
	r.mu.RLock()
	t, ok := r.tokens[tag]
	if !ok {
		r.mu.RUnlock()
		return "", "", fmt.Errorf("%w: tag %q", ErrMissingCredential, tag)
	}
	if t.validAt(r.now()) {
		header, value := t.header(), t.value
		r.mu.RUnlock()
		return header, value, nil
	}
	r.mu.RUnlock()

	return r.refresh(ctx, tag)
}

// Token returns just the current value for tag.
func (r *Refresher) Token(ctx context.Context, tag string) (string, error) {
	_, value, err := r.Credential(ctx, tag)
	return value, err
}

// Invalidate marks tag Expired, e.g. after the server rejected it.
func (r *Refresher) Invalidate(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[tag]; ok && t.state == StateValid {
		t.state = StateExpired
		r.logger.Info("Token invalidated", zap.String("tag", tag))
	}
}

// Close discards all credential state.
func (r *Refresher) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag := range r.tokens {
		r.group.Forget(tag)
	}
	r.tokens = make(map[string]*token)
}

type credential struct {
	header string
	value  string
}

func (r *Refresher) refresh(ctx context.Context, tag string) (string, string, error) {
	ch := r.group.DoChan(tag, func() (interface{}, error) {
		return r.doRefresh(tag)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", "", res.Err
		}
		c := res.Val.(credential)
		return c.header, c.value, nil
	case <-ctx.Done():
		return "", "", &TokenRefreshError{Tag: tag, Err: ctx.Err()}
	}
}

// doRefresh runs inside the single flight for tag.
func (r *Refresher) doRefresh(tag string) (credential, error) {
	r.mu.RLock()
	t, ok := r.tokens[tag]
	if !ok {
		r.mu.RUnlock()
		return credential{}, fmt.Errorf("%w: tag %q", ErrMissingCredential, tag)
	}
	// A refresh that finished between the caller's check and this flight is reused.
	if t.validAt(r.now()) {
		c := credential{header: t.header(), value: t.value}
		r.mu.RUnlock()
		return c, nil
	}
	spec := t.spec
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.refreshTimeout)
	defer cancel()

	start := r.now()
	reported, value, err := r.callProvider(ctx, tag)
	if err == nil && strings.TrimSpace(value) == "" {
		err = errors.New("provider returned an empty token")
	}
	if err != nil {
		r.mu.Lock()
		// The tag stays unusable until a later refresh succeeds.
		if cur, ok := r.tokens[tag]; ok {
			cur.state = StateExpired
		}
		r.mu.Unlock()
		r.logger.Error("Token refresh failed", zap.String("tag", tag), zap.Error(err))
		return credential{}, &TokenRefreshError{Tag: tag, Err: err}
	}

	now := r.now()
	expiresAt := time.Time{}
	if spec.TTL > 0 {
		expiresAt = now.Add(spec.TTL)
	}
	if exp, ok := jwtExpiry(value); ok {
		exp = exp.Add(-r.jwtLeeway)
		if expiresAt.IsZero() || exp.Before(expiresAt) {
			expiresAt = exp
		}
	}

	r.mu.Lock()
	cur, ok := r.tokens[tag]
	if !ok {
		// Torn down while the refresh was in flight.
		r.mu.Unlock()
		return credential{}, &TokenRefreshError{Tag: tag, Err: errors.New("refresher closed")}
	}
	cur.value = value
	cur.reported = reported
	cur.refreshedAt = now
	cur.expiresAt = expiresAt
	cur.state = StateValid
	c := credential{header: cur.header(), value: value}
	r.mu.Unlock()

	r.refreshes.Add(1)
	r.logger.Debug("Token refreshed",
		zap.String("tag", tag),
		zap.Duration("took", now.Sub(start)),
		zap.Time("expires_at", expiresAt),
	)
	return c, nil
}

// callProvider bounds the provider call even if it ignores ctx.
func (r *Refresher) callProvider(ctx context.Context, tag string) (string, string, error) {
	type result struct {
		header string
		value  string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		if hp, ok := r.provider.(HeaderProvider); ok {
			res.header, res.value, res.err = hp.RefreshCredential(ctx, tag)
		} else {
			res.value, res.err = r.provider.Refresh(ctx, tag)
		}
		done <- res
	}()
	select {
	case res := <-done:
		return res.header, res.value, res.err
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

var parserUnverified = jwt.NewParser()

// jwtExpiry reads the exp claim of a JWT value, optionally prefixed with a scheme like "bearer ".
func jwtExpiry(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if scheme, rest, found := strings.Cut(raw, " "); found && !strings.Contains(scheme, ".") {
		raw = strings.TrimSpace(rest)
	}
	if strings.Count(raw, ".") != 2 {
		return time.Time{}, false
	}
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
