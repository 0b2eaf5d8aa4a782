// File: internal/auth/refresher_test.go
package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// -- Test Helpers --

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingProvider returns "token-N" for the N-th call.
type countingProvider struct {
	calls atomic.Int64
	gate  chan struct{}
	err   error
}

func (p *countingProvider) Refresh(ctx context.Context, _ string) (string, error) {
	n := p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.err != nil {
		return "", p.err
	}
	return "token-" + string(rune('0'+n)), nil
}

func newRefresher(t *testing.T, p Provider, opts ...Option) *Refresher {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	r, err := NewRefresher(p, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

// -- Test Cases --

func TestNewRefresher_NilProvider(t *testing.T) {
	_, err := NewRefresher(nil)
	assert.Error(t, err)
}

func TestRefresher_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	p := &countingProvider{}
	r := newRefresher(t, p, WithClock(clock.Now))
	r.Configure("auth", TokenSpec{TTL: time.Minute, Header: "X-Authorization"})

	state, err := r.State("auth")
	require.NoError(t, err)
	assert.Equal(t, StateUninitialized, state)

	header, value, err := r.Credential(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "X-Authorization", header)
	assert.Equal(t, "token-1", value)

	state, _ = r.State("auth")
	assert.Equal(t, StateValid, state)

	// Reads while valid do not refresh.
	value, err = r.Token(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "token-1", value)
	assert.Equal(t, int64(1), p.calls.Load())

	clock.Advance(2 * time.Minute)
	state, _ = r.State("auth")
	assert.Equal(t, StateExpired, state)

	value, err = r.Token(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "token-2", value)
	assert.Equal(t, int64(2), r.Refreshes())
}

func TestRefresher_Invalidate(t *testing.T) {
	p := &countingProvider{}
	r := newRefresher(t, p)
	r.Configure("auth", TokenSpec{})

	_, err := r.Token(context.Background(), "auth")
	require.NoError(t, err)

	r.Invalidate("auth")
	state, _ := r.State("auth")
	assert.Equal(t, StateExpired, state)

	value, err := r.Token(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "token-2", value)

	// Unknown tags are ignored.
	r.Invalidate("nope")
}

func TestRefresher_MissingCredential(t *testing.T) {
	r := newRefresher(t, &countingProvider{})
	_, _, err := r.Credential(context.Background(), "never-configured")
	assert.ErrorIs(t, err, ErrMissingCredential)

	_, err = r.State("never-configured")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestRefresher_ConcurrentExpiredTagRefreshesOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := &countingProvider{gate: make(chan struct{})}
	r, err := NewRefresher(p)
	require.NoError(t, err)
	defer r.Close()
	r.Configure("auth", TokenSpec{Header: "X-Authorization"})

	const callers = 32
	var wg sync.WaitGroup
	values := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = r.Token(context.Background(), "auth")
		}(i)
	}

	// Let the callers pile up on the in-flight refresh, then release it.
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(p.gate)
	wg.Wait()

	assert.Equal(t, int64(1), p.calls.Load(), "a burst of callers must trigger exactly one refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "token-1", values[i])
	}
}

func TestRefresher_FailedRefreshReachesEveryWaiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	sentinel := errors.New("auth server down")
	p := &countingProvider{gate: make(chan struct{}), err: sentinel}
	r, err := NewRefresher(p)
	require.NoError(t, err)
	defer r.Close()
	r.Configure("auth", TokenSpec{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Token(context.Background(), "auth")
		}(i)
	}
	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(p.gate)
	wg.Wait()

	for _, err := range errs {
		var refreshErr *TokenRefreshError
		require.ErrorAs(t, err, &refreshErr)
		assert.Equal(t, "auth", refreshErr.Tag)
		assert.ErrorIs(t, err, sentinel)
	}
	state, _ := r.State("auth")
	assert.Equal(t, StateExpired, state, "a failed first refresh leaves the tag expired")
}

func TestRefresher_RefreshTimeout(t *testing.T) {
	hang := ProviderFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := newRefresher(t, hang, WithRefreshTimeout(20*time.Millisecond))
	r.Configure("auth", TokenSpec{})

	_, err := r.Token(context.Background(), "auth")
	var refreshErr *TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRefresher_CallerCancellation(t *testing.T) {
	p := &countingProvider{gate: make(chan struct{})}
	r := newRefresher(t, p)
	r.Configure("auth", TokenSpec{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Token(ctx, "auth")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The shared refresh still completes for later callers.
	close(p.gate)
	value, err := r.Token(context.Background(), "auth")
	require.NoError(t, err)
	assert.Equal(t, "token-1", value)
}

func TestRefresher_EmptyTokenIsAFailure(t *testing.T) {
	r := newRefresher(t, NewStaticProvider(map[string]string{"auth": "  "}))
	r.Configure("auth", TokenSpec{})
	_, err := r.Token(context.Background(), "auth")
	var refreshErr *TokenRefreshError
	assert.ErrorAs(t, err, &refreshErr)
}

func TestRefresher_JWTExpiry(t *testing.T) {
	clock := newFakeClock()
	exp := clock.Now().Add(30 * time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	provider := NewStaticProvider(map[string]string{"auth": "bearer " + signed})
	r := newRefresher(t, provider, WithClock(clock.Now), WithJWTLeeway(5*time.Second))
	r.Configure("auth", TokenSpec{TTL: time.Hour})

	_, err = r.Token(context.Background(), "auth")
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	state, _ := r.State("auth")
	assert.Equal(t, StateValid, state)

	// The exp claim, less leeway, wins over the longer TTL.
	clock.Advance(6 * time.Second)
	state, _ = r.State("auth")
	assert.Equal(t, StateExpired, state)
}

func TestJWTExpiry(t *testing.T) {
	_, ok := jwtExpiry("opaque-token")
	assert.False(t, ok)
	_, ok = jwtExpiry("bearer a.b.c")
	assert.False(t, ok, "malformed segments are not a JWT")

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, ok = jwtExpiry(signed)
	assert.False(t, ok, "no exp claim")
}

func TestRefresher_CloseDiscardsState(t *testing.T) {
	r := newRefresher(t, &countingProvider{})
	r.Configure("auth", TokenSpec{})
	_, err := r.Token(context.Background(), "auth")
	require.NoError(t, err)
	assert.Len(t, r.Tags(), 1)

	r.Close()
	assert.Empty(t, r.Tags())
	_, err = r.Token(context.Background(), "auth")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

type headerProvider struct{ header string }

func (p headerProvider) Refresh(ctx context.Context, tag string) (string, error) {
	_, v, err := p.RefreshCredential(ctx, tag)
	return v, err
}

func (p headerProvider) RefreshCredential(context.Context, string) (string, string, error) {
	return p.header, "bearer abc", nil
}

func TestRefresher_ProviderReportedHeader(t *testing.T) {
	r := newRefresher(t, headerProvider{header: "X-Authorization"})
	r.Configure("reported", TokenSpec{})
	r.Configure("configured", TokenSpec{Header: "Authorization"})

	header, value, err := r.Credential(context.Background(), "reported")
	require.NoError(t, err)
	assert.Equal(t, "X-Authorization", header)
	assert.Equal(t, "bearer abc", value)

	// Served from state on the second call.
	header, _, err = r.Credential(context.Background(), "reported")
	require.NoError(t, err)
	assert.Equal(t, "X-Authorization", header)

	header, _, err = r.Credential(context.Background(), "configured")
	require.NoError(t, err)
	assert.Equal(t, "Authorization", header, "a configured header wins")
}
