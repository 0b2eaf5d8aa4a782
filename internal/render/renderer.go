// File: internal/render/renderer.go
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/internal/auth"
	"github.com/xkilldash9x/restfuzz/internal/primitives"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// Overrides binds fuzzable slots to concrete values for one render.
type Overrides map[requests.Slot]string

// For returns the per-index lookup Request.Render expects.
func (o Overrides) For(key requests.Key) func(int) *string {
	if len(o) == 0 {
		return nil
	}
	return func(i int) *string {
		v, ok := o[requests.Slot{Request: key, Index: i}]
		if !ok {
			return nil
		}
		return &v
	}
}

// TokenSource resolves credentials; *auth.Refresher implements it.
type TokenSource interface {
	Credential(ctx context.Context, tag string) (header, value string, err error)
}

// RenderTimeoutError is returned when a render outlives its budget, typically
// while waiting on a token refresh.
type RenderTimeoutError struct {
	Request requests.Key
	Timeout time.Duration
	Err     error
}

func (e *RenderTimeoutError) Error() string {
	return fmt.Sprintf("render of %s exceeded %s: %v", e.Request, e.Timeout, e.Err)
}

func (e *RenderTimeoutError) Unwrap() error { return e.Err }

const DefaultTimeout = 10 * time.Second

// Renderer turns requests into wire bytes. It never mutates the request and its
// only side effect is a token refresh triggered through the TokenSource.
type Renderer struct {
	tokens   TokenSource
	timeout  time.Duration
	basePath *string
	logger   *zap.Logger
}

type Option func(*Renderer)

// WithTimeout bounds each Render call. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(r *Renderer) { r.timeout = d } }

// WithBasePath overrides every BasePath primitive.
func WithBasePath(p string) Option { return func(r *Renderer) { r.basePath = &p } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Renderer. A nil TokenSource makes every token primitive fail
// with auth.ErrMissingCredential.
func New(tokens TokenSource, opts ...Option) *Renderer {
	r := &Renderer{
		tokens:  tokens,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("renderer")
	return r
}

// Render produces the bytes for req using values from rc and bound overrides.
func (r *Renderer) Render(ctx context.Context, req *requests.Request, rc *Context, overrides Overrides) ([]byte, error) {
	if req == nil {
		return nil, errors.New("cannot render a nil request")
	}

	renderCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	out, err := req.Render(renderCtx, overrides.For(req.Key()), &env{renderer: r, rc: rc})
	if err != nil {
		// Our own deadline fired, not the caller's.
		if ctx.Err() == nil && errors.Is(renderCtx.Err(), context.DeadlineExceeded) {
			return nil, &RenderTimeoutError{Request: req.Key(), Timeout: r.timeout, Err: err}
		}
		return nil, err
	}
	r.logger.Debug("Rendered request", zap.String("request", string(req.Key())), zap.Int("bytes", len(out)))
	return out, nil
}

// env adapts a Renderer and a sequence's Context to primitives.Env.
type env struct {
	renderer *Renderer
	rc       *Context
}

func (e *env) Value(source, path string) (string, bool) {
	return e.rc.Value(requests.Key(source), path)
}

func (e *env) Credential(ctx context.Context, tag string) (string, string, error) {
	if e.renderer.tokens == nil {
		return "", "", fmt.Errorf("%w: tag %q", auth.ErrMissingCredential, tag)
	}
	return e.renderer.tokens.Credential(ctx, tag)
}

func (e *env) BasePath() (string, bool) {
	if e.renderer.basePath == nil {
		return "", false
	}
	return *e.renderer.basePath, true
}

var _ primitives.Env = (*env)(nil)
