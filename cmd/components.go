// File: cmd/components.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/internal/auth"
	"github.com/xkilldash9x/restfuzz/internal/config"
	"github.com/xkilldash9x/restfuzz/internal/grammar"
	"github.com/xkilldash9x/restfuzz/internal/network"
	"github.com/xkilldash9x/restfuzz/internal/observability"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
	"github.com/xkilldash9x/restfuzz/internal/results"
	"github.com/xkilldash9x/restfuzz/internal/store"
)

// loadCollection loads the configured grammar file, or the built-in package
// registry grammar when none is configured.
func loadCollection(cfg config.Interface) (*requests.Collection, error) {
	if file := cfg.Grammar().File; file != "" {
		c, err := grammar.LoadFile(expandPath(file))
		if err != nil {
			return nil, fmt.Errorf("failed to load grammar %s: %w", file, err)
		}
		return c, nil
	}
	return grammar.PackageRegistry()
}

// newRenderer builds a renderer over tokens. The configured base path wins
// over the one declared in the grammar.
func newRenderer(cfg config.Interface, c *requests.Collection, tokens render.TokenSource, logger *zap.Logger) *render.Renderer {
	opts := []render.Option{
		render.WithTimeout(cfg.Engine().RenderTimeout),
		render.WithLogger(logger),
	}
	if bp := cfg.Grammar().BasePath; bp != "" {
		opts = append(opts, render.WithBasePath(bp))
	} else if bp, ok := c.BasePath(); ok {
		opts = append(opts, render.WithBasePath(bp))
	}
	return render.New(tokens, opts...)
}

// newRefresher wires every configured token to a static or command provider.
// Tags in placeholders that no token configures are served by fallback.
func newRefresher(cfg config.Interface, logger *zap.Logger, fallback auth.Provider, placeholders []string) (*auth.Refresher, error) {
	tokens := cfg.Auth().Tokens
	static := make(map[string]string)
	commands := make(map[string][]string)
	for tag, tok := range tokens {
		if len(tok.Command) > 0 {
			commands[tag] = tok.Command
		} else {
			static[tag] = tok.Value
		}
	}

	staticProvider := auth.NewStaticProvider(static)
	commandProvider, err := auth.NewCommandProvider(commands, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure token commands: %w", err)
	}
	provider := &tokenRouter{
		commands: commandProvider,
		static:   staticProvider,
		fallback: fallback,
		cmdTags:  commands,
		values:   static,
	}

	refresher, err := auth.NewRefresher(provider,
		auth.WithRefreshTimeout(cfg.Auth().RefreshTimeout),
		auth.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	for tag, tok := range tokens {
		refresher.Configure(tag, auth.TokenSpec{TTL: tok.TTL, Header: tok.Header})
	}
	if fallback != nil {
		for _, tag := range placeholders {
			if _, ok := tokens[tag]; !ok {
				refresher.Configure(tag, auth.TokenSpec{})
			}
		}
	}
	return refresher, nil
}

// tokenRouter sends each tag to its command, its static value, or the
// fallback. Command tags keep the header name their script prints.
type tokenRouter struct {
	commands *auth.CommandProvider
	static   *auth.StaticProvider
	fallback auth.Provider
	cmdTags  map[string][]string
	values   map[string]string
}

func (p *tokenRouter) Refresh(ctx context.Context, tag string) (string, error) {
	_, value, err := p.RefreshCredential(ctx, tag)
	return value, err
}

func (p *tokenRouter) RefreshCredential(ctx context.Context, tag string) (string, string, error) {
	if _, ok := p.cmdTags[tag]; ok {
		return p.commands.RefreshCredential(ctx, tag)
	}
	var value string
	var err error
	if _, ok := p.values[tag]; ok || p.fallback == nil {
		value, err = p.static.Refresh(ctx, tag)
	} else {
		value, err = p.fallback.Refresh(ctx, tag)
	}
	return "", value, err
}

// collectionTags lists every credential tag the collection renders.
func collectionTags(c *requests.Collection) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, r := range c.All() {
		for _, tag := range r.Tags() {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

func newTransport(cfg config.Interface, logger *zap.Logger) (*network.RawTransport, error) {
	n := cfg.Network()
	return network.NewRawTransport(network.Config{
		Host:             n.Host,
		Port:             n.Port,
		UseTLS:           n.UseTLS,
		IgnoreTLSErrors:  n.IgnoreTLSErrors,
		Timeout:          n.Timeout,
		RateLimit:        n.RateLimit,
		Burst:            n.Burst,
		MaxResponseBytes: n.MaxResponseBytes,
		Proxy:            n.Proxy,
	}, logger)
}

// storeProvider creates the optional PostgreSQL result sink. It is an
// interface so tests can run the command without a database.
type storeProvider interface {
	// Create returns the reporter, a cleanup function releasing its resources,
	// and an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface, migrate bool) (results.Reporter, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the production provider backed by pgxpool.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, migrate bool) (results.Reporter, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (RESTFUZZ_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}
	if migrate {
		if err := storeService.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}
