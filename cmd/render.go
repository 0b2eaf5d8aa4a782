// File: cmd/render.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/internal/auth"
	"github.com/xkilldash9x/restfuzz/internal/observability"
	"github.com/xkilldash9x/restfuzz/internal/render"
	"github.com/xkilldash9x/restfuzz/internal/requests"
)

// newRenderCmd prints requests rendered with every primitive at its default.
func newRenderCmd() *cobra.Command {
	var placeholders bool

	cmd := &cobra.Command{
		Use:   "render [request...]",
		Short: "Print requests rendered with default values",
		Long: `Render prints the exact bytes restfuzz would send for each request, every
fuzzable primitive at its default. Requests are named "METHOD id", for example
"GET /package/{id}". With no arguments every request in the grammar is rendered.

Requests that consume values from other responses cannot be rendered on their
own and are reported as errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			c, err := loadCollection(cfg)
			if err != nil {
				return err
			}
			keys := c.Keys()
			if len(args) > 0 {
				keys = make([]requests.Key, len(args))
				for i, a := range args {
					keys[i] = requests.Key(a)
				}
			}

			var fallback auth.Provider
			if placeholders {
				fallback = auth.ProviderFunc(func(_ context.Context, tag string) (string, error) {
					return "<" + tag + ">", nil
				})
			}
			refresher, err := newRefresher(cfg, logger, fallback, collectionTags(c))
			if err != nil {
				return err
			}
			defer refresher.Close()
			renderer := newRenderer(cfg, c, refresher, logger)

			out := cmd.OutOrStdout()
			var errs error
			for _, key := range keys {
				req, err := c.Get(key)
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				raw, err := renderer.Render(cmd.Context(), req, render.NewContext(), nil)
				if err != nil {
					logger.Warn("Failed to render request", zap.String("request", string(key)), zap.Error(err))
					errs = multierr.Append(errs, fmt.Errorf("%s: %w", key, err))
					continue
				}
				fmt.Fprintf(out, "### %s\n%s\n", key, raw)
			}
			return errs
		},
	}

	cmd.Flags().BoolVar(&placeholders, "placeholder-tokens", false, "render unconfigured credential tags as <tag> instead of failing")
	return cmd
}
