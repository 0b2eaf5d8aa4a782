// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/api/schemas"
	"github.com/xkilldash9x/restfuzz/internal/dependencies"
	"github.com/xkilldash9x/restfuzz/internal/engine"
	"github.com/xkilldash9x/restfuzz/internal/observability"
	"github.com/xkilldash9x/restfuzz/internal/requests"
	"github.com/xkilldash9x/restfuzz/internal/results"
	"github.com/xkilldash9x/restfuzz/internal/results/providers"
)

// newRunCmd creates the command that executes request sequences against the
// configured target.
func newRunCmd(provider storeProvider) *cobra.Command {
	var (
		targets    []string
		reportPath string
		migrate    bool
		walk       bool
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute request sequences against the target service",
		Long: `Run builds one sequence per request, prefixed by the producers whose values it
consumes, and executes every sequence against the target. Requests caught in a
dependency cycle are reported as aborted and never sent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the context passed from main.go (signal-aware).
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			// 1. Grammar and dependency plan
			c, err := loadCollection(cfg)
			if err != nil {
				return err
			}
			resolver, err := dependencies.NewResolver(c, logger)
			if err != nil {
				return err
			}
			for _, cycle := range resolver.Plan().Cycles {
				logger.Warn("Dependency cycle isolated", zap.Strings("members", keyStrings(cycle.Members)))
			}

			keys := make([]requests.Key, len(targets))
			for i, t := range targets {
				keys[i] = requests.Key(t)
			}
			seqs, aborted, err := engine.BuildSequences(resolver, keys, cfg.Engine().Iterations)
			if err != nil {
				return err
			}

			// 2. Result sinks
			collector := results.NewCollector()
			reporters := results.Multi{results.NewLogReporter(logger), collector}
			if cfg.Database().URL != "" {
				dbReporter, cleanup, err := provider.Create(ctx, cfg, migrate)
				if err != nil {
					return err
				}
				defer cleanup()
				reporters = append(reporters, dbReporter)
			}

			// 3. Execution components
			refresher, err := newRefresher(cfg, logger, nil, nil)
			if err != nil {
				return err
			}
			defer refresher.Close()

			transport, err := newTransport(cfg, logger)
			if err != nil {
				return err
			}

			opts := []engine.ExecutorOption{
				engine.WithInvalidator(refresher),
				engine.WithExchangeTimeout(cfg.Network().Timeout),
				engine.WithExecutorLogger(logger),
			}
			if walk {
				opts = append(opts, engine.WithStrategy(engine.NewExampleWalk(c)))
			}
			executor, err := engine.NewExecutor(c, resolver, newRenderer(cfg, c, refresher, logger), transport, reporters, opts...)
			if err != nil {
				return err
			}
			taskEngine, err := engine.New(cfg, logger, executor, engine.WithReporter(reporters))
			if err != nil {
				return err
			}

			logger.Info("Starting run",
				zap.String("target", transport.Addr()),
				zap.Int("sequences", len(seqs)),
				zap.Int("aborted", len(aborted)),
				zap.Int("workers", cfg.Engine().WorkerConcurrency),
			)

			// 4. Report what can never run, then run the rest.
			reportAborted(reporters, aborted, logger)
			start := time.Now()
			executed := taskEngine.Run(ctx, seqs)

			// 5. Summary
			all := append(append([]schemas.SequenceResult(nil), aborted...), executed...)
			report := results.Summarize(all, providers.NewInMemoryHintProvider())
			printSummary(cmd, report, time.Since(start))
			logger.Info("Run finished",
				zap.Int("sequences", report.Sequences),
				zap.Int("requests", report.Requests),
				zap.Int64("token_refreshes", refresher.Refreshes()),
			)

			if reportPath != "" {
				raw, err := report.ToJSON()
				if err != nil {
					return fmt.Errorf("failed to encode report: %w", err)
				}
				if err := os.WriteFile(expandPath(reportPath), raw, 0o644); err != nil {
					return fmt.Errorf("failed to write report: %w", err)
				}
				logger.Info("Report written", zap.String("path", reportPath))
			}

			if err := ctx.Err(); err != nil {
				logger.Warn("Run aborted gracefully", zap.Int("completed", report.ByStatus[schemas.SequenceCompleted]))
				return err
			}
			return nil
		},
	}

	runCmd.Flags().StringSliceVarP(&targets, "target", "t", nil, `request to run, e.g. "GET /package/{id}" (repeatable; default all)`)
	runCmd.Flags().StringVarP(&reportPath, "output", "o", "", "write the JSON run summary to this file")
	runCmd.Flags().BoolVar(&migrate, "migrate", false, "create the result tables before running")
	runCmd.Flags().BoolVar(&walk, "walk-examples", true, "bind fuzzable strings to their examples, one per iteration")

	// Configuration override flags.
	runCmd.Flags().IntP("workers", "j", 0, "Number of concurrent sequence workers. (Overrides config/env)")
	runCmd.Flags().IntP("iterations", "n", 0, "Executions per sequence. (Overrides config/env)")
	runCmd.Flags().String("host", "", "Target host. (Overrides config/env)")
	runCmd.Flags().IntP("port", "p", 0, "Target port. (Overrides config/env)")
	runCmd.Flags().Bool("tls", false, "Connect with TLS. (Overrides config/env)")
	runCmd.Flags().Bool("insecure", false, "Skip TLS certificate verification. (Overrides config/env)")
	runCmd.Flags().String("proxy", "", "socks5:// proxy URL. (Overrides config/env)")
	runCmd.Flags().Float64("rate", 0, "Requests per second across all workers, 0 for unlimited. (Overrides config/env)")
	runCmd.Flags().String("database-url", "", "PostgreSQL URL for result persistence. (Overrides config/env)")

	return runCmd
}

func reportAborted(r engine.Reporter, aborted []schemas.SequenceResult, logger *zap.Logger) {
	if len(aborted) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, res := range aborted {
		if err := r.ReportSequence(ctx, res); err != nil {
			logger.Error("Failed to report aborted sequence", zap.String("sequence_id", res.SequenceID), zap.Error(err))
		}
	}
}

func printSummary(cmd *cobra.Command, report *results.Report, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nRun complete in %s: %d sequences, %d requests\n", elapsed.Round(time.Millisecond), report.Sequences, report.Requests)
	for _, status := range []schemas.SequenceStatus{schemas.SequenceCompleted, schemas.SequenceAborted, schemas.SequenceCancelled} {
		fmt.Fprintf(out, "  %-10s %d\n", status, report.ByStatus[status])
	}
	if len(report.Failures) == 0 {
		return
	}
	fmt.Fprintln(out, "\nFailures:")
	for _, ks := range report.Failures {
		sev := "soft"
		if ks.Hard {
			sev = "hard"
		}
		fmt.Fprintf(out, "  %-22s %4d  %s  %s\n", ks.Kind, ks.Count, sev, strings.TrimSpace(ks.Hint))
	}
}
