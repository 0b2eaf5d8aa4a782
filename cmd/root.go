// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/restfuzz/internal/config"
	"github.com/xkilldash9x/restfuzz/internal/observability"
)

type contextKey string

const configKey contextKey = "restfuzz.config"

// flagBindings maps command line flags onto their viper keys. A flag only
// overrides the config file and environment when it is set explicitly.
var flagBindings = map[string]string{
	"grammar":      "grammar.file",
	"base-path":    "grammar.base_path",
	"log-level":    "logger.level",
	"workers":      "engine.worker_concurrency",
	"iterations":   "engine.iterations",
	"host":         "network.host",
	"port":         "network.port",
	"tls":          "network.use_tls",
	"insecure":     "network.ignore_tls_errors",
	"proxy":        "network.proxy",
	"rate":         "network.rate_limit",
	"database-url": "database.url",
}

// NewRootCommand builds a fresh command tree. Each call returns an
// independent instance, so flags never leak between executions.
func NewRootCommand() *cobra.Command {
	return newRootCommand(NewStoreProvider())
}

func newRootCommand(stores storeProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "restfuzz",
		Short:         "restfuzz renders and executes stateful request sequences against a REST API.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "restfuzz"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "restfuzz"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting restfuzz",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()),
			)

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./restfuzz.yaml, then ~/.restfuzz/restfuzz.yaml)")
	rootCmd.PersistentFlags().StringP("grammar", "g", "", "request grammar file (default is the built-in package registry grammar)")
	rootCmd.PersistentFlags().String("base-path", "", "value rendered by base path primitives (overrides the grammar's own)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	rootCmd.AddCommand(
		newRenderCmd(),
		newPlanCmd(),
		newExportCmd(),
		newRunCmd(stores),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree under ctx, which main ties to SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger := observability.GetLogger()
		if errors.Is(err, context.Canceled) {
			logger.Warn("Command aborted by signal")
		} else {
			logger.Error("Command execution failed", zap.Error(err))
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
		observability.Sync()
		return err
	}
	observability.Sync()
	return nil
}

// initializeConfig reads the config file, binds RESTFUZZ_* environment
// variables and any explicitly set flags.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".restfuzz"))
		}
		v.SetConfigName("restfuzz")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RESTFUZZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit --config must exist; the search path may come up empty.
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagBindings {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// configFrom returns the configuration PersistentPreRunE stored on the command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
			return cfg, nil
		}
	}
	return nil, errors.New("configuration was not loaded")
}

// expandPath resolves a leading ~ in user supplied paths.
func expandPath(p string) string {
	if expanded, err := homedir.Expand(p); err == nil {
		return expanded
	}
	return p
}
