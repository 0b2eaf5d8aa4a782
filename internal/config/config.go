// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Engine() EngineConfig
	Network() NetworkConfig
	Auth() AuthConfig
	Grammar() GrammarConfig
}

// Config holds the entire application configuration.
// Access goes through the Interface getters; the exported fields exist for viper.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	NetworkCfg  NetworkConfig  `mapstructure:"network" yaml:"network"`
	AuthCfg     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	GrammarCfg  GrammarConfig  `mapstructure:"grammar" yaml:"grammar"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Network() NetworkConfig   { return c.NetworkCfg }
func (c *Config) Auth() AuthConfig         { return c.AuthCfg }
func (c *Config) Grammar() GrammarConfig   { return c.GrammarCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the result store connection details. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// EngineConfig configures sequence execution.
type EngineConfig struct {
	QueueSize         int `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
	// RenderTimeout bounds a single request render, token refresh included. It must
	// exceed auth.refresh_timeout so a slow refresh is reported as a refresh failure.
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
	// SequenceTimeout bounds a whole sequence; zero means no limit.
	SequenceTimeout time.Duration `mapstructure:"sequence_timeout" yaml:"sequence_timeout"`
	// Iterations is how many times each sequence is executed per run.
	Iterations int `mapstructure:"iterations" yaml:"iterations"`
}

// NetworkConfig describes the service under test and how to reach it.
type NetworkConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	UseTLS           bool          `mapstructure:"use_tls" yaml:"use_tls"`
	IgnoreTLSErrors  bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit        float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst            int           `mapstructure:"burst" yaml:"burst"`
	Proxy            string        `mapstructure:"proxy" yaml:"proxy"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes" yaml:"max_response_bytes"`
}

// AuthConfig configures the token refresher and its credential sources.
type AuthConfig struct {
	RefreshTimeout time.Duration          `mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
	Tokens         map[string]TokenConfig `mapstructure:"tokens" yaml:"tokens"`
}

// TokenConfig is one credential tag. Exactly one of Command or Value supplies it.
type TokenConfig struct {
	TTL    time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Header string        `mapstructure:"header" yaml:"header"`
	// Command is run on every refresh; its output carries "Name: value" lines.
	Command []string `mapstructure:"command" yaml:"command"`
	Value   string   `mapstructure:"value" yaml:"-"`
}

// GrammarConfig selects the request grammar. An empty File selects the
// built-in package registry grammar.
type GrammarConfig struct {
	File     string `mapstructure:"file" yaml:"file"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "restfuzz")
	v.SetDefault("logger.log_file", "restfuzz.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.queue_size", 256)
	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.render_timeout", "45s")
	v.SetDefault("engine.sequence_timeout", "5m")
	v.SetDefault("engine.iterations", 1)

	// -- Network --
	v.SetDefault("network.host", "localhost")
	v.SetDefault("network.port", 80)
	v.SetDefault("network.use_tls", false)
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.rate_limit", 0.0)
	v.SetDefault("network.burst", 1)
	v.SetDefault("network.max_response_bytes", 16<<20)

	// -- Auth --
	v.SetDefault("auth.refresh_timeout", "30s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "RESTFUZZ_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if c.EngineCfg.QueueSize < 0 {
		return fmt.Errorf("engine.queue_size cannot be negative")
	}
	if c.EngineCfg.Iterations <= 0 {
		return fmt.Errorf("engine.iterations must be a positive integer")
	}
	if c.EngineCfg.RenderTimeout <= 0 {
		return fmt.Errorf("engine.render_timeout must be a positive duration")
	}
	if err := c.NetworkCfg.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.AuthCfg.Validate(); err != nil {
		return fmt.Errorf("auth configuration invalid: %w", err)
	}
	if c.EngineCfg.RenderTimeout <= c.AuthCfg.RefreshTimeout {
		return fmt.Errorf("engine.render_timeout (%s) must be longer than auth.refresh_timeout (%s)",
			c.EngineCfg.RenderTimeout, c.AuthCfg.RefreshTimeout)
	}
	return nil
}

// Validate checks the target and transport settings.
func (n *NetworkConfig) Validate() error {
	if n.Host == "" {
		return fmt.Errorf("host is required")
	}
	if n.Port <= 0 || n.Port > 65535 {
		return fmt.Errorf("port %d is out of range", n.Port)
	}
	if n.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if n.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if n.Proxy != "" {
		u, err := url.Parse(n.Proxy)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return fmt.Errorf("proxy scheme %q is not supported, use socks5", u.Scheme)
		}
	}
	return nil
}

// Validate checks every configured token.
func (a *AuthConfig) Validate() error {
	if a.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh_timeout must be a positive duration")
	}
	for tag, tok := range a.Tokens {
		hasCommand := len(tok.Command) > 0
		hasValue := tok.Value != ""
		if hasCommand == hasValue {
			return fmt.Errorf("token %q needs exactly one of command or value", tag)
		}
		if tok.TTL < 0 {
			return fmt.Errorf("token %q ttl cannot be negative", tag)
		}
	}
	return nil
}
