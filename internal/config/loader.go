// Package config loads forllm.yaml through viper. Every key has a default,
// FORLLM_* environment variables override the file, and DATABASE_URL
// overrides database.url.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"forllm/internal/domain"
)

const (
	// DefaultPath is used when neither --config nor FORLLM_CONFIG is set.
	DefaultPath = "forllm.yaml"
	// PathEnv names the environment variable holding the config path.
	PathEnv   = "FORLLM_CONFIG"
	envPrefix = "FORLLM"
)

// yamlMarshal and writeFile are used by WriteDefault; tests may replace to force errors.
var (
	yamlMarshal = yaml.Marshal
	writeFile   = os.WriteFile
)

// Default returns the compiled-in configuration.
func Default() domain.Config {
	return domain.Config{
		Database: domain.DatabaseConfig{Driver: "libsql", URL: "file:forllm_data.db"},
		Ollama: domain.OllamaConfig{
			BaseURL:        "http://localhost:11434",
			ConnectTimeout: 300 * time.Second,
			ChunkTimeout:   300 * time.Second,
			ShowTimeout:    10 * time.Second,
		},
		Model:    domain.ModelConfig{Provider: "ollama", Default: "llama3"},
		Pipeline: domain.PipelineConfig{SafetyMargin: 0.9},
		Worker: domain.WorkerConfig{
			QueueSize:             256,
			IdleInterval:          10 * time.Second,
			OutsideWindowInterval: 60 * time.Second,
		},
		Breaker: domain.BreakerConfig{FailureThreshold: 3, Cooldown: 60 * time.Second},
		Retry: domain.RetryConfig{
			MaxRetries:     2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2,
		},
		Gateway: domain.GatewayConfig{Port: 5000},
		Infra:   domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("ollama.base_url", d.Ollama.BaseURL)
	v.SetDefault("ollama.connect_timeout", d.Ollama.ConnectTimeout)
	v.SetDefault("ollama.chunk_timeout", d.Ollama.ChunkTimeout)
	v.SetDefault("ollama.show_timeout", d.Ollama.ShowTimeout)
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.default", d.Model.Default)
	v.SetDefault("model.openai_base_url", "")
	v.SetDefault("model.openai_api_key", "")
	v.SetDefault("pipeline.safety_margin", d.Pipeline.SafetyMargin)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
	v.SetDefault("worker.idle_interval", d.Worker.IdleInterval)
	v.SetDefault("worker.outside_window_interval", d.Worker.OutsideWindowInterval)
	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.cooldown", d.Breaker.Cooldown)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.initial_backoff", d.Retry.InitialBackoff)
	v.SetDefault("retry.max_backoff", d.Retry.MaxBackoff)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("gateway.port", d.Gateway.Port)
	v.SetDefault("gateway.auth_token", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("infra.log_format", d.Infra.LogFormat)
	v.SetDefault("infra.log_level", d.Infra.LogLevel)
}

// Loader owns the viper instance behind a loaded config so it can be
// watched later.
type Loader struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewLoader returns a Loader for path. An empty path means DefaultPath.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Loader{v: v, path: path}
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// FileExists reports whether the config file is present.
func (l *Loader) FileExists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Load reads the file if it exists, applies the environment and validates
// the result. A missing file is not an error.
func (l *Loader) Load() (*domain.Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FileExists() {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config parse %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*domain.Config, error) {
	var cfg domain.Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reload re-reads the file and hands a valid result to onChange. An
// invalid file is logged and skipped.
func (l *Loader) Reload(logger *zap.Logger, onChange func(*domain.Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := l.Load()
	if err != nil {
		logger.Warn("config reload rejected", zap.String("path", l.path), zap.Error(err))
		return
	}
	logger.Info("config reloaded", zap.String("path", l.path))
	onChange(cfg)
}

// Load is NewLoader(path).Load().
func Load(path string) (*domain.Config, error) {
	return NewLoader(path).Load()
}

// Validate reports every invalid setting in cfg.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	switch strings.ToLower(cfg.Database.Driver) {
	case "", "libsql", "sqlite", "postgres", "postgresql", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of libsql, sqlite, postgres, memory", cfg.Database.Driver))
	}
	switch cfg.Model.Provider {
	case "", "ollama", "openai", "local":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of ollama, openai, local", cfg.Model.Provider))
	}
	if m := cfg.Pipeline.SafetyMargin; m <= 0 || m > 1 {
		errs = append(errs, fmt.Errorf("pipeline.safety_margin %v must be in (0, 1]", m))
	}
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d must be 0-65535", cfg.Gateway.Port))
	}
	if cfg.Worker.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("worker.queue_size %d must not be negative", cfg.Worker.QueueSize))
	}
	switch cfg.Infra.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("infra.log_format %q is not one of text, json", cfg.Infra.LogFormat))
	}
	return errors.Join(errs...)
}

// WriteDefault writes the default configuration to path as YAML. The
// parent directory must exist.
func WriteDefault(path string) error {
	data, err := yamlMarshal(Default())
	if err != nil {
		return fmt.Errorf("config encode: %w", err)
	}
	if err := writeFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config write %s: %w", path, err)
	}
	return nil
}
