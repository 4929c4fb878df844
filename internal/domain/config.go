package domain

import "time"

// Config is the root of forllm.yaml.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Ollama   OllamaConfig   `mapstructure:"ollama" yaml:"ollama"`
	Model    ModelConfig    `mapstructure:"model" yaml:"model"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Breaker  BreakerConfig  `mapstructure:"breaker" yaml:"breaker"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Gateway  GatewayConfig  `mapstructure:"gateway" yaml:"gateway"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Infra    InfraConfig    `mapstructure:"infra" yaml:"infra"`
}

// DatabaseConfig selects the durable store. Driver is "libsql" (local file or
// Turso), "postgres" or "memory".
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	URL    string `mapstructure:"url" yaml:"url"`
}

// OllamaConfig holds the model-serving endpoint and its timeouts.
type OllamaConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ChunkTimeout   time.Duration `mapstructure:"chunk_timeout" yaml:"chunk_timeout"`
	ShowTimeout    time.Duration `mapstructure:"show_timeout" yaml:"show_timeout"`
}

// ModelConfig selects the provider behind the model client.
type ModelConfig struct {
	Provider      string `mapstructure:"provider" yaml:"provider"` // ollama, openai or local
	Default       string `mapstructure:"default" yaml:"default"`
	OpenAIBaseURL string `mapstructure:"openai_base_url" yaml:"openai_base_url"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key" yaml:"openai_api_key"`
}

// PipelineConfig holds prompt budgeting knobs.
type PipelineConfig struct {
	SafetyMargin float64 `mapstructure:"safety_margin" yaml:"safety_margin"`
}

// WorkerConfig holds scheduler loop timings.
type WorkerConfig struct {
	QueueSize             int           `mapstructure:"queue_size" yaml:"queue_size"`
	IdleInterval          time.Duration `mapstructure:"idle_interval" yaml:"idle_interval"`
	OutsideWindowInterval time.Duration `mapstructure:"outside_window_interval" yaml:"outside_window_interval"`
}

// BreakerConfig controls when the stub responder takes over.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// RetryConfig controls retries of transient model errors.
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// GatewayConfig is the HTTP enqueue surface.
type GatewayConfig struct {
	Port      int    `mapstructure:"port" yaml:"port"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// TelegramConfig enables job notifications when both fields are set.
type TelegramConfig struct {
	Token  string `mapstructure:"token" yaml:"token"`
	ChatID int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// InfraConfig holds logging settings.
type InfraConfig struct {
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // "json" or "text"
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
}
