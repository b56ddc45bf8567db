package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Model         ModelConfig         `mapstructure:"model"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Context       ContextConfig       `mapstructure:"context"`
	Report        ReportConfig        `mapstructure:"report"`
	Log           LogConfig           `mapstructure:"log"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // local | prod
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"` // empty runs on the in-memory store
	MigrationsPath string `mapstructure:"migrations_path"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type ModelConfig struct {
	APIKey            string        `mapstructure:"api_key"` // empty means every agent runs offline
	Name              string        `mapstructure:"name"`
	BaseURL           string        `mapstructure:"base_url"`
	Temperature       float32       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute"`
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
}

type TranscriptionConfig struct {
	Model string `mapstructure:"model"`
}

type OrchestratorConfig struct {
	Concurrent     bool          `mapstructure:"concurrent"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	CannedNote     bool          `mapstructure:"canned_note"` // demo mode
	Retry          RetryConfig   `mapstructure:"retry"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type RetryConfig struct {
	Attempts       int           `mapstructure:"attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type ContextConfig struct {
	RecordLimit    int `mapstructure:"record_limit"`
	DataPairs      int `mapstructure:"data_pairs"`
	NarrativeChars int `mapstructure:"narrative_chars"`
}

type ReportConfig struct {
	FontPath        string `mapstructure:"font_path"`
	TelegramToken   string `mapstructure:"telegram_token"` // empty disables delivery
	TelegramBaseURL string `mapstructure:"telegram_base_url"`
	DoctorChatID    int64  `mapstructure:"doctor_chat_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// legacy env names still honoured alongside COUNCIL_*
var envAliases = map[string]string{
	"model.api_key":         "OPENAI_API_KEY",
	"model.name":            "MODEL_NAME",
	"model.base_url":        "OPENAI_BASE_URL",
	"database.url":          "DATABASE_URL",
	"storage.path":          "STORAGE_PATH",
	"transcription.model":   "TRANSCRIPTION_MODEL",
	"server.port":           "PORT",
	"app.environment":       "ENVIRONMENT",
	"report.telegram_token": "TELEGRAM_BOT_TOKEN",
	"report.doctor_chat_id": "DOCTOR_CHAT_ID",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Pocket Council Backend")
	v.SetDefault("app.environment", "local")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.connect_retries", 10)
	v.SetDefault("storage.path", "storage/uploads")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", "gpt-4o-mini")
	v.SetDefault("model.base_url", "")
	v.SetDefault("model.temperature", 0.1)
	v.SetDefault("model.timeout", "30s")
	v.SetDefault("model.requests_per_minute", 0)
	v.SetDefault("model.max_concurrent", 0)
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("orchestrator.concurrent", false)
	v.SetDefault("orchestrator.max_parallel", 0)
	v.SetDefault("orchestrator.canned_note", false)
	v.SetDefault("orchestrator.retry.attempts", 3)
	v.SetDefault("orchestrator.retry.initial_backoff", "1s")
	v.SetDefault("orchestrator.retry.max_backoff", "6s")
	v.SetDefault("orchestrator.attempt_timeout", "30s")
	v.SetDefault("context.record_limit", 5)
	v.SetDefault("context.data_pairs", 3)
	v.SetDefault("context.narrative_chars", 120)
	v.SetDefault("report.font_path", "")
	v.SetDefault("report.telegram_token", "")
	v.SetDefault("report.telegram_base_url", "")
	v.SetDefault("report.doctor_chat_id", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads an optional YAML file, then .env, then the environment.
// Nested keys map to env vars with "_" (COUNCIL_ORCHESTRATOR_CANNED_NOTE).
func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("COUNCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "COUNCIL_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings that would make every orchestration run misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	r := c.Orchestrator.Retry
	if r.Attempts < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.retry.attempts must be >= 1, got %d", r.Attempts))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("orchestrator.retry backoff must not be negative"))
	}
	if r.MaxBackoff > 0 && r.InitialBackoff > r.MaxBackoff {
		errs = append(errs, fmt.Errorf("orchestrator.retry.initial_backoff %s exceeds max_backoff %s", r.InitialBackoff, r.MaxBackoff))
	}
	if c.Orchestrator.MaxParallel < 0 {
		errs = append(errs, errors.New("orchestrator.max_parallel must not be negative"))
	}
	if c.Context.RecordLimit < 1 {
		errs = append(errs, errors.New("context.record_limit must be >= 1"))
	}
	return errors.Join(errs...)
}

// ModelConfigured reports whether agents can reach a model at all.
func (c *Config) ModelConfigured() bool {
	return strings.TrimSpace(c.Model.APIKey) != ""
}
