package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Redis-backed event bus
	Bus BusConfig

	// OpenTelemetry tracing
	Otel OtelConfig

	// CORS
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`

	// Auth gate — when false, requests bypass pkg/auth entirely (local dev)
	AuthEnabled bool `env:"AUTH_ENABLED" envDefault:"false"`

	// GitHub App webhook configuration
	GitHubApp GitHubAppConfig

	// Filesystem layout roots (personas, vaults, sandbox working dirs)
	Layout LayoutConfig

	// Agent lifecycle / pulse / guardrail defaults
	Agents AgentsConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8h, long enough for SSE
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"djinnbot"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"djinnbot"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// BusConfig holds the event bus (Redis) connection settings.
type BusConfig struct {
	URL              string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	DialTimeout      time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	SessionQueueSize int           `env:"SESSION_SUBSCRIBER_QUEUE_SIZE" envDefault:"256"`
	StreamMaxLen     int64         `env:"SESSION_STREAM_MAXLEN" envDefault:"10000"`
}

// GitHubAppConfig holds GitHub App webhook/auth settings.
type GitHubAppConfig struct {
	AppID           string `env:"GITHUB_APP_ID" envDefault:""`
	ClientID        string `env:"GITHUB_APP_CLIENT_ID" envDefault:""`
	WebhookSecret   string `env:"GITHUB_APP_WEBHOOK_SECRET" envDefault:""`
	PrivateKeyPath  string `env:"GITHUB_APP_PRIVATE_KEY_PATH" envDefault:""`
	EncryptionKeyHex string `env:"GITHUB_APP_ENCRYPTION_KEY" envDefault:""`
	WebhookRateLimitPerMin int `env:"GITHUB_WEBHOOK_RATE_LIMIT_PER_MIN" envDefault:"100"`
}

// IsConfigured returns true if the GitHub App integration has its minimum
// required settings.
func (g *GitHubAppConfig) IsConfigured() bool {
	return g.AppID != "" && g.WebhookSecret != ""
}

// LayoutConfig holds the filesystem roots the Layout resolver joins against.
type LayoutConfig struct {
	AgentsDir    string `env:"AGENTS_DIR" envDefault:"./data/agents"`
	VaultsDir    string `env:"VAULTS_DIR" envDefault:"./data/vaults"`
	DataPath     string `env:"DJINN_DATA_PATH" envDefault:"./data"`
	PipelinesDir string `env:"PIPELINES_DIR" envDefault:"./data/pipelines"`
}

// AgentsConfig holds default wake-guardrail and pulse thresholds, overridable
// per-agent via the durable Agent.GuardrailConfig row.
type AgentsConfig struct {
	WakeCooldown               time.Duration `env:"AGENT_WAKE_COOLDOWN" envDefault:"300s"`
	MaxWakesPerDay             int           `env:"AGENT_MAX_WAKES_PER_DAY" envDefault:"12"`
	MaxSessionMinutesPerDay    int           `env:"AGENT_MAX_SESSION_MINUTES_PER_DAY" envDefault:"120"`
	MaxWakesPerPairPerDay      int           `env:"AGENT_MAX_WAKES_PER_PAIR_PER_DAY" envDefault:"5"`
	MaxConcurrentPulseSessions int           `env:"AGENT_MAX_CONCURRENT_PULSE_SESSIONS" envDefault:"2"`
	PulseTickInterval          time.Duration `env:"AGENT_PULSE_TICK_INTERVAL" envDefault:"60s"`
	DefaultWorkLockTTL         time.Duration `env:"AGENT_WORK_LOCK_TTL" envDefault:"30m"`
	PulseSessionTimeout        time.Duration `env:"AGENT_PULSE_SESSION_TIMEOUT" envDefault:"10m"`
}

// NewConfig loads configuration from environment variables.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("bus_url", cfg.Bus.URL),
	)

	return cfg, nil
}
