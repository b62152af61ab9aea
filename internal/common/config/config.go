package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Database DatabaseConfig `mapstructure:"database"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`     // webhook listener
	OpsAddress     string `mapstructure:"ops_address"` // /health and /metrics
	ReadTimeout    int    `mapstructure:"read_timeout"`    // seconds
	WriteTimeout   int    `mapstructure:"write_timeout"`   // seconds
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	ShutdownGraceS int    `mapstructure:"shutdown_grace"` // seconds
}

type SlackConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
	// APIURL overrides the Slack API base URL; used by tests and local
	// emulators. Empty means the real slack.com endpoint.
	APIURL string `mapstructure:"api_url"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AnalyzerConfig points at the external coaching analysis engine.
type AnalyzerConfig struct {
	URL     string `mapstructure:"url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// PipelineConfig tunes event admission and deferred execution.
type PipelineConfig struct {
	MaxEventAgeMS      int `mapstructure:"max_event_age_ms"`
	DedupTTLMinutes    int `mapstructure:"dedup_ttl_minutes"`
	ContextMessages    int `mapstructure:"context_messages"`
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	TaskTimeout        int `mapstructure:"task_timeout"` // seconds
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
