package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agent configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Pacing  PacingConfig  `mapstructure:"pacing"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds coordination-server connection settings.
type ServerConfig struct {
	URL      string        `mapstructure:"url"`
	Secret   string        `mapstructure:"secret"`
	Nickname string        `mapstructure:"nickname"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AgentConfig holds the initial scheduling tunables. The server may override
// each of them at registration and on every poll response.
type AgentConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	SendInterval   time.Duration `mapstructure:"send_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// PacingConfig holds the randomized delay ranges applied around each SMTP
// session. Zero ranges disable the corresponding delay.
type PacingConfig struct {
	ConnectDelayMin  time.Duration `mapstructure:"connect_delay_min"`
	ConnectDelayMax  time.Duration `mapstructure:"connect_delay_max"`
	PostSendDelayMin time.Duration `mapstructure:"post_send_delay_min"`
	PostSendDelayMax time.Duration `mapstructure:"post_send_delay_max"`
}

// AdminConfig holds the local debug/metrics listener configuration.
type AdminConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// JournalConfig holds the local SQLite journal configuration.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout (default), file
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// Load reads configuration from the given config directory path. It looks
// for a file named "config.yaml" in that directory; a missing file is not an
// error since the agent is fully configurable through the environment.
// Environment variables with prefix MAIL_AGENT_ override file values, e.g.
// MAIL_AGENT_SERVER_URL overrides server.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("MAIL_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.URL == "" {
		return nil, fmt.Errorf("server.url is required")
	}
	if cfg.Server.Secret == "" {
		return nil, fmt.Errorf("server.secret is required")
	}

	return &cfg, nil
}

// setDefaults registers the documented defaults: poll 60s, send 2s,
// batch 10, health 10s.
func setDefaults(v *viper.Viper) {
	// Registering empty defaults makes the required keys visible to viper
	// so environment-only configuration unmarshals correctly.
	v.SetDefault("server.url", "")
	v.SetDefault("server.secret", "")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.nickname", "mail-agent")

	v.SetDefault("agent.poll_interval", 60*time.Second)
	v.SetDefault("agent.send_interval", 2*time.Second)
	v.SetDefault("agent.batch_size", 10)
	v.SetDefault("agent.health_interval", 10*time.Second)

	v.SetDefault("pacing.connect_delay_min", 0)
	v.SetDefault("pacing.connect_delay_max", 0)
	v.SetDefault("pacing.post_send_delay_min", 0)
	v.SetDefault("pacing.post_send_delay_max", 0)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", "127.0.0.1:9190")

	v.SetDefault("journal.path", "mail-agent.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_files", 5)
}
