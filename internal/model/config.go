package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MessagingConfig holds limits applied when sending.
type MessagingConfig struct {
	// MaxMessageLength caps the trimmed text length in runes.
	MaxMessageLength int `mapstructure:"max_message_length" yaml:"max_message_length"`
}

// SyncConfig holds the refresh interval of each kind of open view.
type SyncConfig struct {
	ThreadIntervalMS int `mapstructure:"thread_interval_ms" yaml:"thread_interval_ms"`
	InboxIntervalMS  int `mapstructure:"inbox_interval_ms" yaml:"inbox_interval_ms"`
	BellIntervalMS   int `mapstructure:"bell_interval_ms" yaml:"bell_interval_ms"`
}

// ThreadInterval returns the conversation thread refresh interval.
func (c SyncConfig) ThreadInterval() time.Duration {
	return time.Duration(c.ThreadIntervalMS) * time.Millisecond
}

// InboxInterval returns the inbox refresh interval.
func (c SyncConfig) InboxInterval() time.Duration {
	return time.Duration(c.InboxIntervalMS) * time.Millisecond
}

// BellInterval returns the notification bell refresh interval.
func (c SyncConfig) BellInterval() time.Duration {
	return time.Duration(c.BellIntervalMS) * time.Millisecond
}

// ServerConfig holds settings for the HTTP/WebSocket API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// JWTSecret signs and verifies bearer tokens. When empty the secret is
	// read from the system keyring.
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// RedisConfig enables the Redis event bus and the reminder queue.
type RedisConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ReminderConfig holds asynq worker settings.
type ReminderConfig struct {
	Queue       string `mapstructure:"queue" yaml:"queue"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

// DigestConfig holds the mailbox a notification digest is appended to.
type DigestConfig struct {
	IMAPHost     string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort     string `mapstructure:"imap_port" yaml:"imap_port"`
	IMAPUsername string `mapstructure:"imap_username" yaml:"imap_username"`
	IMAPTLS      bool   `mapstructure:"imap_tls" yaml:"imap_tls"`
	Mailbox      string `mapstructure:"mailbox" yaml:"mailbox"`
	From         string `mapstructure:"from" yaml:"from"`
}

// IdentityConfig remembers who the terminal client last signed in as.
type IdentityConfig struct {
	UserID string `mapstructure:"user_id" yaml:"user_id"`
	Role   string `mapstructure:"role" yaml:"role"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Messaging MessagingConfig `mapstructure:"messaging" yaml:"messaging"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Reminders ReminderConfig  `mapstructure:"reminders" yaml:"reminders"`
	Digest    DigestConfig    `mapstructure:"digest" yaml:"digest"`
	Identity  IdentityConfig  `mapstructure:"identity" yaml:"identity"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/jobchat/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "jobchat", "config.yaml")
}

// DefaultDatabasePath returns ~/.local/share/jobchat/jobchat.db.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "jobchat.db"
	}
	return filepath.Join(home, ".local", "share", "jobchat", "jobchat.db")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Database:  DatabaseConfig{Path: DefaultDatabasePath()},
		Messaging: MessagingConfig{MaxMessageLength: 2000},
		Sync: SyncConfig{
			ThreadIntervalMS: 2500,
			InboxIntervalMS:  2000,
			BellIntervalMS:   5000,
		},
		Server:    ServerConfig{Addr: ":8080"},
		Redis:     RedisConfig{URL: "redis://localhost:6379/0"},
		Reminders: ReminderConfig{Queue: "reminders", Concurrency: 5},
		Digest:    DigestConfig{IMAPPort: "993", IMAPTLS: true, Mailbox: "INBOX"},
	}
}

// setDefaults registers every default with v so missing keys resolve to
// sensible values.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("messaging.max_message_length", d.Messaging.MaxMessageLength)
	v.SetDefault("sync.thread_interval_ms", d.Sync.ThreadIntervalMS)
	v.SetDefault("sync.inbox_interval_ms", d.Sync.InboxIntervalMS)
	v.SetDefault("sync.bell_interval_ms", d.Sync.BellIntervalMS)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("reminders.queue", d.Reminders.Queue)
	v.SetDefault("reminders.concurrency", d.Reminders.Concurrency)
	v.SetDefault("digest.imap_host", "")
	v.SetDefault("digest.imap_port", d.Digest.IMAPPort)
	v.SetDefault("digest.imap_username", "")
	v.SetDefault("digest.imap_tls", d.Digest.IMAPTLS)
	v.SetDefault("digest.mailbox", d.Digest.Mailbox)
	v.SetDefault("digest.from", "")
	v.SetDefault("identity.user_id", "")
	v.SetDefault("identity.role", "")
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// JOBCHAT_* environment variables override file values
// (e.g. JOBCHAT_SERVER_ADDR). If the file does not exist, defaults apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JOBCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Messaging.MaxMessageLength <= 0 {
		cfg.Messaging.MaxMessageLength = 2000
	}
	if cfg.Sync.ThreadIntervalMS <= 0 {
		cfg.Sync.ThreadIntervalMS = 2500
	}
	if cfg.Sync.InboxIntervalMS <= 0 {
		cfg.Sync.InboxIntervalMS = 2000
	}
	if cfg.Sync.BellIntervalMS <= 0 {
		cfg.Sync.BellIntervalMS = 5000
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("database", cfg.Database)
	v.Set("messaging", cfg.Messaging)
	v.Set("sync", cfg.Sync)
	v.Set("server", cfg.Server)
	v.Set("redis", cfg.Redis)
	v.Set("reminders", cfg.Reminders)
	v.Set("digest", cfg.Digest)
	v.Set("identity", cfg.Identity)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
