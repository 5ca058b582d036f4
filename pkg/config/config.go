// Package config loads tunesync settings from a TOML file with environment
// overrides.
//
// Load reads ~/.config/tunesync/config.toml unless a path is given. A missing
// file is not an error; defaults are used. TUNESYNC_* environment variables
// are applied last and win over the file.
//
// Example config.toml:
//
//	backend = "redis"
//	log_level = "debug"
//	fetch_timeout = "5s"
//
//	[redis]
//	addr = "localhost:6379"
//
//	[pubsub]
//	project_id = "garage"
//	topic_id = "settings-changes"
//	subscription_id = "settings-changes-bench-1"
//
//	[history]
//	bucket = "garage-settings-history"
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// Backend names the remote source implementation.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendRedis     Backend = "redis"
	BackendFirestore Backend = "firestore"
)

type RedisConfig struct {
	Addr      string `env:"ADDR"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB"`
	KeyPrefix string `env:"KEY_PREFIX"`
}

type FirestoreConfig struct {
	ProjectID  string `env:"PROJECT_ID"`
	Collection string `env:"COLLECTION"`
}

// GoogleConfig holds settings shared by the Google Cloud clients.
type GoogleConfig struct {
	// CredentialsFile is optional; application default credentials are used
	// when empty.
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// PubSubConfig enables the change feed when TopicID is set.
type PubSubConfig struct {
	ProjectID      string `env:"PROJECT_ID"`
	TopicID        string `env:"TOPIC_ID"`
	SubscriptionID string `env:"SUBSCRIPTION_ID"`
	// Origin identifies this client in published events. Empty means a
	// random id per process.
	Origin string `env:"ORIGIN"`
}

// Enabled reports whether a change feed topic is configured.
func (p PubSubConfig) Enabled() bool { return p.TopicID != "" }

// HistoryConfig enables the mutation history archive when Bucket is set.
type HistoryConfig struct {
	Bucket        string        `env:"BUCKET"`
	ObjectPrefix  string        `env:"OBJECT_PREFIX"`
	BatchSize     int           `env:"BATCH_SIZE"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL"`
}

// Enabled reports whether an archive bucket is configured.
func (h HistoryConfig) Enabled() bool { return h.Bucket != "" }

// Config is the resolved tunesync configuration.
type Config struct {
	Backend         Backend       `env:"TUNESYNC_BACKEND"`
	LogLevel        string        `env:"TUNESYNC_LOG_LEVEL"`
	FetchTimeout    time.Duration `env:"TUNESYNC_FETCH_TIMEOUT"`
	WriteTimeout    time.Duration `env:"TUNESYNC_WRITE_TIMEOUT"`
	RefreshInterval time.Duration `env:"TUNESYNC_REFRESH_INTERVAL"`
	HTTPPort        string        `env:"TUNESYNC_HTTP_PORT"`

	Redis     RedisConfig     `envPrefix:"TUNESYNC_REDIS_"`
	Firestore FirestoreConfig `envPrefix:"TUNESYNC_FIRESTORE_"`
	PubSub    PubSubConfig    `envPrefix:"TUNESYNC_PUBSUB_"`
	Google    GoogleConfig    `envPrefix:"TUNESYNC_GOOGLE_"`
	History   HistoryConfig   `envPrefix:"TUNESYNC_HISTORY_"`
}

const defaultConfigPath = "~/.config/tunesync/config.toml"

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Backend:         BackendMemory,
		LogLevel:        "info",
		FetchTimeout:    10 * time.Second,
		WriteTimeout:    10 * time.Second,
		RefreshInterval: 30 * time.Second,
		HTTPPort:        ":8080",
		Redis:           RedisConfig{Addr: "localhost:6379", KeyPrefix: "tunesync:"},
		Firestore:       FirestoreConfig{Collection: "vehicle-settings"},
		History:         HistoryConfig{ObjectPrefix: "mutations", BatchSize: 100, FlushInterval: time.Minute},
	}
}

type fileConfig struct {
	Backend         string `toml:"backend"`
	LogLevel        string `toml:"log_level"`
	FetchTimeout    string `toml:"fetch_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	RefreshInterval string `toml:"refresh_interval"`
	HTTPPort        string `toml:"http_port"`

	Redis struct {
		Addr      string `toml:"addr"`
		Password  string `toml:"password"`
		DB        int    `toml:"db"`
		KeyPrefix string `toml:"key_prefix"`
	} `toml:"redis"`
	Firestore struct {
		ProjectID  string `toml:"project_id"`
		Collection string `toml:"collection"`
	} `toml:"firestore"`
	Google struct {
		CredentialsFile string `toml:"credentials_file"`
	} `toml:"google"`
	PubSub struct {
		ProjectID      string `toml:"project_id"`
		TopicID        string `toml:"topic_id"`
		SubscriptionID string `toml:"subscription_id"`
		Origin         string `toml:"origin"`
	} `toml:"pubsub"`
	History struct {
		Bucket        string `toml:"bucket"`
		ObjectPrefix  string `toml:"object_prefix"`
		BatchSize     int    `toml:"batch_size"`
		FlushInterval string `toml:"flush_interval"`
	} `toml:"history"`
}

// Load resolves the configuration from path (or the default location),
// then the environment, then validates it.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if err := applyFile(&cfg, resolved); err != nil {
		return Config{}, err
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func applyFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&cfg.LogLevel, raw.LogLevel)
	setString(&cfg.HTTPPort, raw.HTTPPort)
	if b := strings.TrimSpace(raw.Backend); b != "" {
		cfg.Backend = Backend(strings.ToLower(b))
	}
	for _, d := range []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"fetch_timeout", raw.FetchTimeout, &cfg.FetchTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"refresh_interval", raw.RefreshInterval, &cfg.RefreshInterval},
		{"history.flush_interval", raw.History.FlushInterval, &cfg.History.FlushInterval},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse config: %s: %w", d.name, err)
		}
		*d.target = parsed
	}

	setString(&cfg.Redis.Addr, raw.Redis.Addr)
	setString(&cfg.Redis.Password, raw.Redis.Password)
	setString(&cfg.Redis.KeyPrefix, raw.Redis.KeyPrefix)
	if raw.Redis.DB != 0 {
		cfg.Redis.DB = raw.Redis.DB
	}
	setString(&cfg.Firestore.ProjectID, raw.Firestore.ProjectID)
	setString(&cfg.Firestore.Collection, raw.Firestore.Collection)
	setString(&cfg.PubSub.ProjectID, raw.PubSub.ProjectID)
	setString(&cfg.PubSub.TopicID, raw.PubSub.TopicID)
	setString(&cfg.PubSub.SubscriptionID, raw.PubSub.SubscriptionID)
	setString(&cfg.PubSub.Origin, raw.PubSub.Origin)
	setString(&cfg.History.Bucket, raw.History.Bucket)
	setString(&cfg.History.ObjectPrefix, raw.History.ObjectPrefix)
	if raw.History.BatchSize != 0 {
		cfg.History.BatchSize = raw.History.BatchSize
	}
	if raw.Google.CredentialsFile != "" {
		expanded, err := expandPath(raw.Google.CredentialsFile)
		if err != nil {
			return fmt.Errorf("parse config: credentials_file: %w", err)
		}
		cfg.Google.CredentialsFile = expanded
	}
	return nil
}

func setString(target *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*target = v
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis backend requires redis.addr"))
		}
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("firestore backend requires firestore.project_id"))
		}
		if c.Firestore.Collection == "" {
			errs = append(errs, errors.New("firestore backend requires firestore.collection"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.PubSub.Enabled() && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.topic_id requires pubsub.project_id"))
	}
	if c.History.Enabled() && c.History.BatchSize < 0 {
		errs = append(errs, errors.New("history.batch_size cannot be negative"))
	}
	if c.FetchTimeout < 0 || c.WriteTimeout < 0 || c.RefreshInterval < 0 || c.History.FlushInterval < 0 {
		errs = append(errs, errors.New("timeouts and intervals cannot be negative"))
	}
	return errors.Join(errs...)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
