package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Log struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
	} `mapstructure:"log"`
	// Remote is the relational store used for cloud sync. An empty driver
	// disables cloud sync.
	Remote struct {
		Driver    string `mapstructure:"driver"`
		DSN       string `mapstructure:"dsn"`
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port"`
		User      string `mapstructure:"user"`
		Password  string `mapstructure:"password"`
		Name      string `mapstructure:"name"`
		SSLMode   string `mapstructure:"sslmode"`
		BatchSize int    `mapstructure:"batch_size"`
	} `mapstructure:"remote"`
	Cache struct {
		Driver        string `mapstructure:"driver"`
		Dir           string `mapstructure:"dir"`
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
	} `mapstructure:"cache"`
	FileBackend struct {
		URL     string        `mapstructure:"url"`
		Secret  string        `mapstructure:"secret"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"file_backend"`
	Sync struct {
		DebounceDelay time.Duration `mapstructure:"debounce_delay"`
		MinInterval   time.Duration `mapstructure:"min_interval"`
		RetryDelay    time.Duration `mapstructure:"retry_delay"`
		WatchFile     string        `mapstructure:"watch_file"`
	} `mapstructure:"sync"`
	Auth struct {
		UserID   string `mapstructure:"user_id"`
		Guest    bool   `mapstructure:"guest"`
		Issuer   string `mapstructure:"issuer"`
		ClientID string `mapstructure:"client_id"`
	} `mapstructure:"auth"`
	Server struct {
		Addr        string        `mapstructure:"addr"`
		DataFile    string        `mapstructure:"data_file"`
		Secret      string        `mapstructure:"secret"`
		EnableMCP   bool          `mapstructure:"enable_mcp"`
		ReadTimeout time.Duration `mapstructure:"read_timeout"`
	} `mapstructure:"server"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
// An empty path searches for config.yaml in "." and "./config"; a missing
// file is not an error, defaults and PIPESYNC_* variables still apply.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("PIPESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.FileBackend.URL = normalizeURL(config.FileBackend.URL)
	config.Auth.Issuer = normalizeURL(config.Auth.Issuer)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Keys without a default are still registered so that AutomaticEnv
	// overrides reach Unmarshal.
	for _, key := range []string{
		"log.file", "remote.driver", "remote.dsn", "remote.host", "remote.user",
		"remote.password", "remote.name", "cache.redis_addr", "cache.redis_password",
		"file_backend.url", "file_backend.secret", "sync.watch_file", "auth.user_id",
		"auth.issuer", "auth.client_id", "server.secret", "tls.cert_file", "tls.key_file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("auth.guest", false)
	v.SetDefault("tls.enable", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("remote.port", 5432)
	v.SetDefault("remote.sslmode", "disable")
	v.SetDefault("remote.batch_size", 100)
	v.SetDefault("cache.driver", "file")
	v.SetDefault("cache.dir", ".pipesync")
	v.SetDefault("file_backend.timeout", 10*time.Second)
	v.SetDefault("sync.debounce_delay", 400*time.Millisecond)
	v.SetDefault("sync.min_interval", 2*time.Second)
	v.SetDefault("sync.retry_delay", 10*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.data_file", "data/persistence.json")
	v.SetDefault("server.enable_mcp", true)
	v.SetDefault("server.read_timeout", 15*time.Second)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case "", "postgres", "pgx", "sqlite", "gorm-postgres":
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	switch c.Cache.Driver {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Sync.MinInterval < 0 || c.Sync.DebounceDelay < 0 {
		return errors.New("sync delays must not be negative")
	}
	if c.Sync.RetryDelay <= c.Sync.MinInterval {
		return fmt.Errorf("sync.retry_delay (%s) must be longer than sync.min_interval (%s)", c.Sync.RetryDelay, c.Sync.MinInterval)
	}
	if c.Remote.BatchSize <= 0 {
		return errors.New("remote.batch_size must be positive")
	}
	return nil
}

// PostgresDSN returns the connection string for the remote store.
func (c *Config) PostgresDSN() string {
	if c.Remote.DSN != "" {
		return c.Remote.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Remote.Host, c.Remote.Port, c.Remote.User, c.Remote.Password, c.Remote.Name, c.Remote.SSLMode,
	)
}

// normalizeURL trims whitespace and any trailing slash so paths can be
// appended without producing "//".
func normalizeURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
