// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Billing  BillingConfig  `mapstructure:"billing"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds listener configuration for terminals and the admin channel.
type ServerConfig struct {
	TerminalAddr     string        `mapstructure:"terminal_addr"`
	AdminAddr        string        `mapstructure:"admin_addr"`
	MaxTerminals     int           `mapstructure:"max_terminals"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	RateBurst        int           `mapstructure:"rate_burst"`
}

// AdminConfig holds admin channel configuration.
type AdminConfig struct {
	// Secret is compared against the admin auth payload. Empty accepts any auth message.
	Secret    string        `mapstructure:"secret"`
	KickGrace time.Duration `mapstructure:"kick_grace"`
}

// DatabaseConfig holds account store configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	Seed            bool          `mapstructure:"seed"`
	OpTimeout       time.Duration `mapstructure:"op_timeout"`
}

// BillingConfig holds per-minute billing configuration.
type BillingConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	UnitPrice    int64         `mapstructure:"unit_price"`
}

// CatalogConfig holds game catalog storage configuration.
type CatalogConfig struct {
	DataPath    string        `mapstructure:"data_path"`
	ManifestTTL time.Duration `mapstructure:"manifest_ttl"`
}

// TransferConfig holds file transfer configuration.
type TransferConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. SERVER_TERMINAL_ADDR, DATABASE_DRIVER, BILLING_UNIT_PRICE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.MaxTerminals <= 0 {
		return fmt.Errorf("server.max_terminals must be positive, got %d", c.Server.MaxTerminals)
	}
	if c.Billing.TickInterval <= 0 {
		return fmt.Errorf("billing.tick_interval must be positive, got %s", c.Billing.TickInterval)
	}
	if c.Billing.UnitPrice <= 0 {
		return fmt.Errorf("billing.unit_price must be positive, got %d", c.Billing.UnitPrice)
	}
	if c.Transfer.MaxChunkSize <= 0 {
		return fmt.Errorf("transfer.max_chunk_size must be positive, got %d", c.Transfer.MaxChunkSize)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.terminal_addr", ":8800")
	v.SetDefault("server.admin_addr", ":8801")
	v.SetDefault("server.max_terminals", 100)
	v.SetDefault("server.handshake_timeout", "10s")
	v.SetDefault("server.idle_timeout", "30s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.rate_limit", 200)
	v.SetDefault("server.rate_burst", 400)

	// Admin defaults
	v.SetDefault("admin.secret", "")
	v.SetDefault("admin.kick_grace", "100ms")

	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "netboot")
	v.SetDefault("database.name", "netboot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.sqlite_path", "data/config/accounts.db")
	v.SetDefault("database.seed", true)
	v.SetDefault("database.op_timeout", "5s")

	// Billing defaults
	v.SetDefault("billing.tick_interval", "1m")
	v.SetDefault("billing.unit_price", 100)

	// Catalog and transfer defaults
	v.SetDefault("catalog.data_path", "data")
	v.SetDefault("catalog.manifest_ttl", "5m")
	v.SetDefault("transfer.max_chunk_size", 65536)

	v.SetDefault("log.level", "info")
}
