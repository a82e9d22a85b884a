package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Log        LogConfig        `mapstructure:"log"`
	Currencies []CurrencyConfig `mapstructure:"currencies"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type AuthConfig struct {
	AdminKey  string        `mapstructure:"admin_key"` // exchanged for a JWT on /auth/token
	JWTSecret string        `mapstructure:"jwt_secret"`
	Expiry    time.Duration `mapstructure:"expiry"`
	Issuer    string        `mapstructure:"issuer"`
}

type LedgerConfig struct {
	// RecalcCooldown is the suppression window preventing re-entrant
	// recalculation of the same user within one cascade.
	RecalcCooldown time.Duration `mapstructure:"recalc_cooldown"`
	// CascadeDelay defers recalculation of linked sibling users.
	CascadeDelay time.Duration `mapstructure:"cascade_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// CurrencyConfig declares one currency of the ledger. Loaded once at startup
// into the currency registry.
type CurrencyConfig struct {
	Name            string  `mapstructure:"name"`
	Plural          string  `mapstructure:"plural"`
	Symbol          string  `mapstructure:"symbol"`
	Format          string  `mapstructure:"format"`
	AllowsNegatives bool    `mapstructure:"allows_negatives"`
	AllowsPay       bool    `mapstructure:"allows_pay"`
	DefaultBalance  float64 `mapstructure:"default_balance"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: CLS (Currency Ledger
// Service). Nested keys use underscore: CLS_DATABASE_HOST, CLS_AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "currency_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.expiry", "24h")
	v.SetDefault("auth.issuer", "currency-ledger")
	v.SetDefault("ledger.recalc_cooldown", "5m")
	v.SetDefault("ledger.cascade_delay", "1s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: CLS_DATABASE_HOST -> database.host
	v.SetEnvPrefix("CLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
