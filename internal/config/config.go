package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries service settings. Everything can be set through
// environment variables with the VESTRY_ prefix (VESTRY_LISTEN_ADDR,
// VESTRY_PG_DSN, ...) or an optional vestry.yaml in the working directory.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	PGDSN      string `mapstructure:"pg_dsn"`
	LogLevel   string `mapstructure:"log_level"`

	// DevTokens enables the unauthenticated token issuing and mint
	// endpoints. Never enable outside local development.
	DevTokens bool `mapstructure:"dev_tokens"`

	TokenTTL time.Duration `mapstructure:"token_ttl"`

	RateBurst  int `mapstructure:"rate_burst"`
	RatePerSec int `mapstructure:"rate_per_sec"`

	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load reads configuration from file (if present) and environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("vestry")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("VESTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_tokens", false)
	v.SetDefault("token_ttl", time.Hour)
	v.SetDefault("rate_burst", 20)
	v.SetDefault("rate_per_sec", 10)
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("shutdown_timeout", 10*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
