package config

import (
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN          string
	MaxConns     int32
	MinConns     int32
	MaxConnLife  time.Duration
	HealthPeriod time.Duration
}

type AuthConfig struct {
	AccessSecret string
	TokenTTL     time.Duration
}

type EscrowConfig struct {
	AutoReleaseHours int
	MaxRevisions     int
}

type SweepConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Escrow      EscrowConfig
	Sweep       SweepConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:          v.GetString("DATABASE_URL"),
			MaxConns:     v.GetInt32("DB_MAX_CONNS"),
			MinConns:     v.GetInt32("DB_MIN_CONNS"),
			MaxConnLife:  v.GetDuration("DB_CONN_MAX_LIFETIME"),
			HealthPeriod: v.GetDuration("DB_HEALTH_PERIOD"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
			TokenTTL:     v.GetDuration("JWT_TOKEN_TTL"),
		},
		Escrow: EscrowConfig{
			AutoReleaseHours: v.GetInt("ESCROW_AUTO_RELEASE_HOURS"),
			MaxRevisions:     v.GetInt("ESCROW_MAX_REVISIONS"),
		},
		Sweep: SweepConfig{
			Interval:    v.GetDuration("SWEEP_INTERVAL"),
			BatchSize:   v.GetInt("SWEEP_BATCH_SIZE"),
			Concurrency: v.GetInt("SWEEP_CONCURRENCY"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7080
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 16
	}
	if cfg.DB.MinConns == 0 {
		cfg.DB.MinConns = 2
	}
	if cfg.DB.MaxConnLife == 0 {
		cfg.DB.MaxConnLife = time.Hour
	}
	if cfg.DB.HealthPeriod == 0 {
		cfg.DB.HealthPeriod = time.Minute
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Escrow.AutoReleaseHours == 0 {
		cfg.Escrow.AutoReleaseHours = 72
	}
	if cfg.Escrow.MaxRevisions == 0 {
		cfg.Escrow.MaxRevisions = 3
	}
	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = time.Minute
	}
	if cfg.Sweep.BatchSize == 0 {
		cfg.Sweep.BatchSize = 50
	}
	if cfg.Sweep.Concurrency == 0 {
		cfg.Sweep.Concurrency = 4
	}

	return cfg, nil
}
