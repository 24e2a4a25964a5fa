// Package config provides configuration loading and validation utilities.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from ./configs/<APP_ENV>.yaml and environment variables,
// validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	return LoadFile(fmt.Sprintf("./configs/%s.yaml", env), env)
}

// LoadFile reads the given YAML file with environment overrides applied on top.
func LoadFile(path, env string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch re-reads the engine section whenever the config file changes and hands
// the previously loaded and the new section to apply. Invalid edits are logged and ignored.
func Watch(v *viper.Viper, log *slog.Logger, apply func(prev, next EngineConfig)) {
	if v == nil || apply == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	var (
		mu   sync.Mutex
		prev EngineConfig
	)
	if cfg, err := decode(v); err == nil {
		prev = cfg.Engine
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err != nil {
			log.Warn("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			return
		}

		mu.Lock()
		defer mu.Unlock()

		log.Info("config reloaded", slog.String("file", e.Name))
		apply(prev, cfg.Engine)
		prev = cfg.Engine
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("bot.token", "")
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.webhook_listen", ":8443")

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.state_ttl", 24*time.Hour)
	v.SetDefault("storage.sweep_interval", 10*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("audit.enabled", false)

	v.SetDefault("endpoint.timeout", 10*time.Second)
	v.SetDefault("endpoint.max_idle_conns", 20)
	v.SetDefault("endpoint.user_agent", "claim-bot/1.0")

	v.SetDefault("claim.weekly.phone_param", "msisdn")
	v.SetDefault("claim.weekly.method", "GET")
	v.SetDefault("claim.weekly.offer", "Weekly")
	v.SetDefault("claim.monthly.phone_param", "msisdn")
	v.SetDefault("claim.monthly.method", "GET")
	v.SetDefault("claim.monthly.offer", "Monthly")

	v.SetDefault("login.enabled", false)
	v.SetDefault("login.request.phone_param", "msisdn")
	v.SetDefault("login.verify.phone_param", "msisdn")
	v.SetDefault("login.otp_param", "otp")

	v.SetDefault("engine.request_count", 5)
	v.SetDefault("engine.success_threshold", 3)
	v.SetDefault("engine.delay", 2*time.Second)
	v.SetDefault("engine.requests_enabled", true)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.per_user.limit", 20)
	v.SetDefault("rate_limit.per_user.window", "1m")
}
