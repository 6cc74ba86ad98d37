package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"weekplan/internal/timeutil"
)

type Config struct {
	Addr         string        `yaml:"addr"`
	DB           string        `yaml:"db"`
	Horizon      string        `yaml:"horizon"`
	AutoCron     string        `yaml:"auto_cron"` // empty disables automatic runs
	WebhookURL   string        `yaml:"webhook_url"`
	RedisAddr    string        `yaml:"redis_addr"`
	LockKey      string        `yaml:"lock_key"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	OtelExporter string        `yaml:"otel_exporter"` // none|stdout
	LogLevel     string        `yaml:"log_level"`
	Debug        bool          `yaml:"debug"`
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		DB:           "weekplan.db",
		Horizon:      "14 D",
		LockKey:      "weekplan:schedule-run",
		LockTTL:      30 * time.Second,
		OtelExporter: "none",
		LogLevel:     "info",
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Parse handles command line flags. Values come from the defaults, then the
// file named by -config, then any flag given explicitly.
func Parse(args []string) (Config, error) {
	def := Default()
	fs := flag.NewFlagSet("weekplan", flag.ContinueOnError)
	var (
		path         = fs.String("config", "", "YAML config file")
		addr         = fs.String("addr", def.Addr, "HTTP bind address")
		dbPath       = fs.String("db", def.DB, "SQLite DB path")
		horizon      = fs.String("horizon", def.Horizon, `default scheduling horizon, e.g. "14 D"`)
		autoCron     = fs.String("auto-cron", def.AutoCron, "cron expression for automatic runs (empty disables)")
		webhook      = fs.String("webhook", def.WebhookURL, "URL receiving run reports")
		redisAddr    = fs.String("redis", def.RedisAddr, "Redis address for the run lock (empty uses an in-process lock)")
		lockKey      = fs.String("lock-key", def.LockKey, "Redis key of the run lock")
		lockTTL      = fs.Duration("lock-ttl", def.LockTTL, "Redis run lock TTL")
		otelExporter = fs.String("otel", def.OtelExporter, "trace exporter: none|stdout")
		logLevel     = fs.String("log-level", def.LogLevel, "log level")
		debug        = fs.Bool("debug", def.Debug, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return Config{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "db":
			cfg.DB = *dbPath
		case "horizon":
			cfg.Horizon = *horizon
		case "auto-cron":
			cfg.AutoCron = *autoCron
		case "webhook":
			cfg.WebhookURL = *webhook
		case "redis":
			cfg.RedisAddr = *redisAddr
		case "lock-key":
			cfg.LockKey = *lockKey
		case "lock-ttl":
			cfg.LockTTL = *lockTTL
		case "otel":
			cfg.OtelExporter = *otelExporter
		case "log-level":
			cfg.LogLevel = *logLevel
		case "debug":
			cfg.Debug = *debug
		}
	})
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := timeutil.ParseHorizon(c.Horizon); err != nil {
		return fmt.Errorf("horizon: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.OtelExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("otel_exporter: unsupported %q", c.OtelExporter)
	}
	return nil
}

// Level resolves the zerolog level; debug wins over log_level.
func (c Config) Level() zerolog.Level {
	if c.Debug {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
