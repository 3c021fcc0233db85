package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/pitcar/leadtime/internal/leadtime"
)

type DB struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

// DSN returns a libpq keyword/value connection string for pgxpool.
func (d DB) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", d.Host, d.Port, d.User, d.Password, d.Name)
}

// URL returns the same connection as a URL, as expected by the migrator.
func (d DB) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=disable", scheme, d.User, d.Password, d.Host, d.Port, d.Name)
}

type Kafka struct {
	Brokers []string
	Topic   string
}

type Outbox struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type Recompute struct {
	BatchSize int
	Workers   int
}

type Log struct {
	Level       string
	Development bool
}

type Admin struct {
	Username string
	Password string
}

type Config struct {
	DB        DB
	HTTPPort  string
	Kafka     Kafka
	Outbox    Outbox
	Recompute Recompute
	Admin     Admin
	Log       Log
	Location  *time.Location
	Standards leadtime.Standards
}

// LoadEnv loads the first .env (or .example.env) found in the working
// directory or up to two of its parents. Missing files are not an error;
// variables may come from the process environment.
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Error getting working directory: %v", err)
		return
	}

	dirs := []string{wd, filepath.Join(wd, ".."), filepath.Join(wd, "..", "..")}
	for _, name := range []string{".env", ".example.env"} {
		for _, dir := range dirs {
			path := filepath.Join(dir, name)
			if err := godotenv.Load(path); err == nil {
				log.Printf("Loaded environment variables from %s", path)
				return
			}
		}
	}
	log.Println("No .env file found, using process environment")
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	LoadEnv()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a variable lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	intEnv := func(key string, def int) (int, error) {
		v := env(key, "")
		if v == "" {
			return def, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	}

	cfg := &Config{
		HTTPPort: env("HTTP_PORT", "9000"),
		DB: DB{
			Host:     env("DB_HOST", "localhost"),
			User:     env("POSTGRES_USER", "postgres"),
			Password: env("POSTGRES_PASSWORD", ""),
			Name:     env("POSTGRES_DB", "leadtime"),
		},
		Kafka: Kafka{
			Brokers: splitList(env("KAFKA_BROKERS", "")),
			Topic:   env("KAFKA_TOPIC", "service_order_events"),
		},
		Admin: Admin{
			Username: env("ADMIN_USERNAME", ""),
			Password: env("ADMIN_PASSWORD", ""),
		},
		Log: Log{
			Level:       env("LOG_LEVEL", "info"),
			Development: env("LOG_FORMAT", "console") == "console",
		},
	}

	var err error
	if cfg.DB.Port, err = intEnv("DB_PORT", 5432); err != nil {
		return nil, err
	}
	maxConns, err := intEnv("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	cfg.DB.MaxConns = int32(maxConns)
	if cfg.Outbox.BatchSize, err = intEnv("OUTBOX_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.Outbox.MaxAttempts, err = intEnv("OUTBOX_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.Recompute.BatchSize, err = intEnv("RECOMPUTE_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.Recompute.Workers, err = intEnv("RECOMPUTE_WORKERS", 4); err != nil {
		return nil, err
	}

	if cfg.Outbox.PollInterval, err = time.ParseDuration(env("OUTBOX_POLL_INTERVAL", "2s")); err != nil {
		return nil, fmt.Errorf("OUTBOX_POLL_INTERVAL: %w", err)
	}

	if cfg.Location, err = time.LoadLocation(env("BUSINESS_TIMEZONE", "Asia/Jakarta")); err != nil {
		return nil, fmt.Errorf("BUSINESS_TIMEZONE: %w", err)
	}

	cfg.Standards = leadtime.DefaultStandards()
	if path := env("STANDARDS_FILE", ""); path != "" {
		if err := LoadStandards(path, cfg.Standards); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

type standardsFile struct {
	Standards map[string]float64 `toml:"standards"`
}

// LoadStandards overlays the minutes found in a TOML file onto dst:
//
//	[standards]
//	await_confirmation = 30
func LoadStandards(path string, dst leadtime.Standards) error {
	var f standardsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("failed to read standards file %s: %w", path, err)
	}
	for key, minutes := range f.Standards {
		if minutes <= 0 {
			return fmt.Errorf("standard %q must be positive, got %v", key, minutes)
		}
		dst[key] = minutes
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
