package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	PresencePrefix string

	KafkaBrokers     []string
	DriverTopic      string
	TripEventsTopic  string

	PGDSN string

	BaseFare      float64
	PerMinuteRate float64
	GroupFactor   float64
	CartFactor    float64
	FallbackFare  float64

	DuplicateWindow    time.Duration
	WarnMinutes        int
	WarnStraightMeters float64

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		PresencePrefix:     "driver:presence:",
		DriverTopic:        "driver-status",
		TripEventsTopic:    "trip-events",
		BaseFare:           3.00,
		PerMinuteRate:      0.50,
		GroupFactor:        1.25,
		CartFactor:         1.50,
		FallbackFare:       8.00,
		DuplicateWindow:    30 * time.Second,
		WarnMinutes:        15,
		WarnStraightMeters: 3000,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.PresencePrefix, "PRESENCE_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.DriverTopic, "KAFKA_DRIVER_TOPIC")
	setStringFromEnv(&cfg.TripEventsTopic, "KAFKA_TRIP_EVENTS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.BaseFare, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.PerMinuteRate, "FARE_PER_MINUTE", &errs)
	setFloatFromEnv(&cfg.GroupFactor, "FARE_GROUP_FACTOR", &errs)
	setFloatFromEnv(&cfg.CartFactor, "FARE_CART_FACTOR", &errs)
	setFloatFromEnv(&cfg.FallbackFare, "FARE_FALLBACK", &errs)

	setDurationFromEnv(&cfg.DuplicateWindow, "DUPLICATE_WINDOW", &errs)
	setIntFromEnv(&cfg.WarnMinutes, "ROUTE_WARN_MINUTES", &errs)
	setFloatFromEnv(&cfg.WarnStraightMeters, "ROUTE_WARN_METERS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DuplicateWindow <= 0 {
		errs = append(errs, fmt.Errorf("DUPLICATE_WINDOW must be > 0"))
	}
	if cfg.PerMinuteRate < 0 || cfg.BaseFare < 0 {
		errs = append(errs, fmt.Errorf("fare parameters must be non-negative"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
