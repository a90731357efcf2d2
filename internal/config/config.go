// Package config loads tenantclock settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/neomorfeo/tenantclock/internal/domain"
)

// Config holds application configuration.
type Config struct {
	// Application
	Port     string
	LogLevel slog.Level

	// Storage
	DatabasePath   string
	RedisURL       string
	TokenTTL       time.Duration
	TokenRetention time.Duration
	PurgeInterval  time.Duration

	// Notifications
	NotifyWebhookURL   string
	NotifyTimeout      time.Duration
	NotifyRetries      int
	NotifyBreakerLimit uint32

	// Lifecycle
	Schedule             domain.Schedule
	LifecycleInterval    time.Duration
	LifecycleConcurrency int
	LifecycleMaxAttempts uint
	MaxWorkers           int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	schedule, err := ParseSchedule(getEnv("LIFECYCLE_PHASES", ""))
	if err != nil {
		return nil, fmt.Errorf("LIFECYCLE_PHASES: %w", err)
	}

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: level,

		DatabasePath:   getEnv("DATABASE_PATH", "tenantclock.db"),
		RedisURL:       getEnv("REDIS_URL", ""),
		TokenTTL:       getDurationEnv("TOKEN_TTL", domain.DefaultTokenTTL),
		TokenRetention: getDurationEnv("TOKEN_RETENTION", 24*time.Hour),
		PurgeInterval:  getDurationEnv("TOKEN_PURGE_INTERVAL", time.Hour),

		NotifyWebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyTimeout:      getDurationEnv("NOTIFY_TIMEOUT", 10*time.Second),
		NotifyRetries:      getIntEnv("NOTIFY_RETRIES", 2),
		NotifyBreakerLimit: uint32(getIntEnv("NOTIFY_BREAKER_THRESHOLD", 5)),

		Schedule:             schedule,
		LifecycleInterval:    getDurationEnv("LIFECYCLE_INTERVAL", 24*time.Hour),
		LifecycleConcurrency: getIntEnv("LIFECYCLE_CONCURRENCY", 8),
		LifecycleMaxAttempts: uint(getIntEnv("LIFECYCLE_MAX_ATTEMPTS", 3)),
		MaxWorkers:           getIntEnv("RIVER_MAX_WORKERS", 10),
	}

	if cfg.LifecycleInterval <= 0 {
		return nil, fmt.Errorf("LIFECYCLE_INTERVAL must be positive, got %s", cfg.LifecycleInterval)
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("TOKEN_TTL must be positive, got %s", cfg.TokenTTL)
	}

	return cfg, nil
}

// ParseSchedule reads a phase list in the form "name:duration:lead,...", for
// example "trial:720h:72h,free:720h:72h". Durations accept a "d" suffix for
// whole days. An empty string yields the default schedule.
func ParseSchedule(s string) (domain.Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.DefaultSchedule(), nil
	}

	var schedule domain.Schedule
	for _, entry := range strings.Split(s, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return domain.Schedule{}, fmt.Errorf("phase %q: want name:duration:lead", entry)
		}
		duration, err := parseDuration(parts[1])
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("phase %q duration: %w", parts[0], err)
		}
		lead, err := parseDuration(parts[2])
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("phase %q warning lead: %w", parts[0], err)
		}
		schedule.Phases = append(schedule.Phases, domain.Phase{
			Name:            parts[0],
			Duration:        duration,
			WarningLeadTime: lead,
		})
	}

	if err := schedule.Validate(); err != nil {
		return domain.Schedule{}, err
	}
	return schedule, nil
}

// parseDuration accepts time.ParseDuration syntax plus whole days ("30d").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * domain.Day, nil
	}
	return time.ParseDuration(s)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := parseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
