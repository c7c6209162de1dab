package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Webhook  WebhookConfig
	Telegram TelegramConfig
	Slack    SlackConfig
	Reminder ReminderConfig
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory". The memory backend keeps state
	// in-process and is for local development only.
	Backend string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings for the event fanout.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    float64
	RateBurst    int
}

// WebhookConfig holds inbound chat-update webhook settings.
type WebhookConfig struct {
	// Secret must match the X-Webhook-Secret header on inbound updates.
	Secret string //nolint:gosec // G117: webhook shared secret config
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	BotToken string
}

// SlackConfig holds Slack integration settings.
type SlackConfig struct {
	BotToken      string
	SigningSecret string
}

// ReminderConfig holds the overdue-digest scheduler settings.
type ReminderConfig struct {
	Enabled bool
	// Spec is a cron expression; the default fires every day at 09:00.
	Spec           string
	WorkspaceLimit int
	TaskLimit      int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (webhook secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("TASKLINE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TASKLINE_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisEnabled, err := getEnvBool("TASKLINE_REDIS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TASKLINE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TASKLINE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TASKLINE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("TASKLINE_SERVER_RATE_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("TASKLINE_SERVER_RATE_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reminderEnabled, err := getEnvBool("TASKLINE_REMINDER_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reminderWorkspaces, err := getEnvInt("TASKLINE_REMINDER_WORKSPACE_LIMIT", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	reminderTasks, err := getEnvInt("TASKLINE_REMINDER_TASK_LIMIT", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("TASKLINE_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Store: StoreConfig{
			Backend: getEnv("TASKLINE_STORE", "postgres"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("TASKLINE_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("TASKLINE_DB_USER", "taskline"),
			Password: getEnv("TASKLINE_DB_PASSWORD", ""),
			DBName:   getEnv("TASKLINE_DB_NAME", "taskline_dev"),
			SSLMode:  getEnv("TASKLINE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Enabled:  redisEnabled,
			Addr:     getEnv("TASKLINE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("TASKLINE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("TASKLINE_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		},
		Webhook: WebhookConfig{
			Secret: getEnv("TASKLINE_WEBHOOK_SECRET", ""),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TASKLINE_TELEGRAM_BOT_TOKEN", ""),
		},
		Slack: SlackConfig{
			BotToken:      getEnv("TASKLINE_SLACK_BOT_TOKEN", ""),
			SigningSecret: getEnv("TASKLINE_SLACK_SIGNING_SECRET", ""),
		},
		Reminder: ReminderConfig{
			Enabled:        reminderEnabled,
			Spec:           getEnv("TASKLINE_REMINDER_SPEC", "0 9 * * *"),
			WorkspaceLimit: reminderWorkspaces,
			TaskLimit:      reminderTasks,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Store.Backend != "postgres" && c.Store.Backend != "memory" {
		return fmt.Errorf("TASKLINE_STORE must be 'postgres' or 'memory', got %q", c.Store.Backend)
	}

	// Webhook secret is required (no insecure default).
	if c.Webhook.Secret == "" {
		return errors.New("TASKLINE_WEBHOOK_SECRET is required")
	}
	if len(c.Webhook.Secret) < 16 {
		return errors.New("TASKLINE_WEBHOOK_SECRET must be at least 16 characters")
	}

	if c.Database.SSLMode == "disable" && c.Store.Backend == "postgres" {
		log.Warn().Msg("TASKLINE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("TASKLINE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("TASKLINE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TASKLINE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TASKLINE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("TASKLINE_SERVER_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("TASKLINE_SERVER_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}
	if c.Reminder.WorkspaceLimit < 1 {
		return fmt.Errorf("TASKLINE_REMINDER_WORKSPACE_LIMIT must be >= 1, got %d", c.Reminder.WorkspaceLimit)
	}
	if c.Reminder.TaskLimit < 1 {
		return fmt.Errorf("TASKLINE_REMINDER_TASK_LIMIT must be >= 1, got %d", c.Reminder.TaskLimit)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
