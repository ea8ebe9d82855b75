package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from an optional YAML file and the environment.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Pass     PassConfig     `yaml:"pass"`
	AWS      AWSConfig      `yaml:"aws"`
	Email    EmailConfig    `yaml:"email"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `yaml:"port"`
	ReadTimeout        int    `yaml:"read_timeout_sec"`
	WriteTimeout       int    `yaml:"write_timeout_sec"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"` // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"` // if set, used as-is
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig holds session token signing and validation settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

// PassConfig holds the secret used to sign QR pass tokens.
// Rotating it invalidates every issued pass.
type PassConfig struct {
	Secret string `yaml:"secret"`
}

// AWSConfig holds AWS credentials and the bucket for posters and profile pictures.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	MediaBucket     string `yaml:"media_bucket"`
}

// EmailConfig for SMTP delivery of notifications.
type EmailConfig struct {
	FromAddress string `yaml:"from_address"`
	FromName    string `yaml:"from_name"`
	SMTPHost    string `yaml:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port"`
	SMTPUser    string `yaml:"smtp_user"`
	SMTPPass    string `yaml:"smtp_pass"`
}

// SweeperConfig controls the lifecycle sweep and reminder schedules.
type SweeperConfig struct {
	Schedule         string        `yaml:"schedule"`          // cron spec, default daily at midnight
	ReminderSchedule string        `yaml:"reminder_schedule"` // cron spec, default hourly
	GracePeriod      time.Duration `yaml:"grace_period"`      // completed -> deleted
	RunOnStart       bool          `yaml:"run_on_start"`
}

// TimeoutConfig bounds calls to external collaborators.
type TimeoutConfig struct {
	Store    time.Duration `yaml:"store"`
	Notifier time.Duration `yaml:"notifier"`
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration: defaults, then the YAML file named by CONFIG_FILE (if any),
// then environment variables (with optional .env file), which take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pass.Secret == "" {
		errs = append(errs, errors.New("PASS_SECRET must not be empty"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.Sweeper.GracePeriod <= 0 {
		errs = append(errs, errors.New("SWEEPER_GRACE_PERIOD must be positive"))
	}
	if c.Timeouts.Store <= 0 || c.Timeouts.Notifier <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               "8080",
			ReadTimeout:        30,
			WriteTimeout:       30,
			CORSAllowedOrigins: "http://localhost:5173,http://localhost:3000",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "campuspass",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		JWT: JWTConfig{
			Secret:      "change-me-in-production",
			ExpireHours: 24 * 7,
		},
		Pass: PassConfig{Secret: "change-me-in-production"},
		AWS: AWSConfig{
			Region:      "us-east-1",
			MediaBucket: "campuspass-media",
		},
		Email: EmailConfig{
			FromAddress: "noreply@example.com",
			FromName:    "Campus Pass",
			SMTPPort:    587,
		},
		Sweeper: SweeperConfig{
			Schedule:         "0 0 * * *",
			ReminderSchedule: "0 * * * *",
			GracePeriod:      7 * 24 * time.Hour,
			RunOnStart:       true,
		},
		Timeouts: TimeoutConfig{
			Store:    5 * time.Second,
			Notifier: 3 * time.Second,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvInt("READ_TIMEOUT_SEC", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvInt("WRITE_TIMEOUT_SEC", cfg.Server.WriteTimeout)
	cfg.Server.CORSAllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.Server.CORSAllowedOrigins)

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(cfg.Database.MaxConns)))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.ExpireHours = getEnvInt("JWT_EXPIRE_HOURS", cfg.JWT.ExpireHours)
	cfg.Pass.Secret = getEnv("PASS_SECRET", cfg.Pass.Secret)

	cfg.AWS.Region = getEnv("AWS_REGION", cfg.AWS.Region)
	cfg.AWS.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", cfg.AWS.AccessKeyID)
	cfg.AWS.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", cfg.AWS.SecretAccessKey)
	cfg.AWS.MediaBucket = getEnv("AWS_S3_MEDIA_BUCKET", cfg.AWS.MediaBucket)

	cfg.Email.FromAddress = getEnv("EMAIL_FROM_ADDRESS", cfg.Email.FromAddress)
	cfg.Email.FromName = getEnv("EMAIL_FROM_NAME", cfg.Email.FromName)
	cfg.Email.SMTPHost = getEnv("SMTP_HOST", cfg.Email.SMTPHost)
	cfg.Email.SMTPPort = getEnvInt("SMTP_PORT", cfg.Email.SMTPPort)
	cfg.Email.SMTPUser = getEnv("SMTP_USER", cfg.Email.SMTPUser)
	cfg.Email.SMTPPass = getEnv("SMTP_PASS", cfg.Email.SMTPPass)

	cfg.Sweeper.Schedule = getEnv("SWEEPER_SCHEDULE", cfg.Sweeper.Schedule)
	cfg.Sweeper.ReminderSchedule = getEnv("REMINDER_SCHEDULE", cfg.Sweeper.ReminderSchedule)
	cfg.Sweeper.GracePeriod = getEnvDuration("SWEEPER_GRACE_PERIOD", cfg.Sweeper.GracePeriod)
	cfg.Sweeper.RunOnStart = getEnvBool("SWEEPER_RUN_ON_START", cfg.Sweeper.RunOnStart)

	cfg.Timeouts.Store = getEnvDuration("STORE_TIMEOUT", cfg.Timeouts.Store)
	cfg.Timeouts.Notifier = getEnvDuration("NOTIFIER_TIMEOUT", cfg.Timeouts.Notifier)
}

// CORSOrigins splits the configured CORS origins.
func (c ServerConfig) CORSOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
