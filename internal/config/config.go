// Package config loads the service configuration from environment variables.
// Configuration is read once at startup; missing required SMTP settings are
// a fatal startup error.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime settings for the service.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPUseTLS   bool

	StoragePath string
	UploadDir   string

	LogLevel string
	LogFile  string

	ScriptTimeout time.Duration
	FetchTimeout  time.Duration

	HTTPAddr string
	Workers  int
}

// Load reads configuration from the environment, applying defaults.
// It returns an error naming every missing required variable.
func Load() (*Config, error) {
	cfg := &Config{
		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     os.Getenv("SMTP_FROM_EMAIL"),
		StoragePath:  getEnv("JOB_STORAGE_PATH", "./data/jobs.json"),
		UploadDir:    getEnv("UPLOAD_DIR", "./data/uploads"),
		LogLevel:     strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogFile:      os.Getenv("LOG_FILE"),
		HTTPAddr:     getEnv("HTTP_ADDR", ":8000"),
	}

	var missing []string
	for _, v := range []struct{ name, val string }{
		{"SMTP_HOST", cfg.SMTPHost},
		{"SMTP_USER", cfg.SMTPUser},
		{"SMTP_PASSWORD", cfg.SMTPPassword},
		{"SMTP_FROM_EMAIL", cfg.SMTPFrom},
	} {
		if v.val == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.SMTPPort <= 0 {
		return nil, fmt.Errorf("SMTP_PORT must be a positive integer")
	}
	if cfg.SMTPUseTLS, err = getEnvBool("SMTP_USE_TLS", true); err != nil {
		return nil, err
	}

	scriptTimeout, err := getEnvInt("SCRIPT_TIMEOUT", 300)
	if err != nil {
		return nil, err
	}
	if scriptTimeout <= 0 {
		return nil, fmt.Errorf("SCRIPT_TIMEOUT must be a positive integer")
	}
	cfg.ScriptTimeout = time.Duration(scriptTimeout) * time.Second

	fetchTimeout, err := getEnvInt("API_FETCH_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	if fetchTimeout <= 0 {
		return nil, fmt.Errorf("API_FETCH_TIMEOUT must be a positive integer")
	}
	cfg.FetchTimeout = time.Duration(fetchTimeout) * time.Second

	if cfg.Workers, err = getEnvInt("WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("WORKERS must be a positive integer")
	}

	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseLevel maps a LOG_LEVEL string to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of: DEBUG, INFO, WARNING, ERROR")
	}
}

// SetupLogging installs the process-wide slog handler. When LogFile is set,
// log lines are written to both stderr and the file.
func (c *Config) SetupLogging() error {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
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
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
}
