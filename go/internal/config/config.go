package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcdev12/multigolf/go/internal/logging"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds relay server settings
type Config struct {
	Host                 string          `yaml:"host"`
	Port                 int             `yaml:"port"`
	SessionExpirySeconds int             `yaml:"session_expiry_seconds"`
	ReaperInterval       time.Duration   `yaml:"reaper_interval"` // 0 disables the reaper
	AllowedOrigins       []string        `yaml:"allowed_origins"`
	ShutdownTimeout      time.Duration   `yaml:"shutdown_timeout"`
	Log                  logging.Config  `yaml:"log"`
	NATS                 NATSConfig      `yaml:"nats"`
	WebSocket            WebSocketConfig `yaml:"websocket"`
}

// NATSConfig holds the optional bus bridge settings
type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables the bridge
	SubjectPrefix string `yaml:"subject_prefix"`
}

// WebSocketConfig holds device connection limits
type WebSocketConfig struct {
	MaxMessageSize int64 `yaml:"max_message_size"`
	SendBuffer     int   `yaml:"send_buffer"`
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 5000,
		SessionExpirySeconds: 3600,
		ReaperInterval:       5 * time.Minute,
		AllowedOrigins:       []string{"*"},
		ShutdownTimeout:      10 * time.Second,
		Log:                  logging.DefaultConfig(),
		NATS: NATSConfig{
			SubjectPrefix: "multigolf",
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 64 * 1024,
			SendBuffer:     256,
		},
	}
}

// Load reads .env if present, then the YAML file named by CONFIG_FILE, then
// environment overrides
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Host = getEnv("HOST", cfg.Host)
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.SessionExpirySeconds = getEnvAsInt("SESSION_EXPIRY_SECONDS", cfg.SessionExpirySeconds)
	cfg.ReaperInterval = getEnvAsDuration("REAPER_INTERVAL", cfg.ReaperInterval)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.MaxSizeMB = getEnvAsInt("LOG_MAX_SIZE_MB", cfg.Log.MaxSizeMB)
	cfg.Log.MaxBackups = getEnvAsInt("LOG_MAX_BACKUPS", cfg.Log.MaxBackups)
	cfg.Log.MaxAgeDays = getEnvAsInt("LOG_MAX_AGE_DAYS", cfg.Log.MaxAgeDays)

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	cfg.WebSocket.MaxMessageSize = int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", int(cfg.WebSocket.MaxMessageSize)))
	cfg.WebSocket.SendBuffer = getEnvAsInt("WS_SEND_BUFFER", cfg.WebSocket.SendBuffer)
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.SessionExpirySeconds <= 0 {
		errs = append(errs, fmt.Errorf("session expiry must be positive, got %d", c.SessionExpirySeconds))
	}
	if c.ReaperInterval < 0 {
		errs = append(errs, fmt.Errorf("reaper interval must not be negative, got %s", c.ReaperInterval))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket max message size must be positive"))
	}
	if c.WebSocket.SendBuffer <= 0 {
		errs = append(errs, errors.New("websocket send buffer must be positive"))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, errors.New("nats subject prefix is required when NATS_URL is set"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionExpiry is the inactivity window after which a session expires
func (c *Config) SessionExpiry() time.Duration {
	return time.Duration(c.SessionExpirySeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring invalid duration environment value")
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
