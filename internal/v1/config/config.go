package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Auth modes selecting the token verifier implementation.
const (
	AuthModeJWKS   = "jwks"   // OIDC provider publishing a JWKS document
	AuthModeRemote = "remote" // session auth server publishing an RS256 PEM
	AuthModeNone   = "none"   // development only, accepts any token
)

// Config holds validated configuration for the relay.
type Config struct {
	// Listen address. Flag defaults, overridden by HOST/PORT env vars.
	Host string
	Port string

	// Auth
	AuthMode      string
	Auth0Domain   string
	Auth0Audience string
	AuthServerURL string

	// Relay limits
	RoomCapacity    int
	RateLimitMsgs   int
	RateLimitWindow time.Duration
	RoomIdleTTL     time.Duration
	SweepInterval   time.Duration
	MaxFrameBytes   int64
	SendQueueSize   int

	// Upgrade-time connect limiting (ulule rate format, e.g. "100-M")
	ConnectRateIP string

	// Optional Redis store for the connect limiter
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Ambient
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string
	OtelEnabled     bool
	OtelCollector   string
}

// Load validates environment configuration, using the provided flag values as
// defaults for the listen address. HOST and PORT env vars win over flags.
// Returns an error listing every invalid variable.
func Load(flagHost, flagPort string) (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Host = flagHost
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if cfg.Host == "" {
		errs = append(errs, "host must not be empty")
	}

	cfg.Port = flagPort
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("port must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Auth mode and its per-mode requirements
	cfg.AuthMode = getEnvOrDefault("AUTH_MODE", AuthModeRemote)
	switch cfg.AuthMode {
	case AuthModeJWKS:
		cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
		cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			errs = append(errs, "AUTH0_DOMAIN and AUTH0_AUDIENCE are required when AUTH_MODE=jwks")
		}
	case AuthModeRemote:
		cfg.AuthServerURL = getEnvOrDefault("AUTH_SERVER_URL", "http://127.0.0.1:8081")
		if u, err := url.Parse(cfg.AuthServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("AUTH_SERVER_URL must be an absolute URL (got '%s')", cfg.AuthServerURL))
		}
	case AuthModeNone:
		// validated at startup: only allowed in development mode
	default:
		errs = append(errs, fmt.Sprintf("AUTH_MODE must be one of jwks, remote, none (got '%s')", cfg.AuthMode))
	}

	cfg.RoomCapacity = getEnvInt("ROOM_CAPACITY", 4, &errs)
	if cfg.RoomCapacity < 1 {
		errs = append(errs, fmt.Sprintf("ROOM_CAPACITY must be at least 1 (got %d)", cfg.RoomCapacity))
	}

	cfg.RateLimitMsgs = getEnvInt("RATE_LIMIT_MSGS", 10, &errs)
	if cfg.RateLimitMsgs < 1 {
		errs = append(errs, fmt.Sprintf("RATE_LIMIT_MSGS must be at least 1 (got %d)", cfg.RateLimitMsgs))
	}

	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", time.Second, &errs)
	cfg.RoomIdleTTL = getEnvDuration("ROOM_IDLE_TTL", 2*time.Hour, &errs)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Minute, &errs)

	cfg.MaxFrameBytes = int64(getEnvInt("MAX_FRAME_BYTES", 64*1024, &errs))
	if cfg.MaxFrameBytes < 512 {
		errs = append(errs, fmt.Sprintf("MAX_FRAME_BYTES must be at least 512 (got %d)", cfg.MaxFrameBytes))
	}

	cfg.SendQueueSize = getEnvInt("SEND_QUEUE_SIZE", 256, &errs)
	if cfg.SendQueueSize < 1 {
		errs = append(errs, fmt.Sprintf("SEND_QUEUE_SIZE must be at least 1 (got %d)", cfg.SendQueueSize))
	}

	cfg.ConnectRateIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	cfg.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if cfg.OtelEnabled {
		cfg.OtelCollector = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.OtelCollector == "" {
			errs = append(errs, "OTEL_COLLECTOR_ADDR is required when OTEL_ENABLED=true")
		}
	}

	if cfg.AuthMode == AuthModeNone && !cfg.DevelopmentMode {
		errs = append(errs, "AUTH_MODE=none requires DEVELOPMENT_MODE=true")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("Configuration validated",
		"host", cfg.Host,
		"port", cfg.Port,
		"auth_mode", cfg.AuthMode,
		"room_capacity", cfg.RoomCapacity,
		"rate_limit_msgs", cfg.RateLimitMsgs,
		"rate_limit_window", cfg.RateLimitWindow,
		"room_idle_ttl", cfg.RoomIdleTTL,
		"sweep_interval", cfg.SweepInterval,
		"max_frame_bytes", cfg.MaxFrameBytes,
		"redis_enabled", cfg.RedisEnabled,
		"go_env", cfg.GoEnv,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be a positive duration (got '%s')", key, value))
		return defaultValue
	}
	return d
}
