package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
	PDF      PDFConfig
	Signing  SigningConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
}

type EmailConfig struct {
	AWSRegion      string
	FromAddress    string
	SigningURLBase string
}

// PDFConfig points at the headless-browser rendering service that turns
// invoice HTML into the signed PDF copy. An empty URL disables delivery of
// the signed copy; the signing flow itself is unaffected.
type PDFConfig struct {
	RendererURL string
	Timeout     time.Duration
}

// SigningConfig holds the signing-token and fishing-defense knobs. The
// defaults mirror production behavior: a 30-day token life, a permanent block
// after 5 failed lookups inside 15 minutes, and an hourly sweep of stale
// tracking entries.
type SigningConfig struct {
	TokenTTLDays        int
	FishingMaxFailures  int
	FishingWindow       time.Duration
	FailureRateLimit    int
	FailureRateWindow   time.Duration
	PublicRateLimit     int
	PublicRateWindow    time.Duration
	SweepInterval       time.Duration
	AttemptIdleEviction time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "signet"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseCSV(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: parseCSV(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		},
		Email: EmailConfig{
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress:    getEnv("EMAIL_FROM_ADDRESS", ""),
			SigningURLBase: getEnv("SIGNING_URL_BASE", "http://localhost:8080"),
		},
		PDF: PDFConfig{
			RendererURL: getEnv("PDF_RENDERER_URL", ""),
			Timeout:     getEnvAsDuration("PDF_RENDERER_TIMEOUT", 60*time.Second),
		},
		Signing: SigningConfig{
			TokenTTLDays:        getEnvAsInt("SIGNING_TOKEN_TTL_DAYS", 30),
			FishingMaxFailures:  getEnvAsInt("FISHING_MAX_FAILURES", 5),
			FishingWindow:       getEnvAsDuration("FISHING_WINDOW", 15*time.Minute),
			FailureRateLimit:    getEnvAsInt("FAILURE_RATE_LIMIT", 5),
			FailureRateWindow:   getEnvAsDuration("FAILURE_RATE_WINDOW", 15*time.Minute),
			PublicRateLimit:     getEnvAsInt("SIGNING_RATE_LIMIT", 10),
			PublicRateWindow:    getEnvAsDuration("SIGNING_RATE_WINDOW", 15*time.Minute),
			SweepInterval:       getEnvAsDuration("ATTEMPT_SWEEP_INTERVAL", 1*time.Hour),
			AttemptIdleEviction: getEnvAsDuration("ATTEMPT_IDLE_EVICTION", 1*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if env == "production" && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required in production")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
