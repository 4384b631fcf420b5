package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-sufficiently-long-test-secret")
	t.Setenv("DB_PASSWORD", "postgres")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "signet", cfg.Database.Name)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30, cfg.Signing.TokenTTLDays)
	assert.Equal(t, 5, cfg.Signing.FishingMaxFailures)
	assert.Equal(t, 15*time.Minute, cfg.Signing.FishingWindow)
	assert.Equal(t, 1*time.Hour, cfg.Signing.SweepInterval)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadRequiresDBPassword(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-sufficiently-long-test-secret")
	t.Setenv("DB_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_PASSWORD")
}

func TestLoadRejectsWeakJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("DB_PASSWORD", "postgres")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadProductionRequiresLongerSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "only-twenty-chars-xx")
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("EMAIL_FROM_ADDRESS", "invoices@example.com")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SIGNING_TOKEN_TTL_DAYS", "7")
	t.Setenv("FISHING_MAX_FAILURES", "3")
	t.Setenv("FISHING_WINDOW", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Signing.TokenTTLDays)
	assert.Equal(t, 3, cfg.Signing.FishingMaxFailures)
	assert.Equal(t, 5*time.Minute, cfg.Signing.FishingWindow)
}
