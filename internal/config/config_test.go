package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("IDP_BASE_URL", "http://auth:8081")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "user-lifecycle", cfg.EventsExchange)
	assert.Equal(t, 5*time.Second, cfg.ExternalCallTimeout)
	assert.Equal(t, 3*time.Second, cfg.EventPublishTimeout)
	assert.Equal(t, 1, cfg.SecurityMinQuestions)
	assert.Equal(t, "@hourly", cfg.OutboxPurgeSchedule)
	assert.Equal(t, 72*time.Hour, cfg.OutboxRetention)
	assert.False(t, cfg.EmitUnchanged)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	env := "STORE_BACKEND=memory\nIDP_BASE_URL=http://file\nSECURITY_MIN_QUESTIONS=3\nSERVER_PORT=9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Setenv("SECURITY_MIN_QUESTIONS", "2")
	t.Setenv("PORT", "7000")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "http://file", cfg.IdPBaseURL)
	assert.Equal(t, 2, cfg.SecurityMinQuestions)
	assert.Equal(t, "7000", cfg.ServerPort)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres_without_url", env: map[string]string{"STORE_BACKEND": "postgres", "IDP_BASE_URL": "http://x"}},
		{name: "unknown_backend", env: map[string]string{"STORE_BACKEND": "redis", "IDP_BASE_URL": "http://x"}},
		{name: "missing_idp", env: map[string]string{"STORE_BACKEND": "memory"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("IDP_BASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(t.TempDir()); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}
