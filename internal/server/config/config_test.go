package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FINDIT_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "fs", cfg.StorageBackend)
	assert.Equal(t, ViewCountingSession, cfg.ShareViewCounting)
	assert.Equal(t, 30*24*time.Hour, cfg.TrashRetention)
	assert.True(t, cfg.MIMEAllowed("application/pdf"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FINDIT_CONFIG", "")
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://findit.example/")
	t.Setenv("SESSION_SECRET", "8d1f0c5e2b")
	t.Setenv("SESSION_TTL_HOURS", "2")
	t.Setenv("TRASH_RETENTION_DAYS", "7")
	t.Setenv("ALLOWED_MIME_TYPES", "text/plain, image/png")
	t.Setenv("SHARE_VIEW_COUNTING", "request")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "https://findit.example", cfg.BaseURL)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.TrashRetention)
	assert.Equal(t, []string{"text/plain", "image/png"}, cfg.AllowedMIMETypes)
	assert.Equal(t, ViewCountingRequest, cfg.ShareViewCounting)
}

func TestLoad_RefusesDefaultSecretInProduction(t *testing.T) {
	t.Setenv("FINDIT_CONFIG", "")
	t.Setenv("BASE_URL", "https://findit.example")
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestLoad_TOMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findit.toml")
	content := `
port = "7000"
storage_backend = "s3"
s3_bucket = "docs"
max_file_size = 1024
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("FINDIT_CONFIG", path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Port, "env wins over file")
	assert.Equal(t, "s3", cfg.StorageBackend)
	assert.Equal(t, "docs", cfg.S3Bucket)
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.StorageBackend = "ftp" }, true},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = "s3" }, true},
		{"unknown counting mode", func(c *Config) { c.ShareViewCounting = "daily" }, true},
		{"empty secret", func(c *Config) { c.SessionSecret = "" }, true},
		{"default secret over https", func(c *Config) { c.BaseURL = "https://findit.example" }, true},
		{"default secret over HTTPS", func(c *Config) { c.BaseURL = "HTTPS://findit.example" }, true},
		{"own secret over https", func(c *Config) {
			c.BaseURL = "https://findit.example"
			c.SessionSecret = "8d1f0c5e2b"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMIMEAllowed(t *testing.T) {
	cfg := defaults()

	assert.True(t, cfg.MIMEAllowed("image/PNG"))
	assert.True(t, cfg.MIMEAllowed("text/plain; charset=utf-8"))
	assert.False(t, cfg.MIMEAllowed("application/x-msdownload"))
	assert.False(t, cfg.MIMEAllowed(""))
}
