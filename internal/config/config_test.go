package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	conf, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", conf.Auth.JWTSecret)
	assert.Equal(t, "5000", conf.Server.Port)
	assert.Equal(t, "postgres", conf.DB.Driver)
	assert.Equal(t, 30*24*time.Hour, conf.Auth.TokenTTL)
	assert.Equal(t, 8*time.Second, conf.Client.PollInterval)
	assert.Equal(t, []string{"http://localhost:3000", "https://letschat-frontend.vercel.app"}, conf.Server.AllowedOrigins)
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LETSCHAT_AUTH_JWT_SECRET", "")

	_, err := load("")
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LETSCHAT_AUTH_JWT_SECRET", "abc")
	t.Setenv("PORT", "8083")
	t.Setenv("LETSCHAT_DB_DRIVER", "sqlite")
	t.Setenv("LETSCHAT_DB_DSN", "file:chat.db")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")

	conf, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "8083", conf.Server.Port)
	assert.Equal(t, "sqlite", conf.DB.Driver)
	assert.Equal(t, "file:chat.db", conf.DB.DSN)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, conf.Server.AllowedOrigins)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("log_level: debug\nauth:\n  jwt_secret: from-file\nstorage:\n  backend: s3\n  s3_bucket: media\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	conf, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "from-file", conf.Auth.JWTSecret)
	assert.Equal(t, "s3", conf.Storage.Backend)
	assert.Equal(t, "media", conf.Storage.S3Bucket)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("LETSCHAT_DB_DRIVER", "mysql")

	_, err := load("")
	require.Error(t, err)
}

func TestLoadClientSkipsServerValidation(t *testing.T) {
	t.Setenv("LETSCHAT_CONFIG", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LETSCHAT_CLIENT_TOKEN", "tok")
	t.Setenv("LETSCHAT_CLIENT_USER_ID", "u1")

	conf, err := LoadClient()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", conf.BaseURL)
	assert.Equal(t, "tok", conf.Token)
	assert.Equal(t, "u1", conf.UserID)
	assert.Equal(t, 32, conf.CachedPeers)
}

func TestLoadClientRequiresToken(t *testing.T) {
	t.Setenv("LETSCHAT_CONFIG", "")
	t.Setenv("LETSCHAT_CLIENT_TOKEN", "")
	t.Setenv("LETSCHAT_CLIENT_USER_ID", "u1")

	_, err := LoadClient()
	require.Error(t, err)
}
