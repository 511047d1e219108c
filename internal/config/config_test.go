package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("CHAT_TEST_DB_HOST", "db.internal")
	path := writeConfig(t, `
server:
  port: 9000
database:
  host: ${CHAT_TEST_DB_HOST}
  user: ${CHAT_TEST_DB_USER:-chat}
  dbname: chat
jwt:
  secret: s3cret
chat:
  global_admin_bypass: true
  user_cache_ttl: 30s
  allowed_origins:
    - https://app.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "chat", cfg.Database.User)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.True(t, cfg.Chat.GlobalAdminBypass)
	assert.Equal(t, 30*time.Second, cfg.Chat.UserCacheTTL)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Chat.AllowedOrigins)
	assert.Equal(t, 50, cfg.Chat.PageSize)
	assert.Equal(t, 100, cfg.Chat.MaxPageSize)
	assert.Equal(t, 20, cfg.Storage.MaxUploadMB)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SERVER_PORT", "7000")
	t.Setenv("CHAT_GLOBAL_ADMIN_BYPASS", "true")
	path := writeConfig(t, "server:\n  port: 9000\njwt:\n  secret: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.True(t, cfg.Chat.GlobalAdminBypass)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "only-env")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "only-env", cfg.JWT.Secret)
	assert.Equal(t, 8083, cfg.Server.Port)
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	assert.Error(t, err)
}

func TestLoad_RejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestIsDevelopment(t *testing.T) {
	for env, want := range map[string]bool{"": true, "local": true, "dev": true, "staging": false, "prod": false} {
		cfg := Default()
		cfg.Server.Env = env
		assert.Equal(t, want, cfg.IsDevelopment(), env)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", mask(""))
	assert.Equal(t, "****", mask("abc"))
	assert.Equal(t, "ab****gh", mask("abcdefgh"))
}
