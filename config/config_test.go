package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaydock/lighter"
	"github.com/quaydock/lighter/config"
	"github.com/quaydock/lighter/resume"
	"github.com/quaydock/lighter/transfer"
)

func TestLoad_Defaults(t *testing.T) {
	// Load with no config files should use defaults
	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8647, cfg.Server.Port)
	assert.Equal(t, "dev", cfg.Log.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, resume.DriverMemory, cfg.Resume.Driver)
	assert.Equal(t, transfer.DefaultChunkSize, cfg.Transfer.ChunkSize)
	assert.Equal(t, transfer.DefaultDirectWorkers, cfg.Transfer.DirectWorkers)
	assert.Equal(t, transfer.DefaultProxyWorkers, cfg.Transfer.ProxyWorkers)
	assert.Empty(t, cfg.Storages)
}

func TestLoad_ConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
log:
  env: prod
  level: debug
resume:
  driver: sqlite
  dsn: /var/lib/lighter/resume.db
transfer:
  chunk_size: 52428800
  direct_workers: 8
  proxy_workers: 4
storages:
  media:
    kind: s3
    endpoint: https://s3.example.com
    region: eu-west-1
    access_id: AKIATEST
    secret: sekrit
    bucket: media
    base_path: team-a
  shared:
    kind: webdav
    endpoint: https://dav.example.com/remote.php/dav
    access_id: alice
    secret: hunter2
`
	err := os.WriteFile(configPath, []byte(configContent), 0o644)
	require.NoError(t, err)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "prod", cfg.Log.Env)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Resume.Driver)
	assert.Equal(t, "/var/lib/lighter/resume.db", cfg.Resume.DSN)
	assert.Equal(t, int64(52428800), cfg.Transfer.ChunkSize)
	assert.Equal(t, 8, cfg.Transfer.DirectWorkers)

	require.Len(t, cfg.Storages, 2)
	media := cfg.Storages["media"]
	assert.Equal(t, lighter.KindS3, media.Kind)
	assert.Equal(t, "https://s3.example.com", media.Endpoint)
	assert.Equal(t, "eu-west-1", media.Region)
	assert.Equal(t, "media", media.Bucket)
	assert.Equal(t, "team-a", media.BasePath)
	assert.Equal(t, lighter.KindWebDAV, cfg.Storages["shared"].Kind)
}

func TestLoad_ConfigFileMerge(t *testing.T) {
	tmpDir := t.TempDir()

	basePath := filepath.Join(tmpDir, "base.yaml")
	baseContent := `
server:
  port: 8647
log:
  level: info
resume:
  driver: memory
`
	require.NoError(t, os.WriteFile(basePath, []byte(baseContent), 0o644))

	overridePath := filepath.Join(tmpDir, "override.yaml")
	overrideContent := `
server:
  port: 9000
log:
  level: warn
`
	require.NoError(t, os.WriteFile(overridePath, []byte(overrideContent), 0o644))

	// Load with merge (later files override earlier)
	cfg, err := config.Load([]string{basePath, overridePath}, nil)
	require.NoError(t, err)

	// Overridden values
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)

	// Preserved values from base
	assert.Equal(t, "memory", cfg.Resume.Driver)
}

func TestLoad_ValidationError_InvalidPort(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 99999
log:
  level: info
`)

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_ValidationError_InvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 8647
log:
  level: loud
`)

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoad_InvalidStorageKind(t *testing.T) {
	configPath := writeConfig(t, `
storages:
  bad:
    kind: ftp
    endpoint: ftp://example.com
`)

	_, err := config.Load([]string{configPath}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, lighter.ErrConfig)
}

func TestLoad_WithInlineKeys(t *testing.T) {
	configPath := writeConfig(t, `
auth:
  enabled: true
  keys:
    inline:
      - name: ci
        key: ci-key-123
      - name: ops
        key: ops-key-456
`)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.Auth.Enabled)
	require.Len(t, cfg.Auth.Keys.Inline, 2)
	assert.Equal(t, "ci", cfg.Auth.Keys.Inline[0].Name)
	assert.Equal(t, "ci-key-123", cfg.Auth.Keys.Inline[0].Key)
	assert.Equal(t, "ops", cfg.Auth.Keys.Inline[1].Name)
}

func TestLoad_WithCORS(t *testing.T) {
	configPath := writeConfig(t, `
cors:
  enabled: true
  allowed_origins:
    - https://example.com
    - https://app.example.com
  allowed_methods:
    - GET
    - PUT
  allowed_headers:
    - Content-Type
    - X-API-Key
  max_age: 600
`)

	cfg, err := config.Load([]string{configPath}, nil)
	require.NoError(t, err)

	assert.True(t, cfg.CORS.Enabled)
	assert.Equal(t, []string{"https://example.com", "https://app.example.com"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, []string{"GET", "PUT"}, cfg.CORS.AllowedMethods)
	assert.Equal(t, []string{"Content-Type", "X-API-Key"}, cfg.CORS.AllowedHeaders)
	assert.Equal(t, 600, cfg.CORS.MaxAge)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("LIGHTER_SERVER_PORT", "9090")
	t.Setenv("LIGHTER_RESUME_DRIVER", "sqlite")
	t.Setenv("LIGHTER_RESUME_DSN", "resume.db")
	t.Setenv("LIGHTER_LOG_LEVEL", "error")

	cfg, err := config.Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Resume.Driver)
	assert.Equal(t, "resume.db", cfg.Resume.DSN)
	assert.Equal(t, "error", cfg.Log.Level)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
