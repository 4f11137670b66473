package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/fleetctx/internal/embedder"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{"CORE_IP": "10.0.0.1"}))
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())

	endpoints := cfg.Endpoints()
	require.Len(t, endpoints, 3)
	assert.Equal(t, "core", endpoints[0].Server)
	assert.Equal(t, "10.0.0.1", endpoints[0].Host)
	assert.Equal(t, 22, endpoints[0].Port)
	assert.Equal(t, "root", endpoints[0].User)
	assert.Equal(t, 10*time.Second, endpoints[0].Timeout)
	assert.Empty(t, endpoints[1].Host, "edge stays unconfigured without EDGE_IP")

	p := cfg.Policy()
	assert.Equal(t, []string{
		"/opt/dkg/dkg-node/config/config.json",
		"/opt/dkg/dkg-node/.origintrail_noderc",
		"/opt/dkg/dkg-node/.env",
	}, p.ImportantPaths("core"))
	resolved, err := p.Resolve("edge", "auth")
	require.NoError(t, err)
	assert.Equal(t, "/opt/edge-node/edge-node-authentication-service", resolved)
	assert.True(t, p.IsExcluded("/opt/dkg/dkg-node/node_modules/x/package.json"))

	opts := cfg.EngineOptions()
	assert.Equal(t, 300*time.Second, opts.CacheTTL)
	assert.Equal(t, embedder.ProviderLocal, cfg.EmbedderConfig().Provider)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: Web
    host: 192.168.1.10
    port: 2222
    search_roots: [/etc/nginx, /var/www]
    important_paths: [/etc/nginx/nginx.conf]
    aliases:
      nginx: /etc/nginx/nginx.conf
excluded_dirs: [node_modules, .cache]
cache:
  url: redis://cache:6380/2
  ttl_seconds: 60
index:
  path: /var/lib/fleetctx/index.db
  max_records: 5000
search:
  vector_results: 8
warmup:
  workers: 2
`)
	t.Setenv(EnvRedisURL, "")
	t.Setenv(embedder.EnvProvider, "")
	t.Setenv(embedder.EnvJinaAPIKey, "")
	t.Setenv(embedder.EnvOpenAIAPIKey, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "web", cfg.Servers[0].Name)
	assert.Equal(t, 2222, cfg.Servers[0].Port)
	assert.Equal(t, "redis://cache:6380/2", cfg.Cache.URL)

	opts := cfg.EngineOptions()
	assert.Equal(t, time.Minute, opts.CacheTTL)
	assert.Equal(t, 8, opts.VectorResults)
	assert.Equal(t, 5000, opts.MaxIndexRecords)
	assert.Equal(t, 2, opts.WarmupWorkers)
	assert.True(t, opts.Policy.IsExcluded("/var/www/.cache/x"))
	assert.False(t, opts.Policy.IsExcluded("/var/www/vendor/x"), "file list replaces the defaults")
}

func TestLoadKeepsDefaultServersWhenFileHasNone(t *testing.T) {
	path := writeConfig(t, "cache:\n  ttl_seconds: 30\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Servers, 3)
	assert.Equal(t, 30, cfg.Cache.TTLSeconds)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvConfig, "")
	cfg, err := Load("")
	require.NoError(t, err, "the default path is optional")
	assert.Len(t, cfg.Servers, 3)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "servers: [\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(env(map[string]string{
		"EDGE_IP":                "10.0.0.2",
		"ERPNEXT_IP":             "10.0.0.3",
		EnvRedisURL:              "redis://r:6379",
		EnvIndexPath:             "/data/index.db",
		EnvDocsRoot:              "/opt/docs",
		embedder.EnvJinaAPIKey:   "jina-key",
		embedder.EnvOpenAIAPIKey: "openai-key",
	}))

	assert.Equal(t, "10.0.0.2", cfg.Servers[1].Host)
	assert.Equal(t, "10.0.0.3", cfg.Servers[2].Host)
	assert.Equal(t, "redis://r:6379", cfg.Cache.URL)
	assert.Equal(t, "/data/index.db", cfg.Index.Path)
	assert.Equal(t, "/opt/docs", cfg.Docs.Root)
	assert.Equal(t, embedder.ProviderJina, cfg.Embedding.Provider, "jina key wins when both are set")
	assert.Equal(t, "jina-key", cfg.Embedding.APIKey)

	cfg = Default()
	cfg.ApplyEnv(env(map[string]string{
		embedder.EnvProvider:     "OpenAI",
		embedder.EnvOpenAIAPIKey: "openai-key",
	}))
	assert.Equal(t, embedder.ProviderOpenAI, cfg.Embedding.Provider)
	assert.Equal(t, "openai-key", cfg.Embedding.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unnamed server", func(c *Config) { c.Servers[0].Name = "" }},
		{"colon in name", func(c *Config) { c.Servers[0].Name = "a:b" }},
		{"duplicate server", func(c *Config) { c.Servers[1].Name = "core" }},
		{"bad port", func(c *Config) { c.Servers[0].Port = 70000 }},
		{"relative root", func(c *Config) { c.Servers[0].SearchRoots = []string{"opt/dkg"} }},
		{"relative alias", func(c *Config) { c.Servers[0].Aliases = map[string]string{"x": "x"} }},
		{"negative ttl", func(c *Config) { c.Cache.TTLSeconds = -1 }},
		{"negative max records", func(c *Config) { c.Index.MaxRecords = -1 }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "bert" }},
		{"missing api key", func(c *Config) { c.Embedding.Provider = embedder.ProviderOpenAI }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.applyDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}
