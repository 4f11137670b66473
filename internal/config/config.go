package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/fleetctx/internal/embedder"
	"github.com/dshills/fleetctx/internal/engine"
	"github.com/dshills/fleetctx/internal/policy"
	"github.com/dshills/fleetctx/internal/shell"
)

// Environment overrides applied after the file is read
const (
	EnvRedisURL  = "FLEETCTX_REDIS_URL"
	EnvIndexPath = "FLEETCTX_INDEX_PATH"
	EnvDocsRoot  = "FLEETCTX_DOCS_ROOT"
	EnvConfig    = "FLEETCTX_CONFIG"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	Servers      []ServerConfig      `yaml:"servers"`
	ExcludedDirs []string            `yaml:"excluded_dirs,omitempty"`
	Categories   map[string][]string `yaml:"categories,omitempty"`
	Cache        CacheConfig         `yaml:"cache"`
	Index        IndexConfig         `yaml:"index"`
	Embedding    EmbeddingConfig     `yaml:"embedding"`
	Docs         DocsConfig          `yaml:"docs"`
	Search       SearchConfig        `yaml:"search,omitempty"`
	Warmup       WarmupConfig        `yaml:"warmup,omitempty"`
}

// ServerConfig describes one managed server
type ServerConfig struct {
	Name           string            `yaml:"name"`
	Host           string            `yaml:"host,omitempty"`
	HostEnv        string            `yaml:"host_env,omitempty"` // Environment variable holding the host
	Port           int               `yaml:"port,omitempty"`
	User           string            `yaml:"user,omitempty"`
	KeyFile        string            `yaml:"key_file,omitempty"`
	KnownHostsFile string            `yaml:"known_hosts_file,omitempty"`
	TimeoutSeconds int               `yaml:"timeout_seconds,omitempty"`
	MaxSessions    int               `yaml:"max_sessions,omitempty"`
	SearchRoots    []string          `yaml:"search_roots"`
	ImportantPaths []string          `yaml:"important_paths,omitempty"`
	Aliases        map[string]string `yaml:"aliases,omitempty"`
}

// CacheConfig holds the key-value cache settings
type CacheConfig struct {
	URL        string `yaml:"url,omitempty"`
	TTLSeconds int    `yaml:"ttl_seconds,omitempty"`
}

// IndexConfig holds vector index settings
type IndexConfig struct {
	Path        string  `yaml:"path,omitempty"`
	MaxRecords  int     `yaml:"max_records,omitempty"`  // 0 keeps every record
	MaxDistance float64 `yaml:"max_distance,omitempty"` // 0 keeps every hit
}

// EmbeddingConfig holds embedding provider settings
type EmbeddingConfig struct {
	Provider  string `yaml:"provider,omitempty"` // "local" | "openai" | "jina"
	APIKey    string `yaml:"api_key,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
	CacheSize int    `yaml:"cache_size,omitempty"`
	MaxChars  int    `yaml:"max_chars,omitempty"`
}

// DocsConfig holds the local documentation tree
type DocsConfig struct {
	Root     string   `yaml:"root,omitempty"`
	Patterns []string `yaml:"patterns,omitempty"`
}

// SearchConfig tunes hybrid search
type SearchConfig struct {
	VectorResults int `yaml:"vector_results,omitempty"`
	MaxCandidates int `yaml:"max_candidates,omitempty"`
}

// WarmupConfig tunes startup warmup
type WarmupConfig struct {
	Workers int  `yaml:"workers,omitempty"`
	Skip    bool `yaml:"skip,omitempty"`
}

// Default returns the built-in configuration for the core, edge and erp servers.
// Hosts come from CORE_IP, EDGE_IP and ERPNEXT_IP.
func Default() *Config {
	return &Config{
		Servers: []ServerConfig{
			{
				Name:    "core",
				HostEnv: "CORE_IP",
				SearchRoots: []string{
					"/opt/dkg",
					"/opt/dkg/dkg-node",
					"/root",
					"/opt/dkg/config",
					"/var/log/dkg",
					"/etc/systemd/system",
					"/etc/nginx/sites-enabled",
				},
				ImportantPaths: []string{
					"/opt/dkg/dkg-node/config/config.json",
					"/opt/dkg/dkg-node/.origintrail_noderc",
					"/opt/dkg/dkg-node/.env",
				},
				Aliases: map[string]string{
					"config": "/root/.origintrail_noderc",
					"dkg":    "/opt/dkg",
					"env":    "/opt/dkg/.env",
				},
			},
			{
				Name:    "edge",
				HostEnv: "EDGE_IP",
				SearchRoots: []string{
					"/opt/edge-node",
					"/opt/edge-node/edge-node-api",
					"/opt/edge-node/edge-node-authentication-service",
					"/opt/edge-node/edge-node-drag",
					"/opt/edge-node/edge-node-interface",
					"/opt/edge-node/edge-node-knowledge-mining",
					"/root",
					"/etc/nginx/sites-enabled",
					"/var/log",
				},
				ImportantPaths: []string{
					"/opt/edge-node/edge-node-api/.env",
					"/opt/edge-node/edge-node-authentication-service/.env",
					"/opt/edge-node/edge-node-drag/.env",
				},
				Aliases: map[string]string{
					"api":       "/opt/edge-node/edge-node-api",
					"auth":      "/opt/edge-node/edge-node-authentication-service",
					"drag":      "/opt/edge-node/edge-node-drag",
					"interface": "/opt/edge-node/edge-node-interface",
					"mining":    "/opt/edge-node/edge-node-knowledge-mining",
					"env":       "/opt/edge-node/edge-node-api/.env",
				},
			},
			{
				Name:    "erp",
				HostEnv: "ERPNEXT_IP",
				SearchRoots: []string{
					"/home/frappe/frappe-bench",
					"/home/frappe/frappe-bench/sites",
					"/etc/nginx/conf.d",
					"/var/log",
					"/home/frappe/frappe-bench/config",
				},
				Aliases: map[string]string{
					"sites":  "/home/frappe/frappe-bench/sites",
					"config": "/home/frappe/frappe-bench/config",
					"logs":   "/home/frappe/frappe-bench/logs",
				},
			},
		},
	}
}

// DefaultPath is ~/.fleetctx/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fleetctx", "config.yaml")
	}
	return filepath.Join(home, ".fleetctx", "config.yaml")
}

// Load reads path over the built-in defaults and applies environment overrides.
// An empty path uses FLEETCTX_CONFIG, then DefaultPath; a missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfig)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Servers listed in the file replace the built-in list.
func Parse(data []byte, cfg *Config) error {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	if len(file.Servers) == 0 {
		file.Servers = cfg.Servers
	}
	*cfg = file
	return nil
}

// ApplyEnv applies environment overrides using getenv
func (c *Config) ApplyEnv(getenv func(string) string) {
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.HostEnv != "" {
			if host := getenv(s.HostEnv); host != "" {
				s.Host = host
			}
		}
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Cache.URL = v
	}
	if v := getenv(EnvIndexPath); v != "" {
		c.Index.Path = v
	}
	if v := getenv(EnvDocsRoot); v != "" {
		c.Docs.Root = v
	}
	if v := getenv(embedder.EnvProvider); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if c.Embedding.Provider == "" {
		switch {
		case getenv(embedder.EnvJinaAPIKey) != "":
			c.Embedding.Provider = embedder.ProviderJina
		case getenv(embedder.EnvOpenAIAPIKey) != "":
			c.Embedding.Provider = embedder.ProviderOpenAI
		}
	}
	if c.Embedding.APIKey == "" {
		switch c.Embedding.Provider {
		case embedder.ProviderJina:
			c.Embedding.APIKey = getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = getenv(embedder.EnvOpenAIAPIKey)
		}
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Servers {
		s := &c.Servers[i]
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		if s.Port == 0 {
			s.Port = 22
		}
		if s.User == "" {
			s.User = "root"
		}
		if s.KeyFile == "" {
			s.KeyFile = "/root/.ssh/id_ed25519"
		}
		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = 10
		}
	}
	if c.Cache.URL == "" {
		c.Cache.URL = "redis://localhost:6379"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = int(engine.DefaultCacheTTL / time.Second)
	}
	if c.Index.Path == "" {
		c.Index.Path = filepath.Join(filepath.Dir(DefaultPath()), "index.db")
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = embedder.ProviderLocal
	}
	if c.Embedding.CacheSize == 0 {
		c.Embedding.CacheSize = 10000
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("%w: server %d has no name", ErrInvalid, i)
		}
		if strings.Contains(s.Name, ":") {
			return fmt.Errorf("%w: server name %q must not contain ':'", ErrInvalid, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate server %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("%w: server %q port %d out of range", ErrInvalid, s.Name, s.Port)
		}
		for _, p := range append(append([]string{}, s.SearchRoots...), s.ImportantPaths...) {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%w: server %q path %q is not absolute", ErrInvalid, s.Name, p)
			}
		}
		for alias, p := range s.Aliases {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("%w: server %q alias %q is not absolute", ErrInvalid, s.Name, alias)
			}
		}
	}

	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("%w: cache ttl_seconds must not be negative", ErrInvalid)
	}
	if c.Index.MaxRecords < 0 || c.Index.MaxDistance < 0 {
		return fmt.Errorf("%w: index limits must not be negative", ErrInvalid)
	}
	switch c.Embedding.Provider {
	case embedder.ProviderLocal, embedder.ProviderOpenAI, embedder.ProviderJina:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, c.Embedding.Provider)
	}
	if c.Embedding.Provider != embedder.ProviderLocal && c.Embedding.APIKey == "" {
		return fmt.Errorf("%w: embedding provider %q needs an api key", ErrInvalid, c.Embedding.Provider)
	}
	return nil
}

// Policy builds the path policy
func (c *Config) Policy() *policy.Policy {
	servers := make(map[string]policy.Server, len(c.Servers))
	for _, s := range c.Servers {
		servers[s.Name] = policy.Server{
			SearchRoots:    s.SearchRoots,
			ImportantPaths: s.ImportantPaths,
			Aliases:        s.Aliases,
		}
	}
	return policy.New(servers, c.ExcludedDirs, c.Categories)
}

// Endpoints returns the shell endpoints in configuration order. Servers without a host
// are returned too; the pool treats them as unconfigured.
func (c *Config) Endpoints() []shell.Endpoint {
	out := make([]shell.Endpoint, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, shell.Endpoint{
			Server:         s.Name,
			Host:           s.Host,
			Port:           s.Port,
			User:           s.User,
			KeyFile:        s.KeyFile,
			KnownHostsFile: s.KnownHostsFile,
			Timeout:        time.Duration(s.TimeoutSeconds) * time.Second,
		})
	}
	return out
}

// MaxSessions returns the largest per-server session limit, or 0 for the pool default
func (c *Config) MaxSessions() int {
	n := 0
	for _, s := range c.Servers {
		if s.MaxSessions > n {
			n = s.MaxSessions
		}
	}
	return n
}

// EngineOptions builds the engine options
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Policy:          c.Policy(),
		CacheTTL:        time.Duration(c.Cache.TTLSeconds) * time.Second,
		VectorResults:   c.Search.VectorResults,
		MaxDistance:     c.Index.MaxDistance,
		MaxCandidates:   c.Search.MaxCandidates,
		MaxIndexRecords: c.Index.MaxRecords,
		MaxEmbedChars:   c.Embedding.MaxChars,
		WarmupWorkers:   c.Warmup.Workers,
		SkipWarmup:      c.Warmup.Skip,
	}
}

// EmbedderConfig builds the embedder configuration
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		APIKey:    c.Embedding.APIKey,
		Endpoint:  c.Embedding.Endpoint,
		Model:     c.Embedding.Model,
		Dimension: c.Embedding.Dimension,
		CacheSize: c.Embedding.CacheSize,
	}
}
