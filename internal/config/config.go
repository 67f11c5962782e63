package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete xref configuration.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Paths    PathsConfig    `yaml:"paths" json:"paths"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Query    QueryConfig    `yaml:"query" json:"query"`
	Server   ServerConfig   `yaml:"server" json:"server"`
}

// PathsConfig configures which source files become input units.
type PathsConfig struct {
	Include          []string `yaml:"include" json:"include"`
	Exclude          []string `yaml:"exclude" json:"exclude"`
	RespectGitignore bool     `yaml:"respect_gitignore" json:"respect_gitignore"`
	// MaxFileSize is a size such as "2MB". Larger files are not scanned.
	MaxFileSize string `yaml:"max_file_size" json:"max_file_size"`
}

// PipelineConfig configures the background derivation executor.
type PipelineConfig struct {
	// PoolSize is how many work sets may derive concurrently.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
	// MemoryLimit is "auto", "off", or a heap size such as "1GB".
	// Reaching it cancels a run between units.
	MemoryLimit string `yaml:"memory_limit" json:"memory_limit"`
	// EagerIndex starts a full derivation in the background when serving.
	EagerIndex bool `yaml:"eager_index" json:"eager_index"`
}

// CacheConfig configures in-memory caches.
type CacheConfig struct {
	// ContentEntries is the number of file contents the reader keeps.
	ContentEntries int `yaml:"content_entries" json:"content_entries"`
}

// QueryConfig configures query output.
type QueryConfig struct {
	MaxResults int `yaml:"max_results" json:"max_results"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport   string `yaml:"transport" json:"transport"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/.xref/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.min.js",
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include:          []string{},
			Exclude:          append([]string{}, defaultExcludePatterns...),
			RespectGitignore: true,
			MaxFileSize:      "2MB",
		},
		Pipeline: PipelineConfig{
			PoolSize:    poolSize,
			MemoryLimit: "auto",
			EagerIndex:  false,
		},
		Cache: CacheConfig{
			ContentEntries: 256,
		},
		Query: QueryConfig{
			MaxResults: 200,
		},
		Server: ServerConfig{
			Transport:   "stdio",
			MetricsAddr: "",
			LogLevel:    "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file path:
// $XDG_CONFIG_HOME/xref/config.yaml, or ~/.config/xref/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "xref", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "xref", "config.yaml")
	}
	return filepath.Join(home, ".config", "xref", "config.yaml")
}

// Load loads configuration for the project in dir.
// Layers apply in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/xref/config.yaml)
//  3. Project config (.xref.yaml or .xref.yml in dir)
//  4. Environment variables (XREF_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir loads .xref.yaml, falling back to .xref.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".xref.yaml", ".xref.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML overlays the fields present in path onto c.
// Exclude patterns accumulate instead of replacing the defaults.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	next := *c
	next.Paths.Exclude = nil
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	exclude := make([]string, 0, len(c.Paths.Exclude)+len(next.Paths.Exclude))
	exclude = append(exclude, c.Paths.Exclude...)
	exclude = append(exclude, next.Paths.Exclude...)
	next.Paths.Exclude = exclude

	*c = next
	return nil
}

// applyEnvOverrides applies XREF_* variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("XREF_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("XREF_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("XREF_MEMORY_LIMIT"); v != "" {
		c.Pipeline.MemoryLimit = v
	}
	if v := os.Getenv("XREF_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("XREF_POOL_SIZE must be an integer, got %q", v)
		}
		c.Pipeline.PoolSize = n
	}
	if v := os.Getenv("XREF_MAX_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("XREF_MAX_RESULTS must be an integer, got %q", v)
		}
		c.Query.MaxResults = n
	}
	if v := os.Getenv("XREF_EAGER_INDEX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("XREF_EAGER_INDEX must be a boolean, got %q", v)
		}
		c.Pipeline.EagerIndex = b
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Pipeline.PoolSize < 1 {
		return fmt.Errorf("pipeline.pool_size must be at least 1, got %d", c.Pipeline.PoolSize)
	}
	if _, err := c.MemoryLimitBytes(); err != nil {
		return fmt.Errorf("pipeline.memory_limit: %w", err)
	}
	if _, err := c.MaxFileSizeBytes(); err != nil {
		return fmt.Errorf("paths.max_file_size: %w", err)
	}
	if c.Cache.ContentEntries < 0 {
		return fmt.Errorf("cache.content_entries must be non-negative, got %d", c.Cache.ContentEntries)
	}
	if c.Query.MaxResults < 0 {
		return fmt.Errorf("query.max_results must be non-negative, got %d", c.Query.MaxResults)
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// MemoryLimitBytes resolves Pipeline.MemoryLimit to a heap limit in bytes.
// Zero means no limit. "auto" is 90% of the Go runtime soft memory limit
// (GOMEMLIMIT) when one is set.
func (c *Config) MemoryLimitBytes() (uint64, error) {
	switch strings.ToLower(strings.TrimSpace(c.Pipeline.MemoryLimit)) {
	case "", "off", "none":
		return 0, nil
	case "auto":
		limit := debug.SetMemoryLimit(-1)
		if limit <= 0 || limit == math.MaxInt64 {
			return 0, nil
		}
		return uint64(float64(limit) * 0.9), nil
	}
	return ParseSize(c.Pipeline.MemoryLimit)
}

// MaxFileSizeBytes resolves Paths.MaxFileSize. Zero means the scanner default.
func (c *Config) MaxFileSizeBytes() (int64, error) {
	if strings.TrimSpace(c.Paths.MaxFileSize) == "" {
		return 0, nil
	}
	n, err := ParseSize(c.Paths.MaxFileSize)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// ParseSize parses sizes like "512MB", "2 GiB", "64k" or "1024".
func ParseSize(s string) (uint64, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	units := []struct {
		suffix string
		mult   uint64
	}{
		{"GIB", 1 << 30}, {"MIB", 1 << 20}, {"KIB", 1 << 10},
		{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10},
		{"G", 1 << 30}, {"M", 1 << 20}, {"K", 1 << 10},
		{"B", 1},
	}

	mult := uint64(1)
	for _, u := range units {
		if strings.HasSuffix(v, u.suffix) {
			mult = u.mult
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			break
		}
	}

	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return uint64(n * float64(mult)), nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// FindProjectRoot walks up from startDir looking for .git or .xref.yaml.
// It returns the absolute startDir when neither is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	current := absDir
	for {
		if dirExists(filepath.Join(current, ".git")) ||
			fileExists(filepath.Join(current, ".xref.yaml")) ||
			fileExists(filepath.Join(current, ".xref.yml")) {
			return current, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absDir, nil
		}
		current = parent
	}
}

// DataDir returns the per-project state directory, <root>/.xref.
func DataDir(root string) string {
	return filepath.Join(root, ".xref")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
