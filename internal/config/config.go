// Package config loads Context Fabric's YAML configuration, merging
// defaults, the user config, a per-project override file, and environment
// variables in increasing order of precedence (spec §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete Context Fabric configuration, mirroring spec §6's
// recognized options.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	TTL       TTLConfig       `yaml:"ttl" json:"ttl"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Context   ContextConfig   `yaml:"context" json:"context"`
	CodeIndex CodeIndexConfig `yaml:"codeIndex" json:"codeIndex"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// StorageConfig locates the per-project and global database files
// (spec §5's persisted state layout).
type StorageConfig struct {
	L2Path string `yaml:"l2Path" json:"l2Path"`
	L3Path string `yaml:"l3Path" json:"l3Path"`
}

// TTLConfig configures L1 expiry and L3 decay (spec §4.2/§4.4).
type TTLConfig struct {
	L1Default        int64   `yaml:"l1Default" json:"l1Default"`               // seconds
	L3DecayDays      float64 `yaml:"l3DecayDays" json:"l3DecayDays"`           // days
	L3DecayThreshold float64 `yaml:"l3DecayThreshold" json:"l3DecayThreshold"` // score floor
	L3AccessThreshold int    `yaml:"l3AccessThreshold" json:"l3AccessThreshold"`
}

// EmbeddingConfig configures the embedding service (spec §4.3.5/§4.4).
type EmbeddingConfig struct {
	Model     string `yaml:"model" json:"model"` // opaque identifier
	Dimension int    `yaml:"dimension" json:"dimension"`
	BatchSize int    `yaml:"batchSize" json:"batchSize"`
}

// ContextConfig bounds the size of the working-context snapshot returned
// by get_current (spec §6), and the counts of the CLI-level collaborators
// that sit atop it (patterns/suggestions/ghost messages) — thin,
// out-of-core surfaces spec §1 calls out explicitly, but whose size limits
// are still recognized configuration per spec §6.
type ContextConfig struct {
	MaxWorkingMemories  int `yaml:"maxWorkingMemories" json:"maxWorkingMemories"`
	MaxRelevantMemories int `yaml:"maxRelevantMemories" json:"maxRelevantMemories"`
	MaxPatterns         int `yaml:"maxPatterns" json:"maxPatterns"`
	MaxSuggestions      int `yaml:"maxSuggestions" json:"maxSuggestions"`
	MaxGhostMessages    int `yaml:"maxGhostMessages" json:"maxGhostMessages"`
}

// CodeIndexConfig configures the per-project code indexer (spec §4.6).
type CodeIndexConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	MaxFileSizeBytes int64    `yaml:"maxFileSizeBytes" json:"maxFileSizeBytes"`
	MaxFiles         int      `yaml:"maxFiles" json:"maxFiles"`
	ChunkLines       int      `yaml:"chunkLines" json:"chunkLines"`
	ChunkOverlap     int      `yaml:"chunkOverlap" json:"chunkOverlap"`
	DebounceMs       int      `yaml:"debounceMs" json:"debounceMs"`
	WatchEnabled     bool     `yaml:"watchEnabled" json:"watchEnabled"`
	ExcludePatterns  []string `yaml:"excludePatterns" json:"excludePatterns"`
}

// ServerConfig configures the MCP transport (ambient, not spec-defined but
// required to actually run the server — mirrors the teacher's own
// server block).
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

var defaultCodeIndexExcludePatterns = []string{
	"**/node_modules/**", "**/.git/**", "**/vendor/**", "**/__pycache__/**",
	"**/dist/**", "**/build/**", "**/target/**", "**/.venv/**", "**/venv/**",
	"**/.next/**", "**/.nuxt/**", "**/coverage/**", "**/.cache/**",
	"**/.context-fabric/**", "**/.tox/**", "**/.mypy_cache/**",
}

// NewConfig returns a Config populated with spec §6's stated defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			L2Path: "", // empty means per-project default: <project>/.context-fabric/memory.db
			L3Path: "", // empty means <home>/.context-fabric/semantic.db
		},
		TTL: TTLConfig{
			L1Default:         3600,
			L3DecayDays:       14,
			L3DecayThreshold:  0.2,
			L3AccessThreshold: 3,
		},
		Embedding: EmbeddingConfig{
			Model:     "static-hash",
			Dimension: 384,
			BatchSize: 32,
		},
		Context: ContextConfig{
			MaxWorkingMemories:  20,
			MaxRelevantMemories: 10,
			MaxPatterns:         10,
			MaxSuggestions:      5,
			MaxGhostMessages:    5,
		},
		CodeIndex: CodeIndexConfig{
			Enabled:          true,
			MaxFileSizeBytes: 1 << 20, // 1 MiB
			MaxFiles:         10000,
			ChunkLines:       150,
			ChunkOverlap:     10,
			DebounceMs:       500,
			WatchEnabled:     true,
			ExcludePatterns:  defaultCodeIndexExcludePatterns,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigPath returns <home>/.context-fabric/config.yaml (spec §5),
// honoring XDG_CONFIG_HOME when set.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "context-fabric", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".context-fabric", "config.yaml")
	}
	return filepath.Join(home, ".context-fabric", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file, or (nil, nil) if it
// doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load applies configuration in order of increasing precedence: hardcoded
// defaults, the user config (<home>/.context-fabric/config.yaml), a
// per-project override (.context-fabric.yaml in dir), then
// CONTEXT_FABRIC_* environment variables.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".context-fabric.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}
	ymlPath := filepath.Join(dir, ".context-fabric.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays other's non-zero fields onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Storage.L2Path != "" {
		c.Storage.L2Path = other.Storage.L2Path
	}
	if other.Storage.L3Path != "" {
		c.Storage.L3Path = other.Storage.L3Path
	}

	if other.TTL.L1Default != 0 {
		c.TTL.L1Default = other.TTL.L1Default
	}
	if other.TTL.L3DecayDays != 0 {
		c.TTL.L3DecayDays = other.TTL.L3DecayDays
	}
	if other.TTL.L3DecayThreshold != 0 {
		c.TTL.L3DecayThreshold = other.TTL.L3DecayThreshold
	}
	if other.TTL.L3AccessThreshold != 0 {
		c.TTL.L3AccessThreshold = other.TTL.L3AccessThreshold
	}

	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimension != 0 {
		c.Embedding.Dimension = other.Embedding.Dimension
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.Context.MaxWorkingMemories != 0 {
		c.Context.MaxWorkingMemories = other.Context.MaxWorkingMemories
	}
	if other.Context.MaxRelevantMemories != 0 {
		c.Context.MaxRelevantMemories = other.Context.MaxRelevantMemories
	}
	if other.Context.MaxPatterns != 0 {
		c.Context.MaxPatterns = other.Context.MaxPatterns
	}
	if other.Context.MaxSuggestions != 0 {
		c.Context.MaxSuggestions = other.Context.MaxSuggestions
	}
	if other.Context.MaxGhostMessages != 0 {
		c.Context.MaxGhostMessages = other.Context.MaxGhostMessages
	}

	if other.CodeIndex.MaxFileSizeBytes != 0 {
		c.CodeIndex.MaxFileSizeBytes = other.CodeIndex.MaxFileSizeBytes
	}
	if other.CodeIndex.MaxFiles != 0 {
		c.CodeIndex.MaxFiles = other.CodeIndex.MaxFiles
	}
	if other.CodeIndex.ChunkLines != 0 {
		c.CodeIndex.ChunkLines = other.CodeIndex.ChunkLines
	}
	if other.CodeIndex.ChunkOverlap != 0 {
		c.CodeIndex.ChunkOverlap = other.CodeIndex.ChunkOverlap
	}
	if other.CodeIndex.DebounceMs != 0 {
		c.CodeIndex.DebounceMs = other.CodeIndex.DebounceMs
	}
	if len(other.CodeIndex.ExcludePatterns) > 0 {
		c.CodeIndex.ExcludePatterns = other.CodeIndex.ExcludePatterns
	}
	// Enabled/WatchEnabled can legitimately be set to false, so merge them
	// whenever the project file carries any codeIndex section at all.
	if other.CodeIndex.MaxFileSizeBytes != 0 || other.CodeIndex.MaxFiles != 0 ||
		len(other.CodeIndex.ExcludePatterns) > 0 {
		c.CodeIndex.Enabled = other.CodeIndex.Enabled
		c.CodeIndex.WatchEnabled = other.CodeIndex.WatchEnabled
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CONTEXT_FABRIC_* environment variable overrides,
// the highest-precedence layer (spec §6).
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CONTEXT_FABRIC_L2_PATH"); v != "" {
		c.Storage.L2Path = v
	}
	if v := os.Getenv("CONTEXT_FABRIC_L3_PATH"); v != "" {
		c.Storage.L3Path = v
	}
	if v := os.Getenv("CONTEXT_FABRIC_L1_TTL"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.TTL.L1Default = n
		}
	}
	if v := os.Getenv("CONTEXT_FABRIC_L3_DECAY_DAYS"); v != "" {
		if f, err := parseFloat64(v); err == nil && f > 0 {
			c.TTL.L3DecayDays = f
		}
	}
	if v := os.Getenv("CONTEXT_FABRIC_L3_DECAY_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.TTL.L3DecayThreshold = f
		}
	}
	if v := os.Getenv("CONTEXT_FABRIC_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("CONTEXT_FABRIC_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("CONTEXT_FABRIC_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CONTEXT_FABRIC_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("CONTEXT_FABRIC_CODE_INDEX_ENABLED"); v != "" {
		c.CodeIndex.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.TTL.L1Default < 0 {
		return fmt.Errorf("ttl.l1Default must be non-negative, got %d", c.TTL.L1Default)
	}
	if c.TTL.L3DecayThreshold < 0 || c.TTL.L3DecayThreshold > 1 {
		return fmt.Errorf("ttl.l3DecayThreshold must be between 0 and 1, got %f", c.TTL.L3DecayThreshold)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batchSize must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.CodeIndex.MaxFiles < 0 {
		return fmt.Errorf("codeIndex.maxFiles must be non-negative, got %d", c.CodeIndex.MaxFiles)
	}
	if c.CodeIndex.ChunkLines <= 0 {
		return fmt.Errorf("codeIndex.chunkLines must be positive, got %d", c.CodeIndex.ChunkLines)
	}
	if c.CodeIndex.ChunkOverlap < 0 || c.CodeIndex.ChunkOverlap >= c.CodeIndex.ChunkLines {
		return fmt.Errorf("codeIndex.chunkOverlap must be in [0, chunkLines), got %d", c.CodeIndex.ChunkOverlap)
	}
	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolvedL2Path returns the per-project L2 database path, applying the
// spec §5 default (<project>/.context-fabric/memory.db) when unset.
func (c *Config) ResolvedL2Path(projectDir string) string {
	if c.Storage.L2Path != "" {
		return c.Storage.L2Path
	}
	return filepath.Join(projectDir, ".context-fabric", "memory.db")
}

// ResolvedL3Path returns the global L3 database path, applying the
// spec §5 default (<home>/.context-fabric/semantic.db) when unset.
func (c *Config) ResolvedL3Path() string {
	if c.Storage.L3Path != "" {
		return c.Storage.L3Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".context-fabric", "semantic.db")
}

// ResolvedCodeIndexPaths returns the per-project code index database and
// vector graph paths.
func (c *Config) ResolvedCodeIndexPaths(projectDir string) (dbPath, vectorPath string) {
	base := filepath.Join(projectDir, ".context-fabric")
	return filepath.Join(base, "code-index.db"), filepath.Join(base, "code-index.vec")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FindProjectRoot walks up from startDir looking for a .git directory or a
// .context-fabric.yaml/.yml override file, returning the first match. If
// neither is found before reaching the filesystem root, it returns the
// absolute form of startDir unchanged.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".context-fabric.yaml")) ||
			fileExists(filepath.Join(currentDir, ".context-fabric.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}
