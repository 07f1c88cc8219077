package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigReturnsSpecDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.EqualValues(t, 3600, cfg.TTL.L1Default)
	assert.Equal(t, 14.0, cfg.TTL.L3DecayDays)
	assert.Equal(t, 0.2, cfg.TTL.L3DecayThreshold)
	assert.Equal(t, 3, cfg.TTL.L3AccessThreshold)

	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)

	assert.Equal(t, 20, cfg.Context.MaxWorkingMemories)
	assert.Equal(t, 10, cfg.Context.MaxRelevantMemories)

	assert.True(t, cfg.CodeIndex.Enabled)
	assert.Equal(t, 10000, cfg.CodeIndex.MaxFiles)
	assert.Equal(t, 150, cfg.CodeIndex.ChunkLines)
	assert.Equal(t, 10, cfg.CodeIndex.ChunkOverlap)
	assert.Contains(t, cfg.CodeIndex.ExcludePatterns, "**/node_modules/**")

	require.NoError(t, cfg.Validate())
}

func TestResolvedPathsDefaultUnderDotContextFabric(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, filepath.Join("/proj", ".context-fabric", "memory.db"), cfg.ResolvedL2Path("/proj"))

	l3 := cfg.ResolvedL3Path()
	assert.Contains(t, l3, ".context-fabric")
	assert.Contains(t, l3, "semantic.db")
}

func TestResolvedPathsHonorExplicitOverride(t *testing.T) {
	cfg := NewConfig()
	cfg.Storage.L2Path = "/custom/mem.db"
	cfg.Storage.L3Path = "/custom/sem.db"
	assert.Equal(t, "/custom/mem.db", cfg.ResolvedL2Path("/proj"))
	assert.Equal(t, "/custom/sem.db", cfg.ResolvedL3Path())
}

func TestLoadAppliesProjectFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := "ttl:\n  l1Default: 7200\nembedding:\n  model: custom-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".context-fabric.yaml"), []byte(yaml), 0644))

	origXDG := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	defer os.Setenv("XDG_CONFIG_HOME", origXDG)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 7200, cfg.TTL.L1Default)
	assert.Equal(t, "custom-model", cfg.Embedding.Model)
	// untouched defaults survive the merge
	assert.Equal(t, 384, cfg.Embedding.Dimension)
}

func TestLoadAppliesUserConfigBeforeProjectConfig(t *testing.T) {
	xdgDir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", xdgDir)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	userConfigDir := filepath.Join(xdgDir, "context-fabric")
	require.NoError(t, os.MkdirAll(userConfigDir, 0755))
	userYAML := "embedding:\n  model: user-model\n  batchSize: 64\n"
	require.NoError(t, os.WriteFile(filepath.Join(userConfigDir, "config.yaml"), []byte(userYAML), 0644))

	projectDir := t.TempDir()
	projectYAML := "embedding:\n  model: project-model\n"
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, ".context-fabric.yaml"), []byte(projectYAML), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)
	// project config wins over user config for the field both set
	assert.Equal(t, "project-model", cfg.Embedding.Model)
	// user config still applies for the field only it set
	assert.Equal(t, 64, cfg.Embedding.BatchSize)
}

func TestEnvOverridesWinOverFiles(t *testing.T) {
	dir := t.TempDir()
	yaml := "ttl:\n  l1Default: 7200\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".context-fabric.yaml"), []byte(yaml), 0644))

	os.Setenv("XDG_CONFIG_HOME", t.TempDir())
	os.Setenv("CONTEXT_FABRIC_L1_TTL", "120")
	defer os.Unsetenv("XDG_CONFIG_HOME")
	defer os.Unsetenv("CONTEXT_FABRIC_L1_TTL")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 120, cfg.TTL.L1Default)
}

func TestValidateRejectsBadDecayThreshold(t *testing.T) {
	cfg := NewConfig()
	cfg.TTL.L3DecayThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsChunkOverlapNotLessThanChunkLines(t *testing.T) {
	cfg := NewConfig()
	cfg.CodeIndex.ChunkOverlap = 150
	cfg.CodeIndex.ChunkLines = 150
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Transport = "websocket"
	assert.Error(t, cfg.Validate())
}

func TestGetUserConfigPathHonorsXDG(t *testing.T) {
	os.Setenv("XDG_CONFIG_HOME", "/xdg-home")
	defer os.Unsetenv("XDG_CONFIG_HOME")
	assert.Equal(t, "/xdg-home/context-fabric/config.yaml", GetUserConfigPath())
}

func TestFindProjectRootGitDirectoryReturnsGitRoot(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.Mkdir(filepath.Join(tmpDir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))

	root, err := FindProjectRoot(nestedDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRootConfigFileReturnsConfigLocation(t *testing.T) {
	tmpDir := t.TempDir()
	nestedDir := filepath.Join(tmpDir, "src", "internal")
	require.NoError(t, os.MkdirAll(nestedDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".context-fabric.yaml"), []byte("version: 1"), 0o644))

	root, err := FindProjectRoot(nestedDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}

func TestFindProjectRootNoMarkersReturnsStartDir(t *testing.T) {
	tmpDir := t.TempDir()

	root, err := FindProjectRoot(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, tmpDir, root)
}
