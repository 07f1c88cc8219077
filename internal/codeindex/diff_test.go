package codeindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) DiscoveredFile {
	t.Helper()
	abs := filepath.Join(root, rel)
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	return DiscoveredFile{Path: rel, AbsPath: abs, Size: info.Size(), ModTime: info.ModTime().UnixMilli(), Language: "go"}
}

func TestDiffClassifiesNewFile(t *testing.T) {
	root := t.TempDir()
	df := writeFile(t, root, "main.go", "package main\n")

	diffs, err := Diff([]DiscoveredFile{df}, map[string]FileState{})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffNew, diffs[0].Kind)
	assert.NotEmpty(t, diffs[0].Hash)
}

func TestDiffClassifiesSkipWhenModTimeUnchanged(t *testing.T) {
	root := t.TempDir()
	df := writeFile(t, root, "main.go", "package main\n")
	hash, err := hashFile(df.AbsPath)
	require.NoError(t, err)

	stored := map[string]FileState{"main.go": {ModTime: df.ModTime, Hash: hash}}
	diffs, err := Diff([]DiscoveredFile{df}, stored)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffSkip, diffs[0].Kind)
}

func TestDiffClassifiesTouchedWhenHashSameButModTimeDiffers(t *testing.T) {
	root := t.TempDir()
	df := writeFile(t, root, "main.go", "package main\n")
	hash, err := hashFile(df.AbsPath)
	require.NoError(t, err)

	stored := map[string]FileState{"main.go": {ModTime: df.ModTime - 1000, Hash: hash}}
	diffs, err := Diff([]DiscoveredFile{df}, stored)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffTouched, diffs[0].Kind)
}

func TestDiffClassifiesChangedWhenHashDiffers(t *testing.T) {
	root := t.TempDir()
	df := writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	stored := map[string]FileState{"main.go": {ModTime: df.ModTime - 1000, Hash: "stale-hash"}}
	diffs, err := Diff([]DiscoveredFile{df}, stored)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffChanged, diffs[0].Kind)
}

func TestDiffSurfacesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	df := writeFile(t, root, "kept.go", "package main\n")
	hash, err := hashFile(df.AbsPath)
	require.NoError(t, err)

	stored := map[string]FileState{
		"kept.go":   {ModTime: df.ModTime, Hash: hash},
		"gone.go":   {ModTime: 1, Hash: "anything"},
	}
	diffs, err := Diff([]DiscoveredFile{df}, stored)
	require.NoError(t, err)

	kinds := map[string]DiffKind{}
	for _, d := range diffs {
		kinds[d.Path] = d.Kind
	}
	assert.Equal(t, DiffSkip, kinds["kept.go"])
	assert.Equal(t, DiffDeleted, kinds["gone.go"])
}
