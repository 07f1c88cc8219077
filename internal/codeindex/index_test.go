package codeindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/embedding"
)

func newTestIndex(t *testing.T, root string) *Index {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "codeindex.db")
	vectorPath := filepath.Join(t.TempDir(), "vectors.idx")
	embedder := embedding.NewStaticEmbedder(16)

	idx, err := Open(root, dbPath, vectorPath, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close(vectorPath) })
	return idx
}

func TestScanIndexesDiscoveredFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.go"), []byte("package widgets\n\nfunc Render() string {\n\treturn \"ok\"\n}\n"), 0o644))

	idx := newTestIndex(t, root)
	require.NoError(t, idx.Scan(context.Background()))

	count, err := idx.store.FileCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	symbols, err := idx.store.SymbolsForFile(context.Background(), "widget.go")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "Render", symbols[0].Name)
}

func TestScanRemovesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "temp.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	require.NoError(t, os.Remove(path))
	require.NoError(t, idx.Scan(ctx))

	count, err := idx.store.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestScanIsIdempotentOnUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))
	require.NoError(t, idx.Scan(ctx))

	count, err := idx.store.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearchTextFindsIndexedContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.go"), []byte("package widgets\n\nfunc RenderWidget() string {\n\treturn \"ok\"\n}\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	matches, err := idx.Search(ctx, SearchText, "RenderWidget", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "widget.go", matches[0].FilePath)
}

func TestSearchSymbolFindsDeclarations(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.go"), []byte("package widgets\n\nfunc RenderWidget() string {\n\treturn \"ok\"\n}\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	matches, err := idx.Search(ctx, SearchSymbol, "RenderWidget", "", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.NotNil(t, matches[0].Symbol)
	assert.Equal(t, "RenderWidget", matches[0].Symbol.Name)
}

func TestSearchSemanticFindsSimilarChunk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "widget.go"), []byte("package widgets\n\nfunc RenderWidget() string {\n\treturn \"ok\"\n}\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	matches, err := idx.Search(ctx, SearchSemantic, "RenderWidget", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "widget.go", matches[0].FilePath)
}

func TestSearchHonorsPathFilter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n\nfunc Shared() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.go"), []byte("package main\n\nfunc Shared() {}\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	matches, err := idx.Search(ctx, SearchSymbol, "Shared", "pkg/**", 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, filepath.Join("pkg", "a.go"), m.FilePath)
	}
}

func TestRefreshPathsReindexesChangedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Old() {}\n"), 0o644))

	idx := newTestIndex(t, root)
	ctx := context.Background()
	require.NoError(t, idx.Scan(ctx))

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc New() {}\n"), 0o644))
	require.NoError(t, idx.RefreshPaths(ctx, []string{"a.go"}))

	symbols, err := idx.store.SymbolsForFile(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.Equal(t, "New", symbols[0].Name)
}
