package codeindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeindex.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertFileStoresSymbolsAndChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	f := memory.IndexedFile{Path: "main.go", Language: "go", Hash: "abc123", ModTime: 1000, IndexedAt: 2000}
	symbols := []memory.Symbol{{FilePath: "main.go", Name: "main", Kind: memory.SymbolFunction, LineStart: 1, LineEnd: 3}}
	chunks := []memory.Chunk{{FilePath: "main.go", ChunkIndex: 0, LineStart: 1, LineEnd: 3, Content: "package main"}}

	require.NoError(t, s.UpsertFile(ctx, f, symbols, chunks))

	count, err := s.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := s.ChunksForFile(ctx, "main.go")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "package main", stored[0].Content)

	found, err := s.SearchSymbols(ctx, "main", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "main", found[0].Name)
}

func TestUpsertFileReplacesPriorSymbolsAndChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	f := memory.IndexedFile{Path: "a.go", Language: "go", Hash: "v1", ModTime: 1, IndexedAt: 1}
	require.NoError(t, s.UpsertFile(ctx, f,
		[]memory.Symbol{{FilePath: "a.go", Name: "Old", Kind: memory.SymbolFunction, LineStart: 1, LineEnd: 1}},
		[]memory.Chunk{{FilePath: "a.go", ChunkIndex: 0, LineStart: 1, LineEnd: 1, Content: "old"}}))

	f.Hash = "v2"
	f.ModTime = 2
	require.NoError(t, s.UpsertFile(ctx, f,
		[]memory.Symbol{{FilePath: "a.go", Name: "New", Kind: memory.SymbolFunction, LineStart: 1, LineEnd: 1}},
		[]memory.Chunk{{FilePath: "a.go", ChunkIndex: 0, LineStart: 1, LineEnd: 1, Content: "new"}}))

	syms, err := s.SearchSymbols(ctx, "Old", 10)
	require.NoError(t, err)
	assert.Empty(t, syms)

	syms, err = s.SearchSymbols(ctx, "New", 10)
	require.NoError(t, err)
	assert.Len(t, syms, 1)

	states, err := s.AllFileStates(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", states["a.go"].Hash)
}

func TestDeleteFileCascadesSymbolsAndChunks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	f := memory.IndexedFile{Path: "gone.go", Language: "go", Hash: "h", ModTime: 1, IndexedAt: 1}
	require.NoError(t, s.UpsertFile(ctx, f,
		[]memory.Symbol{{FilePath: "gone.go", Name: "Gone", Kind: memory.SymbolFunction, LineStart: 1, LineEnd: 1}},
		[]memory.Chunk{{FilePath: "gone.go", ChunkIndex: 0, LineStart: 1, LineEnd: 1, Content: "x"}}))

	require.NoError(t, s.DeleteFile(ctx, "gone.go"))

	count, err := s.FileCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	chunks, err := s.ChunksForFile(ctx, "gone.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSearchTextMatchesSubstringCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	f := memory.IndexedFile{Path: "widget.go", Language: "go", Hash: "h", ModTime: 1, IndexedAt: 1}
	require.NoError(t, s.UpsertFile(ctx, f, nil,
		[]memory.Chunk{{FilePath: "widget.go", ChunkIndex: 0, LineStart: 1, LineEnd: 1, Content: "func RenderWidget() {}"}}))

	found, err := s.SearchText(ctx, "renderwidget", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "widget.go", found[0].FilePath)
}
