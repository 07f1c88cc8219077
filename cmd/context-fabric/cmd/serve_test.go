package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextfabric/context-fabric/internal/config"
	"github.com/contextfabric/context-fabric/internal/engine"
	"github.com/contextfabric/context-fabric/internal/memory"
)

func TestBuildEngineOpensTiersUnderProjectDir(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.CodeIndex.Enabled = false
	cfg.Storage.L3Path = filepath.Join(root, "semantic.db")

	eng, closer, err := buildEngine(context.Background(), cfg, root, nil)
	require.NoError(t, err)
	defer closer()

	m, err := eng.Store(context.Background(), "remember this", memory.TypeScratchpad, engine.StoreOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.FileExists(t, cfg.ResolvedL2Path(root))
}

func TestBuildEngineWithCodeIndexEnabled(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Storage.L3Path = filepath.Join(root, "semantic.db")
	cfg.CodeIndex.WatchEnabled = false

	eng, closer, err := buildEngine(context.Background(), cfg, root, nil)
	require.NoError(t, err)
	defer closer()

	assert.NotNil(t, eng)
}
