package codeindex

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/contextfabric/context-fabric/internal/cooperative"
	"github.com/contextfabric/context-fabric/internal/embedding"
	"github.com/contextfabric/context-fabric/internal/memory"
)

// Index wires discovery, diffing, symbol extraction, chunking, embedding,
// and storage into one per-project code catalog (spec §4.6).
type Index struct {
	root     string
	store    *Store
	vectors  *VectorIndex
	embedder embedding.Embedder
}

// Open opens (or creates) a code index rooted at root, persisting its
// catalog under dbPath and its vector graph under vectorPath.
func Open(root, dbPath, vectorPath string, embedder embedding.Embedder) (*Index, error) {
	store, err := OpenStore(dbPath)
	if err != nil {
		return nil, err
	}

	vectors := NewVectorIndex(embedder.Dimensions())
	if _, err := os.Stat(vectorPath); err == nil {
		if err := vectors.Load(vectorPath); err != nil {
			slog.Warn("codeindex: failed to load vector graph, starting empty", slog.String("error", err.Error()))
		}
	}

	return &Index{root: root, store: store, vectors: vectors, embedder: embedder}, nil
}

// Close persists the vector graph and closes the catalog database.
func (idx *Index) Close(vectorPath string) error {
	if err := idx.vectors.Save(vectorPath); err != nil {
		slog.Warn("codeindex: failed to save vector graph", slog.String("error", err.Error()))
	}
	return idx.store.Close()
}

// Scan performs a full discovery+diff+reindex pass. It is the initial
// catalog build and the basis for the watcher's incremental refresh.
func (idx *Index) Scan(ctx context.Context) error {
	discovered, err := Discover(ctx, idx.root)
	if err != nil {
		return err
	}

	stored, err := idx.store.AllFileStates(ctx)
	if err != nil {
		return err
	}

	diffs, err := Diff(discovered, stored)
	if err != nil {
		return err
	}

	byPath := make(map[string]DiscoveredFile, len(discovered))
	for _, df := range discovered {
		byPath[df.Path] = df
	}

	yielder := cooperative.New()
	for _, d := range diffs {
		if err := yielder.Maybe(ctx); err != nil {
			return err
		}

		switch d.Kind {
		case DiffSkip:
			continue
		case DiffDeleted:
			if err := idx.store.DeleteFile(ctx, d.Path); err != nil {
				return err
			}
			idx.removeChunkVectors(d.Path)
		case DiffTouched:
			if err := idx.touchFile(ctx, byPath[d.Path], d.Hash); err != nil {
				return err
			}
		case DiffNew, DiffChanged:
			if err := idx.reindexFile(ctx, byPath[d.Path], d.Hash); err != nil {
				slog.Warn("codeindex: failed to reindex file", slog.String("path", d.Path), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// RefreshPaths re-evaluates a specific set of relative paths, used by the
// filesystem watcher's debounced change batches instead of a full Scan.
func (idx *Index) RefreshPaths(ctx context.Context, paths []string) error {
	yielder := cooperative.New()
	for _, rel := range paths {
		if err := yielder.Maybe(ctx); err != nil {
			return err
		}

		abs := filepath.Join(idx.root, rel)
		info, err := os.Stat(abs)
		if err != nil {
			if err := idx.store.DeleteFile(ctx, rel); err != nil {
				return err
			}
			idx.removeChunkVectors(rel)
			continue
		}

		lang := DetectLanguage(rel)
		if lang == "" || info.Size() > DefaultMaxFileSizeBytes || looksBinary(abs) {
			continue
		}

		df := DiscoveredFile{Path: rel, AbsPath: abs, Size: info.Size(), ModTime: info.ModTime().UnixMilli(), Language: lang}
		hash, err := hashFile(abs)
		if err != nil {
			continue
		}
		if err := idx.reindexFile(ctx, df, hash); err != nil {
			slog.Warn("codeindex: failed to reindex file", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}
	return nil
}

// touchFile updates only the file's mtime bookkeeping; the file's content
// is unchanged so symbols/chunks/embeddings need no rework.
func (idx *Index) touchFile(ctx context.Context, df DiscoveredFile, hash string) error {
	chunks, err := idx.store.ChunksForFile(ctx, df.Path)
	if err != nil {
		return err
	}
	symbols, err := idx.store.SymbolsForFile(ctx, df.Path)
	if err != nil {
		return err
	}
	return idx.store.UpsertFile(ctx, memory.IndexedFile{
		Path: df.Path, Language: df.Language, Hash: hash,
		ModTime: df.ModTime, IndexedAt: df.ModTime, ChunkCount: len(chunks),
	}, symbols, chunks)
}

func (idx *Index) reindexFile(ctx context.Context, df DiscoveredFile, hash string) error {
	content, err := os.ReadFile(df.AbsPath)
	if err != nil {
		return err
	}
	text := string(content)

	symbols := ExtractSymbols(df.Path, df.Language, text)
	chunks := ChunkFile(df.Path, text, symbols)

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = EmbeddingInput(c)
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return err
	}

	idx.removeChunkVectors(df.Path)
	for i, c := range chunks {
		if i >= len(vectors) {
			break
		}
		if err := idx.vectors.Upsert(ChunkKey(df.Path, c.ChunkIndex), vectors[i]); err != nil {
			slog.Warn("codeindex: failed to upsert chunk vector", slog.String("path", df.Path), slog.Int("chunk", c.ChunkIndex), slog.String("error", err.Error()))
		}
	}

	return idx.store.UpsertFile(ctx, memory.IndexedFile{
		Path: df.Path, Language: df.Language, Hash: hash,
		ModTime: df.ModTime, IndexedAt: df.ModTime, ChunkCount: len(chunks),
	}, symbols, chunks)
}

// removeChunkVectors drops every vector belonging to a file, used before
// reindexing and on deletion. The chunk count is looked up rather than
// assumed, since a changed file may now have fewer or more chunks.
func (idx *Index) removeChunkVectors(path string) {
	for i := 0; ; i++ {
		key := ChunkKey(path, i)
		before := idx.vectors.Count()
		idx.vectors.Delete(key)
		if idx.vectors.Count() == before {
			break
		}
	}
}

// SearchMode selects which of the code index's three search strategies to
// use for search_code (spec §6).
type SearchMode string

const (
	SearchText     SearchMode = "text"
	SearchSymbol   SearchMode = "symbol"
	SearchSemantic SearchMode = "semantic"
)

// CodeMatch is one search_code result, populated according to the mode
// that produced it.
type CodeMatch struct {
	FilePath   string
	LineStart  int
	LineEnd    int
	Content    string
	Symbol     *memory.Symbol
	Similarity float64
}

// Search runs search_code in the given mode, optionally restricted by a
// glob path filter.
func (idx *Index) Search(ctx context.Context, mode SearchMode, query, pathFilter string, limit int) ([]CodeMatch, error) {
	switch mode {
	case SearchSymbol:
		symbols, err := idx.store.SearchSymbols(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		var out []CodeMatch
		for _, s := range symbols {
			if !MatchesFilter(s.FilePath, pathFilter) {
				continue
			}
			sym := s
			out = append(out, CodeMatch{FilePath: s.FilePath, LineStart: s.LineStart, LineEnd: s.LineEnd, Symbol: &sym})
		}
		return out, nil

	case SearchSemantic:
		vec, err := idx.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		matches, err := idx.vectors.Search(ctx, vec, limit*4)
		if err != nil {
			return nil, err
		}
		var out []CodeMatch
		for _, m := range matches {
			path, chunkIdx := splitChunkKey(m.Key)
			if !MatchesFilter(path, pathFilter) {
				continue
			}
			chunks, err := idx.store.ChunksForFile(ctx, path)
			if err != nil {
				continue
			}
			for _, c := range chunks {
				if c.ChunkIndex == chunkIdx {
					out = append(out, CodeMatch{FilePath: path, LineStart: c.LineStart, LineEnd: c.LineEnd, Content: c.Content, Similarity: m.Similarity})
					break
				}
			}
			if len(out) >= limit {
				break
			}
		}
		return out, nil

	default: // SearchText
		chunks, err := idx.store.SearchText(ctx, query, limit*4)
		if err != nil {
			return nil, err
		}
		var out []CodeMatch
		for _, c := range chunks {
			if !MatchesFilter(c.FilePath, pathFilter) {
				continue
			}
			out = append(out, CodeMatch{FilePath: c.FilePath, LineStart: c.LineStart, LineEnd: c.LineEnd, Content: c.Content})
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	}
}

func splitChunkKey(key string) (path string, chunkIndex int) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '#' {
			path = key[:i]
			for _, r := range key[i+1:] {
				chunkIndex = chunkIndex*10 + int(r-'0')
			}
			return
		}
	}
	return key, 0
}
