package codeindex

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/contextfabric/context-fabric/internal/memory"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	language TEXT NOT NULL,
	hash TEXT NOT NULL,
	mod_time INTEGER NOT NULL,
	indexed_at INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS symbols (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	signature TEXT NOT NULL,
	doc_comment TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	line_start INTEGER NOT NULL,
	line_end INTEGER NOT NULL,
	content TEXT NOT NULL,
	UNIQUE(file_path, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path);
`

// Store persists the code index's catalog: discovered files, their
// extracted symbols, and their text chunks. Chunk embeddings live in the
// sibling VectorIndex, keyed by ChunkKey(file_path, chunk_index), not here.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if absent) the code index catalog database at
// path, applying the same WAL/single-writer pragmas used by the memory
// tiers.
func OpenStore(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("codeindex: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("codeindex: apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("codeindex: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertFile replaces a file's catalog row, symbols, and chunks in a single
// transaction, driven by a fresh Discover+ExtractSymbols+ChunkFile pass.
func (s *Store) UpsertFile(ctx context.Context, f memory.IndexedFile, symbols []memory.Symbol, chunks []memory.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("codeindex: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, language, hash, mod_time, indexed_at, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			hash = excluded.hash,
			mod_time = excluded.mod_time,
			indexed_at = excluded.indexed_at,
			chunk_count = excluded.chunk_count
	`, f.Path, f.Language, f.Hash, f.ModTime, f.IndexedAt, len(chunks))
	if err != nil {
		return fmt.Errorf("codeindex: upsert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, f.Path); err != nil {
		return fmt.Errorf("codeindex: clear symbols: %w", err)
	}
	for _, sym := range symbols {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO symbols (file_path, name, kind, line_start, line_end, signature, doc_comment)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, f.Path, sym.Name, string(sym.Kind), sym.LineStart, sym.LineEnd, sym.Signature, sym.DocComment)
		if err != nil {
			return fmt.Errorf("codeindex: insert symbol: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, f.Path); err != nil {
		return fmt.Errorf("codeindex: clear chunks: %w", err)
	}
	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (file_path, chunk_index, line_start, line_end, content)
			VALUES (?, ?, ?, ?, ?)
		`, f.Path, c.ChunkIndex, c.LineStart, c.LineEnd, c.Content)
		if err != nil {
			return fmt.Errorf("codeindex: insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteFile removes a file and its symbols/chunks (cascade).
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	return err
}

// AllFileStates returns the (mtime, hash) state of every catalogued file,
// for use as the `stored` argument to Diff.
func (s *Store) AllFileStates(ctx context.Context) (map[string]FileState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mod_time, hash FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]FileState)
	for rows.Next() {
		var path, hash string
		var modTime int64
		if err := rows.Scan(&path, &modTime, &hash); err != nil {
			return nil, err
		}
		states[path] = FileState{ModTime: modTime, Hash: hash}
	}
	return states, rows.Err()
}

// FileCount returns the number of catalogued files.
func (s *Store) FileCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

// ChunksForFile returns the stored chunks for a file, in index order.
func (s *Store) ChunksForFile(ctx context.Context, path string) ([]memory.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_index, line_start, line_end, content FROM chunks
		WHERE file_path = ? ORDER BY chunk_index
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Chunk
	for rows.Next() {
		c := memory.Chunk{FilePath: path}
		if err := rows.Scan(&c.ChunkIndex, &c.LineStart, &c.LineEnd, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SymbolsForFile returns the stored symbols for a file.
func (s *Store) SymbolsForFile(ctx context.Context, path string) ([]memory.Symbol, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, line_start, line_end, signature, doc_comment FROM symbols
		WHERE file_path = ? ORDER BY line_start
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Symbol
	for rows.Next() {
		sym := memory.Symbol{FilePath: path}
		var kind string
		if err := rows.Scan(&sym.Name, &kind, &sym.LineStart, &sym.LineEnd, &sym.Signature, &sym.DocComment); err != nil {
			return nil, err
		}
		sym.Kind = memory.SymbolKind(kind)
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SearchText performs a case-insensitive substring scan over chunk content
// (the code index's "text" search mode).
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]memory.Chunk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, chunk_index, line_start, line_end, content FROM chunks
		WHERE content LIKE ? ESCAPE '\' COLLATE NOCASE
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Chunk
	for rows.Next() {
		var c memory.Chunk
		if err := rows.Scan(&c.FilePath, &c.ChunkIndex, &c.LineStart, &c.LineEnd, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchSymbols performs a case-insensitive LIKE match over symbol names
// (the code index's "symbol" search mode).
func (s *Store) SearchSymbols(ctx context.Context, query string, limit int) ([]memory.Symbol, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, name, kind, line_start, line_end, signature, doc_comment FROM symbols
		WHERE name LIKE ? ESCAPE '\' COLLATE NOCASE
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []memory.Symbol
	for rows.Next() {
		var sym memory.Symbol
		var kind string
		if err := rows.Scan(&sym.FilePath, &sym.Name, &kind, &sym.LineStart, &sym.LineEnd, &sym.Signature, &sym.DocComment); err != nil {
			return nil, err
		}
		sym.Kind = memory.SymbolKind(kind)
		out = append(out, sym)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			r = append(r, '\\')
		}
		r = append(r, s[i])
	}
	return string(r)
}
