// Package tier2 implements the L2 project tier: a per-project durable
// SQLite store with an FTS5 shadow index for BM25 full-text search
// (spec §4.3). One Tier instance owns exactly one project's database.
package tier2

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
)

// Tier is the L2 project-scoped store.
type Tier struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema. path == "" opens an in-memory database, useful
// for tests.
func Open(path string) (*Tier, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("create project dir: %w", err))
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("open project db: %w", err))
	}

	// Single writer, matching the teacher's WAL-mode sizing: modernc.org/sqlite
	// serializes writers internally, so a pool bigger than one connection
	// just produces SQLITE_BUSY under contention.
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
			_ = db.Close()
			return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("init schema: %w", err))
	}

	return &Tier{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (t *Tier) Close() error {
	return t.db.Close()
}

type metadataJSON struct {
	Weight      int            `json:"weight,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	Source      memory.Source  `json:"source,omitempty"`
	CLIType     string         `json:"cliType,omitempty"`
	ProjectPath string         `json:"projectPath,omitempty"`
	FileContext *memory.FileContext `json:"fileContext,omitempty"`
	CodeBlock   *memory.CodeBlock   `json:"codeBlock,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

func encodeMetadata(m memory.Metadata) (string, error) {
	b, err := json.Marshal(metadataJSON{
		Weight: m.Weight, Confidence: m.Confidence, Source: m.Source, CLIType: m.CLIType,
		ProjectPath: m.ProjectPath, FileContext: m.FileContext, CodeBlock: m.CodeBlock,
		SessionID: m.SessionID, Extra: m.Extra,
	})
	return string(b), err
}

func decodeMetadata(raw string) (memory.Metadata, error) {
	var j metadataJSON
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return memory.Metadata{}, err
		}
	}
	return memory.Metadata{
		Weight: j.Weight, Confidence: j.Confidence, Source: j.Source, CLIType: j.CLIType,
		ProjectPath: j.ProjectPath, FileContext: j.FileContext, CodeBlock: j.CodeBlock,
		SessionID: j.SessionID, Extra: j.Extra,
	}, nil
}

// Store persists a new L2 memory and returns it.
func (t *Tier) Store(ctx context.Context, content string, typ memory.Type, tags []string, meta memory.Metadata) (*memory.Memory, error) {
	now := memory.NowMillis()
	m := &memory.Memory{
		ID: memory.NewID(), Type: typ, Tier: memory.L2, Content: content, Tags: tags,
		Metadata: meta, CreatedAt: now, UpdatedAt: now, LastAccessedAt: &now,
	}

	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "store", m.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0)`,
		m.ID, string(m.Type), m.Content, metaJSON, m.CreatedAt, m.UpdatedAt, now)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "store", m.ID, err)
	}

	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags(memory_id, tag) VALUES (?, ?)`, m.ID, tag); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "store", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "store", m.ID, err)
	}
	return m, nil
}

func (t *Tier) scanRow(row interface {
	Scan(dest ...any) error
}) (*memory.Memory, error) {
	var id, typ, content, metaJSON string
	var createdAt, updatedAt, accessCount int64
	var lastAccessedAt sql.NullInt64
	var pinned int

	if err := row.Scan(&id, &typ, &content, &metaJSON, &createdAt, &updatedAt, &accessCount, &lastAccessedAt, &pinned); err != nil {
		return nil, err
	}

	meta, err := decodeMetadata(metaJSON)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.CorruptData, err)
	}

	m := &memory.Memory{
		ID: id, Type: memory.Type(typ), Tier: memory.L2, Content: content, Metadata: meta,
		CreatedAt: createdAt, UpdatedAt: updatedAt, AccessCount: accessCount, Pinned: pinned != 0,
	}
	if lastAccessedAt.Valid {
		v := lastAccessedAt.Int64
		m.LastAccessedAt = &v
	}
	return m, nil
}

func (t *Tier) loadTags(ctx context.Context, id string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Get fetches one memory by id, bumping accessCount/lastAccessedAt.
func (t *Tier) Get(ctx context.Context, id string) (*memory.Memory, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories WHERE id = ?`, id)
	m, err := t.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, memerrors.New(memerrors.NotFound, "L2 memory not found: "+id)
	}
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "get", id, err)
	}

	tags, err := t.loadTags(ctx, id)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "get", id, err)
	}
	m.Tags = tags

	now := memory.NowMillis()
	if _, err := t.db.ExecContext(ctx, `UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`, now, id); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "get", id, err)
	}
	m.AccessCount++
	m.LastAccessedAt = &now
	return m, nil
}

// Update rewrites content/tags/metadata for an existing memory.
func (t *Tier) Update(ctx context.Context, id string, content *string, tags []string, meta *memory.Metadata) (*memory.Memory, error) {
	existing, err := t.peek(ctx, id)
	if err != nil {
		return nil, err
	}

	newContent := existing.Content
	if content != nil {
		newContent = *content
	}
	newMeta := existing.Metadata
	if meta != nil {
		newMeta = *meta
	}
	metaJSON, err := encodeMetadata(newMeta)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}

	now := memory.NowMillis()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "update", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `UPDATE memories SET content = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		newContent, metaJSON, now, id)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "update", id, err)
	}

	if tags != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "update", id, err)
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags(memory_id, tag) VALUES (?, ?)`, id, tag); err != nil {
				return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "update", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "update", id, err)
	}
	return t.Get(ctx, id)
}

// peek fetches a memory without bumping access bookkeeping (used internally).
func (t *Tier) peek(ctx context.Context, id string) (*memory.Memory, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories WHERE id = ?`, id)
	m, err := t.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, memerrors.New(memerrors.NotFound, "L2 memory not found: "+id)
	}
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "get", id, err)
	}
	return m, nil
}

// Delete removes a memory (cascades to memory_tags and the FTS shadow row).
func (t *Tier) Delete(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L2", "delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L2", "delete", id, err)
	}
	if n == 0 {
		return memerrors.New(memerrors.NotFound, "L2 memory not found: "+id)
	}
	return nil
}

// SetPinned toggles the pinned flag, exempting the memory from decay-based
// demotion/deletion.
func (t *Tier) SetPinned(ctx context.Context, id string, pinned bool) error {
	v := 0
	if pinned {
		v = 1
	}
	res, err := t.db.ExecContext(ctx, `UPDATE memories SET pinned = ? WHERE id = ?`, v, id)
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L2", "setPinned", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerrors.New(memerrors.NotFound, "L2 memory not found: "+id)
	}
	return nil
}

// GetAll returns every memory, newest first.
func (t *Tier) GetAll(ctx context.Context) ([]*memory.Memory, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories ORDER BY created_at DESC`)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "getAll", "", err)
	}
	defer rows.Close()
	return t.collect(ctx, rows)
}

// FindByType returns memories of the given type, newest first.
func (t *Tier) FindByType(ctx context.Context, typ memory.Type) ([]*memory.Memory, error) {
	return t.FindByTypePaginated(ctx, typ, 0, -1)
}

// FindByTypePaginated returns a page of memories of the given type.
func (t *Tier) FindByTypePaginated(ctx context.Context, typ memory.Type, offset, limit int) ([]*memory.Memory, error) {
	q := `SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories WHERE type = ? ORDER BY created_at DESC`
	args := []any{string(typ)}
	if limit >= 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "findByType", "", err)
	}
	defer rows.Close()
	return t.collect(ctx, rows)
}

// FindByTags returns memories that carry ANY of the given tags, newest first.
func (t *Tier) FindByTags(ctx context.Context, tags []string) ([]*memory.Memory, error) {
	return t.FindByTagsPaginated(ctx, tags, 0, -1)
}

// FindByTagsPaginated returns a page of memories carrying ANY of the given tags.
func (t *Tier) FindByTagsPaginated(ctx context.Context, tags []string, offset, limit int) ([]*memory.Memory, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, tag := range tags {
		placeholders[i] = "?"
		args[i] = tag
	}
	q := fmt.Sprintf(`
		SELECT m.id, m.type, m.content, m.metadata, m.created_at, m.updated_at, m.access_count, m.last_accessed_at, m.pinned
		FROM memories m
		WHERE m.id IN (SELECT DISTINCT memory_id FROM memory_tags WHERE tag IN (%s))
		ORDER BY m.created_at DESC`, strings.Join(placeholders, ","))
	if limit >= 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "findByTags", "", err)
	}
	defer rows.Close()
	return t.collect(ctx, rows)
}

func (t *Tier) collect(ctx context.Context, rows *sql.Rows) ([]*memory.Memory, error) {
	var out []*memory.Memory
	for rows.Next() {
		m, err := t.scanRow(rows)
		if err != nil {
			return nil, memerrors.Wrap(memerrors.StorageError, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, memerrors.Wrap(memerrors.StorageError, err)
	}
	for _, m := range out {
		tags, err := t.loadTags(ctx, m.ID)
		if err != nil {
			return nil, memerrors.Wrap(memerrors.StorageError, err)
		}
		m.Tags = tags
	}
	return out, nil
}

// SearchResult pairs a memory with its BM25 relevance score.
type SearchResult struct {
	Memory *memory.Memory
	Score  float64
}

// Search runs a BM25 full-text query over memory content via the FTS5
// shadow table, highest relevance first.
func (t *Tier) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT doc_id, bm25(memories_fts) AS score
		FROM memories_fts
		WHERE content MATCH ?
		ORDER BY score
		LIMIT ?`, sanitized, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "search", "", err)
	}
	defer rows.Close()

	type hit struct {
		id    string
		score float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.score); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "search", "", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "search", "", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		m, err := t.peek(ctx, h.id)
		if err != nil {
			if memerrors.KindOf(err) == memerrors.NotFound {
				continue
			}
			return nil, err
		}
		tags, err := t.loadTags(ctx, h.id)
		if err != nil {
			return nil, memerrors.Wrap(memerrors.StorageError, err)
		}
		m.Tags = tags
		// FTS5 bm25() returns negative scores where lower is better; negate
		// so higher is better, matching the rest of the engine's convention.
		out = append(out, SearchResult{Memory: m, Score: -h.score})
	}
	return out, nil
}

// SearchSubstring performs a case-insensitive substring scan over content,
// independent of the FTS5 index (spec §4.7: recall's L2 fan-out returns
// both substring and BM25 matches).
func (t *Tier) SearchSubstring(ctx context.Context, query string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.ToLower(query) + "%"
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories WHERE LOWER(content) LIKE ? ORDER BY created_at DESC LIMIT ?`, like, limit)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "searchSubstring", "", err)
	}
	defer rows.Close()
	return t.collect(ctx, rows)
}

// Count returns the total number of stored memories.
func (t *Tier) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, memerrors.Wrap(memerrors.StorageError, err)
	}
	return n, nil
}

// CountPinned returns the number of pinned memories.
func (t *Tier) CountPinned(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE pinned = 1`).Scan(&n); err != nil {
		return 0, memerrors.Wrap(memerrors.StorageError, err)
	}
	return n, nil
}

// GetMemoriesSince returns memories created at or after sinceMillis, oldest first.
func (t *Tier) GetMemoriesSince(ctx context.Context, sinceMillis int64) ([]*memory.Memory, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned
		FROM memories WHERE created_at >= ? ORDER BY created_at ASC`, sinceMillis)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "getMemoriesSince", "", err)
	}
	defer rows.Close()
	return t.collect(ctx, rows)
}

// maxSummaryExcerpts caps how many content snippets ride along in a
// summary's body (spec §4.3).
const maxSummaryExcerpts = 5

// SummaryResult is Summarize's outcome: the persisted summary memory and
// how many originals it archived.
type SummaryResult struct {
	Summary  *memory.Memory
	Archived int
}

// Summarize archives every non-pinned, non-summary memory created at or
// before the olderThanDays cutoff: it buckets them by type, pulls up to
// maxSummaryExcerpts content snippets, writes one new "summary" memory
// carrying that breakdown, and deletes the archived originals — all in one
// transaction (spec §4.3). Pinned and already-"summary" rows are exempt and
// always survive.
func (t *Tier) Summarize(ctx context.Context, olderThanDays float64) (*SummaryResult, error) {
	cutoff := memory.NowMillis() - int64(olderThanDays*float64(24*time.Hour/time.Millisecond))

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, type, content FROM memories
		WHERE pinned = 0 AND type != ? AND created_at <= ?
		ORDER BY created_at ASC`, string(memory.TypeSummary), cutoff)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", "", err)
	}

	counts := make(map[memory.Type]int)
	var ids, excerpts []string
	for rows.Next() {
		var id, typ, content string
		if err := rows.Scan(&id, &typ, &content); err != nil {
			rows.Close()
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", "", err)
		}
		counts[memory.Type(typ)]++
		ids = append(ids, id)
		if len(excerpts) < maxSummaryExcerpts {
			excerpts = append(excerpts, snippet(content))
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", "", err)
	}
	rows.Close()

	total := len(ids)
	parts := make([]string, 0, len(counts))
	for typ, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", typ, n))
	}
	sort.Strings(parts)

	var b strings.Builder
	fmt.Fprintf(&b, "project summary (%d memories): %s", total, strings.Join(parts, ", "))
	for _, e := range excerpts {
		b.WriteString("\n- ")
		b.WriteString(e)
	}

	now := memory.NowMillis()
	summary := &memory.Memory{
		ID: memory.NewID(), Type: memory.TypeSummary, Tier: memory.L2, Content: b.String(),
		Tags: []string{"summary"}, Metadata: memory.Metadata{Source: memory.SourceSystemAuto},
		CreatedAt: now, UpdatedAt: now, LastAccessedAt: &now,
	}
	metaJSON, err := encodeMetadata(summary.Metadata)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, type, content, metadata, created_at, updated_at, access_count, last_accessed_at, pinned)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, 0)`,
		summary.ID, string(summary.Type), summary.Content, metaJSON, summary.CreatedAt, summary.UpdatedAt, now); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", summary.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags(memory_id, tag) VALUES (?, 'summary')`, summary.ID); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", summary.ID, err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L2", "summarize", summary.ID, err)
	}
	return &SummaryResult{Summary: summary, Archived: total}, nil
}

// snippet trims content to a short excerpt for inclusion in a summary body.
func snippet(content string) string {
	const maxLen = 80
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "…"
}

// GetLastSeen returns the project_meta "last_seen" timestamp, or 0 if unset.
func (t *Tier) GetLastSeen(ctx context.Context) (int64, error) {
	var v string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM project_meta WHERE key = 'last_seen'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, memerrors.Wrap(memerrors.StorageError, err)
	}
	var ts int64
	_, err = fmt.Sscanf(v, "%d", &ts)
	return ts, err
}

// UpdateLastSeen records the current time as project_meta "last_seen".
func (t *Tier) UpdateLastSeen(ctx context.Context) error {
	now := memory.NowMillis()
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO project_meta(key, value) VALUES ('last_seen', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", now))
	if err != nil {
		return memerrors.Wrap(memerrors.StorageError, err)
	}
	return nil
}

// SetMeta/GetMeta expose the project_meta table for arbitrary key/value
// bookkeeping (e.g. code index watermark, configured root path).
func (t *Tier) SetMeta(ctx context.Context, key, value string) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO project_meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return memerrors.Wrap(memerrors.StorageError, err)
	}
	return nil
}

func (t *Tier) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM project_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, memerrors.Wrap(memerrors.StorageError, err)
	}
	return v, true, nil
}

// ftsSpecialChars are operators FTS5 MATCH syntax assigns special meaning
// to; they are stripped from user queries so stray punctuation in memory
// content never surfaces a syntax error instead of a search result.
const ftsSpecialChars = `*"()^:{}~<>`

var ftsBooleanKeywords = map[string]struct{}{
	"AND": {}, "OR": {}, "NOT": {}, "NEAR": {},
}

// sanitizeFTSQuery strips FTS5 operator characters and boolean keywords
// from free-text input, then quotes each remaining token so the query is
// always treated as a plain phrase match rather than executable FTS5 query
// syntax.
func sanitizeFTSQuery(q string) string {
	stripped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecialChars, r) {
			return ' '
		}
		return r
	}, q)

	fields := strings.Fields(stripped)
	var quoted []string
	for _, f := range fields {
		if _, isBoolean := ftsBooleanKeywords[strings.ToUpper(f)]; isBoolean {
			continue
		}
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}
