// Package tier3 implements the L3 semantic tier: a single global SQLite
// store holding cross-project memories with full embeddings, brute-force
// cosine recall, and time-decay eviction (spec §4.4).
package tier3

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/contextfabric/context-fabric/internal/cooperative"
	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
)

// DefaultDecayDays is the decay half-life window used by both the decay
// sweep and the access-scoring formula when the caller does not override it.
const DefaultDecayDays = 30.0

// DefaultDecayThreshold is the score below which a non-pinned row is deleted
// during a decay sweep.
const DefaultDecayThreshold = 0.2

// Tier is the L3 global semantic store.
type Tier struct {
	db *sql.DB
}

// Open opens (creating if necessary) the global semantic database at path
// and applies the schema. path == "" opens an in-memory database.
func Open(path string) (*Tier, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("create semantic store dir: %w", err))
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("open semantic db: %w", err))
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
			_ = db.Close()
			return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, memerrors.Wrap(memerrors.StorageError, fmt.Errorf("init schema: %w", err))
	}

	return &Tier{db: db}, nil
}

// Close closes the underlying database handle.
func (t *Tier) Close() error {
	return t.db.Close()
}

func encodeEmbedding(v []float32) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEmbedding(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v []float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

type metadataJSON struct {
	Weight      int                 `json:"weight,omitempty"`
	Confidence  float64             `json:"confidence,omitempty"`
	Source      memory.Source       `json:"source,omitempty"`
	CLIType     string              `json:"cliType,omitempty"`
	ProjectPath string              `json:"projectPath,omitempty"`
	FileContext *memory.FileContext `json:"fileContext,omitempty"`
	CodeBlock   *memory.CodeBlock   `json:"codeBlock,omitempty"`
	SessionID   string              `json:"sessionId,omitempty"`
	Extra       map[string]any      `json:"extra,omitempty"`
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

// Store persists a new L3 memory with its precomputed embedding. The
// embedding service lives in the engine, not here; L3 only stores vectors
// it is handed.
func (t *Tier) Store(ctx context.Context, content string, typ memory.Type, tags []string, meta memory.Metadata, embedding []float32) (*memory.Memory, error) {
	now := memory.NowMillis()
	m := &memory.Memory{
		ID: memory.NewID(), Type: typ, Tier: memory.L3, Content: content, Tags: tags,
		Metadata: meta, CreatedAt: now, UpdatedAt: now, LastAccessedAt: &now, RelevanceScore: 1.0,
	}

	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}
	embBytes, err := encodeEmbedding(embedding)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "store", m.ID, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, type, content, metadata, embedding, created_at, updated_at, access_count, last_accessed_at, relevance_score, pinned)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 1.0, 0)`,
		m.ID, string(m.Type), m.Content, metaJSON, embBytes, m.CreatedAt, m.UpdatedAt, now)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "store", m.ID, err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags(memory_id, tag) VALUES (?, ?)`, m.ID, tag); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "store", m.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "store", m.ID, err)
	}
	return m, nil
}

type row struct {
	id             string
	typ            string
	content        string
	metaJSON       string
	embedding      []byte
	createdAt      int64
	updatedAt      int64
	accessCount    int64
	lastAccessedAt sql.NullInt64
	relevanceScore float64
	pinned         int
}

func (t *Tier) scanRow(scanner interface{ Scan(dest ...any) error }) (*row, error) {
	var r row
	if err := scanner.Scan(&r.id, &r.typ, &r.content, &r.metaJSON, &r.embedding, &r.createdAt, &r.updatedAt,
		&r.accessCount, &r.lastAccessedAt, &r.relevanceScore, &r.pinned); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Tier) toMemory(r *row, tags []string) (*memory.Memory, error) {
	meta, err := decodeMetadata(r.metaJSON)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.CorruptData, err)
	}
	m := &memory.Memory{
		ID: r.id, Type: memory.Type(r.typ), Tier: memory.L3, Content: r.content, Tags: tags,
		Metadata: meta, CreatedAt: r.createdAt, UpdatedAt: r.updatedAt, AccessCount: r.accessCount,
		RelevanceScore: r.relevanceScore, Pinned: r.pinned != 0,
	}
	if r.lastAccessedAt.Valid {
		v := r.lastAccessedAt.Int64
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

const rowCols = `id, type, content, metadata, embedding, created_at, updated_at, access_count, last_accessed_at, relevance_score, pinned`

// Get fetches one memory by id. Per spec §4.7, L3 lookups do not bump
// access bookkeeping (only Touch, used during recall, does).
func (t *Tier) Get(ctx context.Context, id string) (*memory.Memory, error) {
	r, err := t.getRow(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, err := t.loadTags(ctx, id)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "get", id, err)
	}
	return t.toMemory(r, tags)
}

func (t *Tier) getRow(ctx context.Context, id string) (*row, error) {
	rw := t.db.QueryRowContext(ctx, `SELECT `+rowCols+` FROM memories WHERE id = ?`, id)
	r, err := t.scanRow(rw)
	if err == sql.ErrNoRows {
		return nil, memerrors.New(memerrors.NotFound, "L3 memory not found: "+id)
	}
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "get", id, err)
	}
	return r, nil
}

// Update rewrites a memory. If content is non-nil, the caller must supply
// the freshly computed embedding for the new content; nil embedding means
// "reuse whatever is stored" (metadata/tag-only updates never re-embed,
// per spec §4.4).
func (t *Tier) Update(ctx context.Context, id string, content *string, tags []string, meta *memory.Metadata, newEmbedding []float32) (*memory.Memory, error) {
	existing, err := t.getRow(ctx, id)
	if err != nil {
		return nil, err
	}

	newContent := existing.content
	if content != nil {
		newContent = *content
	}
	newMetaStruct, err := decodeMetadata(existing.metaJSON)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.CorruptData, err)
	}
	if meta != nil {
		newMetaStruct = *meta
	}
	metaJSON, err := encodeMetadata(newMetaStruct)
	if err != nil {
		return nil, memerrors.Wrap(memerrors.ValidationError, err)
	}

	embBytes := existing.embedding
	if content != nil && newEmbedding != nil {
		embBytes, err = encodeEmbedding(newEmbedding)
		if err != nil {
			return nil, memerrors.Wrap(memerrors.ValidationError, err)
		}
	}

	now := memory.NowMillis()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "update", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `UPDATE memories SET content = ?, metadata = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		newContent, metaJSON, embBytes, now, id)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "update", id, err)
	}
	if tags != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id); err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "update", id, err)
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags(memory_id, tag) VALUES (?, ?)`, id, tag); err != nil {
				return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "update", id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "update", id, err)
	}
	return t.Get(ctx, id)
}

// Delete removes a memory outright.
func (t *Tier) Delete(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L3", "delete", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L3", "delete", id, err)
	}
	if n == 0 {
		return memerrors.New(memerrors.NotFound, "L3 memory not found: "+id)
	}
	return nil
}

// SetPinned toggles the pinned flag, exempting the row from decay.
func (t *Tier) SetPinned(ctx context.Context, id string, pinned bool) error {
	v := 0
	if pinned {
		v = 1
	}
	res, err := t.db.ExecContext(ctx, `UPDATE memories SET pinned = ? WHERE id = ?`, v, id)
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L3", "setPinned", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memerrors.New(memerrors.NotFound, "L3 memory not found: "+id)
	}
	return nil
}

// GetAll returns every memory, newest first.
func (t *Tier) GetAll(ctx context.Context) ([]*memory.Memory, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+rowCols+` FROM memories ORDER BY created_at DESC`)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "getAll", "", err)
	}
	defer rows.Close()
	var out []*memory.Memory
	for rows.Next() {
		r, err := t.scanRow(rows)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "getAll", "", err)
		}
		tags, err := t.loadTags(ctx, r.id)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "getAll", "", err)
		}
		m, err := t.toMemory(r, tags)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecallResult pairs a memory with its cosine similarity to the query.
type RecallResult struct {
	Memory     *memory.Memory
	Similarity float64
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Recall performs a brute-force linear scan over every row, computing
// cosine similarity against queryEmbedding, and returns the top limit
// results sorted descending (spec §4.4). Rows whose embedding fails to
// decode are skipped with a warning rather than failing the whole recall.
func (t *Tier) Recall(ctx context.Context, queryEmbedding []float32, tags []string, limit int) ([]RecallResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := t.db.QueryContext(ctx, `SELECT `+rowCols+` FROM memories`)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "recall", "", err)
	}
	defer rows.Close()

	var tagFilter map[string]struct{}
	if len(tags) > 0 {
		tagFilter = make(map[string]struct{}, len(tags))
		for _, tg := range tags {
			tagFilter[tg] = struct{}{}
		}
	}

	var results []RecallResult
	yielder := cooperative.New()
	for rows.Next() {
		if err := yielder.Maybe(ctx); err != nil {
			return nil, memerrors.Wrap(memerrors.Cancelled, err)
		}

		r, err := t.scanRow(rows)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "recall", "", err)
		}

		emb, err := decodeEmbedding(r.embedding)
		if err != nil {
			slog.Warn("tier3_embedding_decode_failed", slog.String("id", r.id), slog.String("error", err.Error()))
			continue
		}
		if emb == nil {
			continue
		}

		rowTags, err := t.loadTags(ctx, r.id)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "recall", "", err)
		}
		if tagFilter != nil && !anyTagMatches(rowTags, tagFilter) {
			continue
		}

		sim := cosineSimilarity(queryEmbedding, emb)
		m, err := t.toMemory(r, rowTags)
		if err != nil {
			return nil, err
		}
		m.Similarity = sim
		results = append(results, RecallResult{Memory: m, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "recall", "", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func anyTagMatches(have []string, want map[string]struct{}) bool {
	for _, h := range have {
		if _, ok := want[h]; ok {
			return true
		}
	}
	return false
}

// Touch bumps accessCount/lastAccessedAt and recomputes relevanceScore
// using the access-scoring formula from spec §4.4.
func (t *Tier) Touch(ctx context.Context, id string, decayDays float64) error {
	if decayDays <= 0 {
		decayDays = DefaultDecayDays
	}
	r, err := t.getRow(ctx, id)
	if err != nil {
		return err
	}

	now := memory.NowMillis()
	accessCount := r.accessCount + 1
	lastAccessed := now
	if r.lastAccessedAt.Valid {
		lastAccessed = r.lastAccessedAt.Int64
	}

	score := accessScore(now, lastAccessed, r.createdAt, accessCount, decayDays)

	_, err = t.db.ExecContext(ctx, `
		UPDATE memories SET access_count = ?, last_accessed_at = ?, relevance_score = ? WHERE id = ?`,
		accessCount, now, score, id)
	if err != nil {
		return memerrors.WrapOp(memerrors.StorageError, "L3", "touch", id, err)
	}
	return nil
}

// accessScore implements spec §4.4's "access scoring on touch" formula,
// clamped to [0,1].
func accessScore(now, lastAccessed, created int64, accessCount int64, decayDays float64) float64 {
	d := decayDays * 86_400_000
	s := 0.4*math.Exp(-float64(now-lastAccessed)/(d/2)) +
		0.3*math.Exp(-float64(now-created)/(3*d)) +
		0.3 + math.Min(float64(accessCount)/20, 0.3)
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s
}

// decayScore implements spec §4.4's decay-sweep scoring formula.
func decayScore(age, timeSinceAccess int64, accessCount int64, decayDays float64) float64 {
	d := decayDays * 86_400_000
	return 0.3*math.Exp(-float64(age)/(2*d)) +
		0.7*math.Exp(-float64(timeSinceAccess)/d) +
		math.Min(float64(accessCount)/10, 0.5)
}

// DecayResult summarizes the effect of a decay sweep.
type DecayResult struct {
	Scanned int
	Updated int
	Deleted int
}

// Decay runs one decay pass over every non-pinned row (spec §4.4): rows
// scoring below threshold are deleted; rows whose new score differs from
// the stored value by more than 0.01 are updated in place.
func (t *Tier) Decay(ctx context.Context, decayDays, threshold float64) (*DecayResult, error) {
	if decayDays <= 0 {
		decayDays = DefaultDecayDays
	}
	if threshold <= 0 {
		threshold = DefaultDecayThreshold
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT id, created_at, last_accessed_at, access_count, relevance_score
		FROM memories WHERE pinned = 0`)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "decay", "", err)
	}

	type candidate struct {
		id           string
		createdAt    int64
		lastAccessed int64
		accessCount  int64
		stored       float64
	}
	var candidates []candidate
	now := memory.NowMillis()
	for rows.Next() {
		var c candidate
		var lastAccessed sql.NullInt64
		if err := rows.Scan(&c.id, &c.createdAt, &lastAccessed, &c.accessCount, &c.stored); err != nil {
			rows.Close()
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "decay", "", err)
		}
		c.lastAccessed = c.createdAt
		if lastAccessed.Valid {
			c.lastAccessed = lastAccessed.Int64
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "decay", "", err)
	}
	rows.Close()

	result := &DecayResult{Scanned: len(candidates)}
	yielder := cooperative.New()
	for _, c := range candidates {
		if err := yielder.Maybe(ctx); err != nil {
			return result, memerrors.Wrap(memerrors.Cancelled, err)
		}

		age := now - c.createdAt
		timeSinceAccess := now - c.lastAccessed
		score := decayScore(age, timeSinceAccess, c.accessCount, decayDays)

		if score < threshold {
			if _, err := t.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, c.id); err != nil {
				return result, memerrors.WrapOp(memerrors.StorageError, "L3", "decay", c.id, err)
			}
			result.Deleted++
			continue
		}

		if math.Abs(score-c.stored) > 0.01 {
			if _, err := t.db.ExecContext(ctx, `UPDATE memories SET relevance_score = ? WHERE id = ?`, score, c.id); err != nil {
				return result, memerrors.WrapOp(memerrors.StorageError, "L3", "decay", c.id, err)
			}
			result.Updated++
		}
	}
	return result, nil
}

// Count returns the total number of stored memories.
func (t *Tier) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, memerrors.Wrap(memerrors.StorageError, err)
	}
	return n, nil
}

// Search performs a substring, case-insensitive scan over stored content,
// analogous to L2's plain-text search mode.
func (t *Tier) Search(ctx context.Context, query string, limit int) ([]*memory.Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + strings.ToLower(query) + "%"
	rows, err := t.db.QueryContext(ctx, `
		SELECT `+rowCols+` FROM memories WHERE LOWER(content) LIKE ? ORDER BY created_at DESC LIMIT ?`, like, limit)
	if err != nil {
		return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "search", "", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		r, err := t.scanRow(rows)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "search", "", err)
		}
		tags, err := t.loadTags(ctx, r.id)
		if err != nil {
			return nil, memerrors.WrapOp(memerrors.StorageError, "L3", "search", "", err)
		}
		m, err := t.toMemory(r, tags)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
