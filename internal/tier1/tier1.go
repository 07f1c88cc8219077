// Package tier1 implements the L1 working tier: a purely in-memory,
// TTL+LRU map of ephemeral session memories (spec §4.2). It performs no
// I/O and therefore has no failure model beyond "not found".
package tier1

import (
	"sort"
	"sync"
	"time"

	"github.com/contextfabric/context-fabric/internal/memerrors"
	"github.com/contextfabric/context-fabric/internal/memory"
)

// DefaultMaxSize is the default entry cap before LRU eviction kicks in.
const DefaultMaxSize = 1000

// DefaultTTLSeconds is used when a caller does not specify a TTL.
const DefaultTTLSeconds = 3600

type entry struct {
	mem       *memory.Memory
	expiresAt int64 // epoch ms
}

// Tier is the L1 working tier store.
type Tier struct {
	mu      sync.Mutex
	entries map[string]*entry
	maxSize int

	stopSweep chan struct{}
}

// New creates an L1 tier with the given capacity. maxSize <= 0 uses
// DefaultMaxSize.
func New(maxSize int) *Tier {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Tier{
		entries: make(map[string]*entry),
		maxSize: maxSize,
	}
}

// Store inserts content as a new L1 memory, evicting the oldest entry by
// lastAccessedAt (ties broken by smaller id) if the tier is already at
// capacity.
func (t *Tier) Store(content string, typ memory.Type, tags []string, meta memory.Metadata, ttlSeconds int64) *memory.Memory {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}

	now := memory.NowMillis()
	m := &memory.Memory{
		ID:             memory.NewID(),
		Type:           typ,
		Tier:           memory.L1,
		Content:        content,
		Tags:           tags,
		Metadata:       meta,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: &now,
		TTLSeconds:     ttlSeconds,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeExpiredLocked()
	if len(t.entries) >= t.maxSize {
		t.evictOldestLocked()
	}

	t.entries[m.ID] = &entry{mem: m, expiresAt: now + ttlSeconds*1000}
	return m
}

// Get returns the memory if present and not expired, bumping its access
// bookkeeping. Expired entries are purged on access.
func (t *Tier) Get(id string) (*memory.Memory, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	if t.isExpiredLocked(e) {
		delete(t.entries, id)
		return nil, false
	}

	now := memory.NowMillis()
	e.mem.AccessCount++
	e.mem.LastAccessedAt = &now
	return e.mem, true
}

// GetAll returns all non-expired entries, purging expired ones eagerly.
func (t *Tier) GetAll() []*memory.Memory {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.purgeExpiredLocked()
	out := make([]*memory.Memory, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// Delete removes an entry by id.
func (t *Tier) Delete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return memerrors.New(memerrors.NotFound, "L1 memory not found: "+id)
	}
	delete(t.entries, id)
	return nil
}

// Touch refreshes lastAccessedAt without returning the memory (used by
// promote's L1-side no-op per design note §9 open question (a)).
func (t *Tier) Touch(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok || t.isExpiredLocked(e) {
		return memerrors.New(memerrors.NotFound, "L1 memory not found: "+id)
	}
	now := memory.NowMillis()
	e.mem.LastAccessedAt = &now
	return nil
}

// Clear removes all entries.
func (t *Tier) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*entry)
}

// Size returns the current (non-purged) entry count.
func (t *Tier) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// StartSweep launches a background goroutine that purges expired entries
// every interval, stoppable via StopSweep.
func (t *Tier) StartSweep(interval time.Duration) {
	t.mu.Lock()
	if t.stopSweep != nil {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.stopSweep = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.mu.Lock()
				t.purgeExpiredLocked()
				t.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep halts the background sweep goroutine, if running.
func (t *Tier) StopSweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopSweep != nil {
		close(t.stopSweep)
		t.stopSweep = nil
	}
}

func (t *Tier) isExpiredLocked(e *entry) bool {
	return memory.NowMillis() >= e.expiresAt
}

func (t *Tier) purgeExpiredLocked() {
	now := memory.NowMillis()
	for id, e := range t.entries {
		if now >= e.expiresAt {
			delete(t.entries, id)
		}
	}
}

// evictOldestLocked removes the entry with the oldest lastAccessedAt,
// breaking ties on the lexicographically smaller id (spec §4.2).
func (t *Tier) evictOldestLocked() {
	var victim string
	var oldest int64 = 1<<63 - 1
	for id, e := range t.entries {
		la := e.mem.CreatedAt
		if e.mem.LastAccessedAt != nil {
			la = *e.mem.LastAccessedAt
		}
		if la < oldest || (la == oldest && id < victim) {
			oldest = la
			victim = id
		}
	}
	if victim != "" {
		delete(t.entries, victim)
	}
}
