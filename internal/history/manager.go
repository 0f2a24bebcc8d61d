package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testpulse/testpulse/internal/config"
	"github.com/testpulse/testpulse/internal/errs"
	"github.com/testpulse/testpulse/internal/storage"
	"github.com/testpulse/testpulse/pkg/types"
)

// Manager is the history log. All methods are safe for concurrent use.
type Manager struct {
	store      storage.Store
	retention  time.Duration
	maxEntries int
	now        func() time.Time // injectable for deterministic tests

	mu            sync.RWMutex
	entries       []types.HistoryEntry // ascending by Timestamp
	byID          map[string]int
	idx           index
	warnings      int
	storageErrors int
	// dirty is set when the store may not match entries; the next write
	// is a full Save instead of an Append.
	dirty bool
}

// index maps each key to positions in Manager.entries, in log order.
type index struct {
	framework map[string][]int
	day       map[string][]int
	status    map[string][]int
	source    map[string][]int
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns an empty Manager backed by store. Call Load to read the
// persisted log.
func New(store storage.Store, cfg config.HistoryConfig, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		retention:  cfg.Retention(),
		maxEntries: cfg.MaxEntries,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	m.rebuild()
	return m
}

// Load replaces the in-memory log with the persisted one. Undecodable,
// incomplete and duplicate entries are dropped and counted in Warnings.
// A storage error leaves the log empty and is returned for the caller to log.
func (m *Manager) Load(ctx context.Context) error {
	loaded, skipped, err := m.store.Load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = m.entries[:0]
	m.warnings = skipped
	if err != nil {
		m.storageErrors++
		m.dirty = true
		m.rebuild()
		return err
	}
	m.dirty = false

	seen := make(map[string]bool, len(loaded))
	for _, e := range loaded {
		if !e.Valid() || seen[e.ID] {
			m.warnings++
			continue
		}
		seen[e.ID] = true
		m.entries = append(m.entries, e)
	}
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].Timestamp.Before(m.entries[j].Timestamp)
	})
	m.rebuild()

	if m.warnings > 0 {
		slog.Warn("history: malformed entries excluded", "count", m.warnings, "path", m.store.Path())
	}
	slog.Info("history: loaded", "entries", len(m.entries), "path", m.store.Path())
	return nil
}

// AddEntry stores res as a new HistoryEntry, applies retention and persists
// the change.
func (m *Manager) AddEntry(ctx context.Context, res types.NormalizedResult) types.HistoryEntry {
	now := m.now().UTC()
	if res.Timestamp.IsZero() {
		res.Timestamp = now
	}
	if res.Framework == "" {
		res.Framework = types.FrameworkExternal
	}
	e := types.HistoryEntry{
		NormalizedResult: res,
		ID:               uuid.NewString(),
		ResultID:         res.ID,
		Metadata:         types.EntryMetadata{StoredAt: now, Version: types.EntryVersion},
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Timestamp.After(e.Timestamp)
	})
	m.entries = append(m.entries, types.HistoryEntry{})
	copy(m.entries[pos+1:], m.entries[pos:])
	m.entries[pos] = e

	removed := m.applyRetention(now)
	m.rebuild()

	if removed > 0 || m.dirty {
		m.persistAll(ctx)
	} else if err := m.store.Append(ctx, e); err != nil {
		m.storageErrors++
		m.dirty = true
		slog.Error("history: append failed", "id", e.ID, "err", err)
	}
	return e
}

// CleanupOldEntries applies the retention policy and returns the number of
// entries removed. Calling it again without new entries removes nothing.
func (m *Manager) CleanupOldEntries(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := m.applyRetention(m.now().UTC())
	if removed > 0 {
		m.rebuild()
		m.persistAll(ctx)
		slog.Info("history: retention sweep", "removed", removed, "remaining", len(m.entries))
	}
	return removed
}

// applyRetention drops expired entries, then the oldest ones beyond
// maxEntries. Caller holds m.mu.
func (m *Manager) applyRetention(now time.Time) int {
	before := len(m.entries)

	if m.retention > 0 {
		cutoff := now.Add(-m.retention)
		// entries is sorted, so expired ones form a prefix.
		n := sort.Search(len(m.entries), func(i int) bool {
			return !m.entries[i].Timestamp.Before(cutoff)
		})
		m.entries = append(m.entries[:0], m.entries[n:]...)
	}
	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.entries = append(m.entries[:0], m.entries[len(m.entries)-m.maxEntries:]...)
	}
	return before - len(m.entries)
}

// persistAll writes the whole log, replacing whatever the store holds.
// Caller holds m.mu.
func (m *Manager) persistAll(ctx context.Context) {
	if err := m.store.Save(ctx, m.entries); err != nil {
		m.storageErrors++
		m.dirty = true
		slog.Error("history: save failed", "path", m.store.Path(), "err", err)
		return
	}
	if m.dirty {
		slog.Info("history: store rewritten", "path", m.store.Path(), "entries", len(m.entries))
	}
	m.dirty = false
}

// rebuild recomputes byID and every index from m.entries. Caller holds m.mu.
func (m *Manager) rebuild() {
	m.byID = make(map[string]int, len(m.entries))
	m.idx = index{
		framework: make(map[string][]int),
		day:       make(map[string][]int),
		status:    make(map[string][]int),
		source:    make(map[string][]int),
	}
	for i := range m.entries {
		e := &m.entries[i]
		m.byID[e.ID] = i
		m.idx.framework[string(e.Framework)] = append(m.idx.framework[string(e.Framework)], i)
		m.idx.day[e.Day()] = append(m.idx.day[e.Day()], i)
		m.idx.status[e.Status()] = append(m.idx.status[e.Status()], i)
		m.idx.source[e.Source] = append(m.idx.source[e.Source], i)
	}
}

// Get returns the entry with the given history id. The collector's result id
// is accepted too, since that is what push subscribers see.
func (m *Manager) Get(id string) (types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i, ok := m.byID[id]; ok {
		return m.entries[i], nil
	}
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ResultID == id {
			return m.entries[i], nil
		}
	}
	return types.HistoryEntry{}, &errs.NotFoundError{Resource: "result", ID: id}
}

// All returns a copy of the log in timestamp order.
func (m *Manager) All() []types.HistoryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.HistoryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len returns the number of entries in the log.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Warnings returns how many stored entries were excluded as malformed by the
// last Load.
func (m *Manager) Warnings() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warnings
}

// Info summarises the log for the system endpoints.
type Info struct {
	Entries       int            `json:"entries"`
	Oldest        *time.Time     `json:"oldest,omitempty"`
	Newest        *time.Time     `json:"newest,omitempty"`
	Frameworks    map[string]int `json:"frameworks"`
	Days          int            `json:"days"`
	Warnings      int            `json:"warnings"`
	StorageErrors int            `json:"storageErrors"`
	Path          string         `json:"path"`
	RetentionDays int            `json:"retentionDays"`
	MaxEntries    int            `json:"maxEntries"`
}

// Info returns a summary of the current log.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := Info{
		Entries:       len(m.entries),
		Frameworks:    make(map[string]int, len(m.idx.framework)),
		Days:          len(m.idx.day),
		Warnings:      m.warnings,
		StorageErrors: m.storageErrors,
		Path:          m.store.Path(),
		RetentionDays: int(m.retention / (24 * time.Hour)),
		MaxEntries:    m.maxEntries,
	}
	for fw, refs := range m.idx.framework {
		info.Frameworks[fw] = len(refs)
	}
	if n := len(m.entries); n > 0 {
		oldest, newest := m.entries[0].Timestamp, m.entries[n-1].Timestamp
		info.Oldest, info.Newest = &oldest, &newest
	}
	return info
}
