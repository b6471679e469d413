package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Memory cache.
type Option func(*Memory)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxSize sets the capacity.
func WithMaxSize(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemory creates an empty cache.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries: make(map[string]*Entry),
		ttl:     DefaultTTL,
		maxSize: DefaultMaxSize,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, query string) (*Entry, bool) {
	key := Normalize(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().Sub(e.Timestamp) > m.ttl {
		delete(m.entries, key)
		return nil, false
	}

	e.Hits++
	m.logger.Debug("cache hit", "query", key, "hits", e.Hits)
	return cloneEntry(e), true
}

func (m *Memory) Set(_ context.Context, query string, entry Entry) error {
	key := Normalize(query)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	e := cloneEntry(&entry)
	e.Timestamp = m.now()
	e.Hits = 1
	m.entries[key] = e
	m.logger.Debug("cached response", "query", key)
	return nil
}

// evictOldest removes the entry with the earliest timestamp. Ties go to the
// smallest key.
func (m *Memory) evictOldest() {
	var (
		oldestKey string
		oldest    *Entry
	)
	for k, e := range m.entries {
		if oldest == nil || e.Timestamp.Before(oldest.Timestamp) ||
			(e.Timestamp.Equal(oldest.Timestamp) && k < oldestKey) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(m.entries, oldestKey)
		m.logger.Debug("evicted cache entry", "query", oldestKey)
	}
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := Stats{
		Size:    len(m.entries),
		MaxSize: m.maxSize,
		Entries: make([]EntryStats, 0, len(m.entries)),
	}
	for k, e := range m.entries {
		stats.Entries = append(stats.Entries, EntryStats{
			Query: k,
			Hits:  e.Hits,
			Age:   now.Sub(e.Timestamp).Truncate(time.Second),
		})
	}
	sort.Slice(stats.Entries, func(i, j int) bool {
		return stats.Entries[i].Query < stats.Entries[j].Query
	})
	return stats, nil
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Sources = append([]string(nil), e.Sources...)
	if e.Products != nil {
		c.Products = append(c.Products[:0:0], e.Products...)
	}
	return &c
}
