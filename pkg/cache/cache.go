// Package cache stores complete answers keyed by normalized query text.
//
// Entries expire lazily: an expired entry is only noticed, and dropped, when
// it is read or when capacity is checked. Eviction removes the oldest entry by
// insertion time. Hit counts are kept for reporting and play no part in
// eviction.
package cache

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/barekit/vitrine/pkg/catalog"
)

const (
	// DefaultTTL is how long an answer stays valid.
	DefaultTTL = time.Hour
	// DefaultMaxSize is the maximum number of cached answers.
	DefaultMaxSize = 100
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// Normalize maps equivalent queries to the same key: lower case, punctuation
// removed, surrounding space trimmed.
func Normalize(query string) string {
	return strings.TrimSpace(punctuation.ReplaceAllString(strings.ToLower(query), ""))
}

// Entry is a cached answer.
type Entry struct {
	Message   string                  `json:"message"`
	Sources   []string                `json:"sources"`
	Products  []catalog.ProductResult `json:"products,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
	Hits      int                     `json:"hits"`
}

// EntryStats describes one cached entry.
type EntryStats struct {
	Query string        `json:"query"`
	Hits  int           `json:"hits"`
	Age   time.Duration `json:"age"`
}

// Stats describes the cache contents.
type Stats struct {
	Size    int          `json:"size"`
	MaxSize int          `json:"maxSize"`
	Entries []EntryStats `json:"entries"`
}

// Store is a response cache.
type Store interface {
	// Get returns the live entry for query and counts the hit.
	Get(ctx context.Context, query string) (*Entry, bool)
	// Set stores an answer for query, evicting the oldest entry when a new
	// key would exceed capacity. Timestamp and Hits are set by the store.
	Set(ctx context.Context, query string, entry Entry) error
	// Clear drops every entry.
	Clear(ctx context.Context) error
	// Stats reports the current contents.
	Stats(ctx context.Context) (Stats, error)
}
