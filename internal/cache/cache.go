// Package cache is the response cache of the query path: a bounded LRU of
// query -> answer with exact lookup and a similarity-based fuzzy fallback,
// persisted in full after every update.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
)

const (
	DefaultMaxSize        = 50
	DefaultFuzzyThreshold = 0.85
)

// Entry is one cached answer.
type Entry struct {
	Query  string
	Answer string
}

// Store persists the full cache, oldest entry first.
type Store interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
}

type Config struct {
	MaxSize int
	// FuzzyThreshold is the minimum similarity for a fuzzy hit. It is
	// independent of the diff classification threshold.
	FuzzyThreshold float64
}

// Hit is a fuzzy match result.
type Hit struct {
	Query  string
	Answer string
	Score  float64
}

type item struct {
	query  string
	answer string
	vec    []float32
}

// Cache is safe for concurrent use. Readers never see a partially applied
// Put, and no lock is held while embedding or persisting.
type Cache struct {
	mu      sync.RWMutex
	order   *list.List // front is least recently inserted
	items   map[string]*list.Element
	version uint64

	persistMu sync.Mutex
	persisted uint64

	maxSize   int
	threshold float64
	embedder  knowledge.Embedder
	store     Store
	log       *logger.Logger
}

// New builds an empty cache. store may be nil for a memory-only cache.
func New(cfg Config, em knowledge.Embedder, store Store, log *logger.Logger) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{
		order:     list.New(),
		items:     make(map[string]*list.Element),
		maxSize:   cfg.MaxSize,
		threshold: cfg.FuzzyThreshold,
		embedder:  em,
		store:     store,
		log:       log.Component("cache"),
	}
}

// NormalizeKey lowercases and trims a query the same way the query path does.
// Invalid UTF-8 is replaced so every key can be written to the cache file.
func NormalizeKey(q string) string {
	return strings.ToLower(strings.TrimSpace(strings.ToValidUTF8(q, "\uFFFD")))
}

// Load replaces the in-memory contents with the stored entries. On error the
// cache is left empty and the error is returned for the caller to report.
func (c *Cache) Load() error {
	if c.store == nil {
		return nil
	}
	entries, err := c.store.Load()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	if err != nil {
		return apperrors.New(apperrors.PersistenceFailed, "load response cache", err)
	}
	for _, e := range entries {
		c.insertLocked(NormalizeKey(e.Query), e.Answer, nil)
	}
	c.version++
	c.persistMu.Lock()
	c.persisted = c.version
	c.persistMu.Unlock()
	return nil
}

// Get is the exact lookup. It does not change recency.
func (c *Cache) Get(query string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	el, ok := c.items[NormalizeKey(query)]
	if !ok {
		return "", false
	}
	return el.Value.(*item).answer, true
}

// Match finds the cached query most similar to queryVec and reports a hit
// when its score reaches the fuzzy threshold. Keys without a vector are
// embedded outside the lock and memoized.
func (c *Cache) Match(ctx context.Context, queryVec []float32) (Hit, bool, error) {
	snap := c.snapshot()
	if len(snap) == 0 {
		return Hit{}, false, nil
	}

	var missing []int
	for i, it := range snap {
		if it.vec == nil {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		if c.embedder == nil {
			return Hit{}, false, apperrors.New(apperrors.EmbeddingUnavailable, "no embedder for cached queries", nil)
		}
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = snap[i].query
		}
		vecs, err := c.embedder.Embed(ctx, texts)
		if err != nil {
			return Hit{}, false, apperrors.New(apperrors.EmbeddingUnavailable, "embed cached queries", err)
		}
		if len(vecs) != len(texts) {
			return Hit{}, false, apperrors.New(apperrors.EmbeddingUnavailable, "embedder returned wrong vector count", nil)
		}
		for j, i := range missing {
			snap[i].vec = vecs[j]
		}
		c.memoize(snap, missing)
	}

	vectors := make([][]float32, len(snap))
	for i, it := range snap {
		vectors[i] = it.vec
	}
	idx, score := knowledge.BestMatch(queryVec, vectors)
	if idx < 0 || score < c.threshold {
		return Hit{}, false, nil
	}
	best := snap[idx]
	return Hit{Query: best.query, Answer: best.answer, Score: score}, true, nil
}

// Put stores an answer as the most recent entry, evicting the oldest entries
// beyond MaxSize, then persists the whole cache. vec may be nil. A persistence
// error is returned but the in-memory update stands.
func (c *Cache) Put(ctx context.Context, query, answer string, vec []float32) error {
	key := NormalizeKey(query)
	if key == "" {
		return apperrors.New(apperrors.InvalidInput, "empty cache key", nil)
	}

	c.mu.Lock()
	evicted := c.insertLocked(key, answer, vec)
	c.version++
	version := c.version
	entries := c.entriesLocked()
	c.mu.Unlock()

	for _, q := range evicted {
		c.log.Debug().Str("query", q).Msg("evicted cached answer")
	}
	return c.persist(entries, version)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Entries returns a copy of the cache, least recently inserted first.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entriesLocked()
}

func (c *Cache) insertLocked(key, answer string, vec []float32) []string {
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item)
		it.answer = answer
		if vec != nil {
			it.vec = vec
		}
		c.order.MoveToBack(el)
	} else {
		c.items[key] = c.order.PushBack(&item{query: key, answer: answer, vec: vec})
	}

	var evicted []string
	for c.order.Len() > c.maxSize {
		front := c.order.Front()
		it := c.order.Remove(front).(*item)
		delete(c.items, it.query)
		evicted = append(evicted, it.query)
	}
	return evicted
}

func (c *Cache) entriesLocked() []Entry {
	out := make([]Entry, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		it := el.Value.(*item)
		out = append(out, Entry{Query: it.query, Answer: it.answer})
	}
	return out
}

// snapshot copies the items so the caller can work without the lock.
func (c *Cache) snapshot() []item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]item, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, *el.Value.(*item))
	}
	return out
}

// memoize stores freshly computed key vectors on entries that still exist.
// Vectors depend only on the key, so a replaced answer keeps them valid.
func (c *Cache) memoize(snap []item, idx []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range idx {
		if el, ok := c.items[snap[i].query]; ok {
			if it := el.Value.(*item); it.vec == nil {
				it.vec = snap[i].vec
			}
		}
	}
}

// persist writes a snapshot unless a newer one has already been written.
func (c *Cache) persist(entries []Entry, version uint64) error {
	if c.store == nil {
		return nil
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if version <= c.persisted {
		return nil
	}
	if err := c.store.Save(entries); err != nil {
		return apperrors.New(apperrors.PersistenceFailed, "persist response cache", err)
	}
	c.persisted = version
	return nil
}
