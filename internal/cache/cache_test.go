package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "specgraph/internal/errors"
)

type vecEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   int
	texts   []string
}

func (e *vecEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (e *vecEmbedder) Dimension() int { return 3 }

type memStore struct {
	mu      sync.Mutex
	entries []Entry
	saves   int
	saveErr error
	loadErr error
}

func (m *memStore) Load() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...), m.loadErr
}

func (m *memStore) Save(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries = append([]Entry(nil), entries...)
	return nil
}

func queries(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Query
	}
	return out
}

func TestPut_EvictsOldestBeyondMaxSize(t *testing.T) {
	c := New(Config{MaxSize: 3}, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("q%d", i), "a", nil))
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"q1", "q2", "q3"}, queries(c.Entries()))
	_, ok := c.Get("q0")
	assert.False(t, ok)
}

func TestPut_DefaultMaxSize(t *testing.T) {
	c := New(Config{}, nil, nil, nil)
	for i := 0; i <= DefaultMaxSize; i++ {
		require.NoError(t, c.Put(context.Background(), fmt.Sprintf("q%d", i), "a", nil))
	}
	assert.Equal(t, DefaultMaxSize, c.Len())
	_, ok := c.Get("q0")
	assert.False(t, ok)
}

func TestPut_ReinsertTouchesWithoutGrowing(t *testing.T) {
	c := New(Config{MaxSize: 3}, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a", "1", nil))
	require.NoError(t, c.Put(ctx, "b", "2", nil))
	require.NoError(t, c.Put(ctx, "c", "3", nil))

	require.NoError(t, c.Put(ctx, " A ", "1b", nil))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []string{"b", "c", "a"}, queries(c.Entries()))

	require.NoError(t, c.Put(ctx, "d", "4", nil))
	assert.Equal(t, []string{"c", "a", "d"}, queries(c.Entries()))

	ans, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1b", ans)
}

func TestGet_DoesNotTouch(t *testing.T) {
	c := New(Config{MaxSize: 2}, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "a", "1", nil))
	require.NoError(t, c.Put(ctx, "b", "2", nil))

	_, ok := c.Get("A")
	require.True(t, ok)
	require.NoError(t, c.Put(ctx, "c", "3", nil))
	assert.Equal(t, []string{"b", "c"}, queries(c.Entries()))
}

func TestMatch_FuzzyHitAndMiss(t *testing.T) {
	em := &vecEmbedder{vectors: map[string][]float32{
		"what is attach procedure": {1, 0, 0},
	}}
	c := New(Config{}, em, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, "What is attach procedure", "It registers the UE.", nil))

	// cos = 0.9
	hit, ok, err := c.Match(ctx, []float32{0.9, 0.43589, 0})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "It registers the UE.", hit.Answer)
	assert.Equal(t, "what is attach procedure", hit.Query)
	assert.InDelta(t, 0.9, hit.Score, 1e-3)

	// cos = 0.8
	_, ok, err = c.Match(ctx, []float32{0.8, 0.6, 0})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, em.calls, "key vectors are memoized")
}

func TestMatch_UsesVectorGivenToPut(t *testing.T) {
	em := &vecEmbedder{}
	c := New(Config{FuzzyThreshold: 0.95}, em, nil, nil)
	require.NoError(t, c.Put(context.Background(), "q", "a", []float32{0, 1, 0}))

	_, ok, err := c.Match(context.Background(), []float32{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, em.calls)
}

func TestMatch_EmptyAndNoEmbedder(t *testing.T) {
	c := New(Config{}, nil, nil, nil)
	_, ok, err := c.Match(context.Background(), []float32{1})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(context.Background(), "q", "a", nil))
	_, _, err = c.Match(context.Background(), []float32{1})
	assert.True(t, apperrors.Is(err, apperrors.EmbeddingUnavailable))
}

func TestPut_PersistenceFailureKeepsMemory(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	c := New(Config{}, nil, store, nil)

	err := c.Put(context.Background(), "q", "a", nil)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.PersistenceFailed))

	ans, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, "a", ans)
}

func TestLoad(t *testing.T) {
	store := &memStore{entries: []Entry{{"Old", "1"}, {"b", "2"}, {"c", "3"}}}
	c := New(Config{MaxSize: 2}, nil, store, nil)
	require.NoError(t, c.Load())
	assert.Equal(t, []string{"b", "c"}, queries(c.Entries()))

	bad := New(Config{}, nil, &memStore{entries: []Entry{{"x", "y"}}, loadErr: errors.New("corrupt")}, nil)
	err := bad.Load()
	assert.True(t, apperrors.Is(err, apperrors.PersistenceFailed))
	assert.Zero(t, bad.Len())
}

func TestConcurrentPutAndMatch(t *testing.T) {
	em := &vecEmbedder{}
	store := &memStore{}
	c := New(Config{MaxSize: 10}, em, store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Put(ctx, fmt.Sprintf("q%d", i), "a", nil))
		}()
		go func() {
			defer wg.Done()
			_, _, err := c.Match(ctx, []float32{1, 0, 0})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, c.Len())
	assert.Equal(t, c.Entries(), store.entries, "last persisted snapshot is the newest")
}

func TestFileStore_RoundTripKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.yaml")
	s := NewFileStore(path)

	entries := []Entry{
		{Query: "zeta question", Answer: "single line"},
		{Query: "alpha: with colon", Answer: "line one\nline two\n- bullet"},
		{Query: "123", Answer: "true"},
	}
	require.NoError(t, s.Save(entries))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, files, 1, "no temp files left behind")
}

func TestFileStore_RoundTripKeepsLeadingWhitespace(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "cache.yaml"))
	entries := []Entry{
		{Query: "leading newline", Answer: "\nstarts with newline"},
		{Query: "indented", Answer: "  code block\nnext line"},
	}
	require.NoError(t, s.Save(entries))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestPut_InvalidUTF8QueryStillPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	ctx := context.Background()
	c := New(Config{}, nil, NewFileStore(path), nil)

	require.NoError(t, c.Put(ctx, "bad \xff query", "answer", nil))
	require.NoError(t, c.Put(ctx, "good query", "answer 2", nil))

	ans, ok := c.Get("bad \xff query")
	require.True(t, ok)
	assert.Equal(t, "answer", ans)

	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"bad \uFFFD query", "good query"}, queries(got))
}

func TestFileStore_Quarantine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	s := NewFileStore(path)

	moved, err := s.Quarantine()
	require.NoError(t, err)
	assert.Empty(t, moved)

	require.NoError(t, os.WriteFile(path, []byte("- not\n- a mapping"), 0o644))
	_, err = s.Load()
	require.Error(t, err)

	moved, err = s.Quarantine()
	require.NoError(t, err)
	assert.Equal(t, path+".corrupt", moved)
	data, err := os.ReadFile(moved)
	require.NoError(t, err)
	assert.Equal(t, "- not\n- a mapping", string(data))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_LoadsJSONAndMissingFile(t *testing.T) {
	dir := t.TempDir()

	got, err := NewFileStore(filepath.Join(dir, "none.yaml")).Load()
	require.NoError(t, err)
	assert.Empty(t, got)

	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"b query": "B", "a query": "A"}`), 0o644))
	got, err = NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []Entry{{"b query", "B"}, {"a query", "A"}}, got)

	require.NoError(t, os.WriteFile(path, []byte(`- just\n- a list`), 0o644))
	_, err = NewFileStore(path).Load()
	assert.Error(t, err)
}

func TestCache_ReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	ctx := context.Background()

	c := New(Config{}, nil, NewFileStore(path), nil)
	require.NoError(t, c.Put(ctx, "first", "1", nil))
	require.NoError(t, c.Put(ctx, "second", "2", nil))

	reloaded := New(Config{}, nil, NewFileStore(path), nil)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, c.Entries(), reloaded.Entries())
}
