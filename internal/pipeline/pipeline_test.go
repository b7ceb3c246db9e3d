package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specgraph/internal/analysis"
	"specgraph/internal/config"
	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/retrieval"
	"specgraph/internal/retry"
	"specgraph/internal/storage"
)

type echoCompleter struct {
	mu    sync.Mutex
	reply string
	calls int
}

func (c *echoCompleter) Complete(ctx context.Context, req knowledge.CompletionRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.reply, nil
}

const oldVersion = `{
  "4.1": {"title": "Scope", "content": [{"type": "paragraph", "text": "Registration procedure as in 4.2."}]},
  "4.2": "Deregistration procedure.",
  "4.3": "Obsolete paging text."
}`

const newVersion = `4.1 Scope
Registration procedure as in 4.2.
4.2
Deregistration procedure, see 9.9.
4.4 Security
Authentication of the subscriber.
`

type fixture struct {
	dir   string
	store *storage.SQLiteStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.json"), []byte(oldVersion), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte(newVersion), 0o644))

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &fixture{dir: dir, store: store}
}

func (f *fixture) build(t *testing.T, summarizer *knowledge.TitleSummarizer) *BuildResult {
	t.Helper()
	var out bytes.Buffer
	b := &Build{
		OldPath:     filepath.Join(f.dir, "old.json"),
		NewPath:     filepath.Join(f.dir, "new.txt"),
		ChangesPath: filepath.Join(f.dir, "out", "changes.json"),
		ReportPath:  filepath.Join(f.dir, "out", "report.md"),
		Store:       f.store,
		Embedder:    knowledge.NewHashingEmbedder(64),
		Summarizer:  summarizer,
		Out:         &out,
	}
	res, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Building diff graph")
	return res
}

func TestBuild_ClassifiesAndPersists(t *testing.T) {
	f := newFixture(t)
	res := f.build(t, nil)

	assert.Equal(t, []string{"4.1", "4.2", "4.3", "4.4"}, res.Diff.IDs())

	n41, _ := res.Diff.Node("4.1")
	assert.Equal(t, graph.ChangeUnchanged, n41.Change.Type())
	assert.Equal(t, "Scope", n41.TitleOrEmpty())

	n43, _ := res.Diff.Node("4.3")
	assert.Equal(t, graph.ChangeRemoved, n43.Change.Type())

	n44, _ := res.Diff.Node("4.4")
	assert.Equal(t, graph.ChangeAdded, n44.Change.Type())
	assert.Equal(t, "Security", n44.TitleOrEmpty())

	n42, _ := res.Diff.Node("4.2")
	assert.Contains(t, []graph.ChangeType{graph.ChangeModified, graph.ChangeUnchanged}, n42.Change.Type())
	assert.Nil(t, n42.Title)

	assert.Equal(t, 1, res.Diff.DanglingCount())
	require.NotNil(t, res.Impact)
	direct := analysis.IDs(res.Impact.DirectlyAffected)
	assert.Contains(t, direct, "4.3")
	assert.Contains(t, direct, "4.4")
	assert.NotContains(t, direct, "4.1")
	assert.Equal(t, graph.KindSingle, res.Old.Kind)
	assert.Equal(t, 3, res.Old.Len())
	assert.Equal(t, 3, res.New.Len())

	for _, name := range []string{storage.GraphDiff, storage.GraphOld, storage.GraphNew} {
		loaded, err := f.store.LoadGraph(context.Background(), name)
		require.NoError(t, err, name)
		assert.NotZero(t, loaded.Len(), name)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, "out", "changes.json"))
	require.NoError(t, err)
	var changes map[string]graph.NodeView
	require.NoError(t, json.Unmarshal(data, &changes))
	assert.Contains(t, changes, "4.3")
	assert.Contains(t, changes, "4.4")
	assert.NotContains(t, changes, "4.1")

	report, err := os.ReadFile(filepath.Join(f.dir, "out", "report.md"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "## Added")
	assert.Contains(t, string(report), "**4.4** Security")
}

func TestBuild_SummarizesMissingTitles(t *testing.T) {
	f := newFixture(t)
	c := &echoCompleter{reply: "Deregistration"}
	s := knowledge.NewTitleSummarizer(c, nil, knowledge.WithRetryPolicy(retry.Policy{MaxAttempts: 1}))

	res := f.build(t, s)

	n42, _ := res.Diff.Node("4.2")
	assert.Equal(t, "Deregistration", n42.TitleOrEmpty())
	n43, _ := res.Diff.Node("4.3")
	assert.Equal(t, "Deregistration", n43.TitleOrEmpty())
	// parsed titles are kept
	n41, _ := res.Diff.Node("4.1")
	assert.Equal(t, "Scope", n41.TitleOrEmpty())

	old42, _ := res.Old.Node("4.2")
	assert.Equal(t, "Deregistration", old42.TitleOrEmpty())
	assert.Empty(t, res.New.MissingTitles())
	assert.Equal(t, 2, c.calls)
}

func TestBuild_MissingInput(t *testing.T) {
	b := &Build{OldPath: filepath.Join(t.TempDir(), "missing.json"), NewPath: "also-missing"}
	_, err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "old version")
}

func TestRuntime_AnswersFromPersistedGraph(t *testing.T) {
	f := newFixture(t)
	f.build(t, nil)

	cfg := config.Default()
	cfg.AI.Provider = "hashing"
	cfg.Data.CacheFile = filepath.Join(f.dir, "cache.yaml")

	em := knowledge.NewHashingEmbedder(64)
	c := &echoCompleter{reply: "Authentication is covered in 4.4."}
	rt, err := NewRuntime(context.Background(), RuntimeOptions{
		Config:    cfg,
		Store:     f.store,
		Embedder:  em,
		Completer: c,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, rt.Corpus.Len())

	resp, err := rt.Service.HandleQuery(context.Background(), "How is the subscriber authenticated for security?")
	require.NoError(t, err)
	assert.Equal(t, "Authentication is covered in 4.4.", resp.Answer)
	// top match first, then its siblings in section order
	assert.Equal(t, []string{"4.4", "4.1", "4.2", "4.3"}, resp.Highlight)

	cached, err := os.ReadFile(cfg.Data.CacheFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(cached), "authenticated"))

	// stored corpus vectors are reused by a second runtime
	var hashes []string
	for _, n := range rt.Graph.Nodes() {
		hashes = append(hashes, retrieval.ContentHash(retrieval.CombinedText(n)))
	}
	stored, err := f.store.LoadEmbeddings(context.Background(), cfg.EmbeddingKey(), hashes)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	rt2, err := NewRuntime(context.Background(), RuntimeOptions{Config: cfg, Store: f.store, Embedder: em, Completer: c})
	require.NoError(t, err)
	assert.Equal(t, 1, rt2.Cache.Len())
	resp, err = rt2.Service.HandleQuery(context.Background(), "How is the subscriber authenticated for security?")
	require.NoError(t, err)
	assert.Empty(t, resp.Highlight)
	assert.Equal(t, 1, c.calls)
}

func TestRuntime_MovesUnreadableCacheAside(t *testing.T) {
	f := newFixture(t)
	f.build(t, nil)

	cfg := config.Default()
	cfg.AI.Provider = "hashing"
	cfg.Data.CacheFile = filepath.Join(f.dir, "cache.yaml")
	garbage := "- not\n- a mapping\n"
	require.NoError(t, os.WriteFile(cfg.Data.CacheFile, []byte(garbage), 0o644))

	rt, err := NewRuntime(context.Background(), RuntimeOptions{
		Config:    cfg,
		Store:     f.store,
		Embedder:  knowledge.NewHashingEmbedder(64),
		Completer: &echoCompleter{reply: "answer"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rt.Cache.Len())

	_, err = rt.Service.HandleQuery(context.Background(), "What is registration?")
	require.NoError(t, err)

	kept, err := os.ReadFile(cfg.Data.CacheFile + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, garbage, string(kept))

	fresh, err := os.ReadFile(cfg.Data.CacheFile)
	require.NoError(t, err)
	assert.Contains(t, string(fresh), "what is registration?")
}

func TestRuntime_RequiresBuiltGraph(t *testing.T) {
	f := newFixture(t)
	_, err := NewRuntime(context.Background(), RuntimeOptions{Store: f.store, Embedder: knowledge.NewHashingEmbedder(8)})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrGraphNotFound)
}
