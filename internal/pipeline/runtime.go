package pipeline

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"specgraph/internal/cache"
	"specgraph/internal/config"
	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/metrics"
	"specgraph/internal/retrieval"
	"specgraph/internal/service"
	"specgraph/internal/storage"
)

type RuntimeOptions struct {
	Config    *config.Config
	Store     storage.Store
	Embedder  knowledge.Embedder
	Completer knowledge.Completer
	// CacheStore overrides the file named by the config. Optional.
	CacheStore cache.Store
	Log        *logger.Logger
}

// Runtime holds everything the query path needs, built once at startup.
type Runtime struct {
	Graph    *graph.Graph
	Corpus   *retrieval.Corpus
	Engine   *retrieval.Engine
	Cache    *cache.Cache
	Service  *service.Service
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// NewRuntime loads the persisted diff graph, embeds the corpus (reusing stored
// vectors) and restores the response cache. A cache that fails to load is
// reported and replaced by an empty one.
func NewRuntime(ctx context.Context, opts RuntimeOptions) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	g, err := opts.Store.LoadGraph(ctx, storage.GraphDiff)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph (run build first): %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	corpus, err := retrieval.BuildCorpus(ctx, g, opts.Embedder, retrieval.CorpusOptions{
		Store:    opts.Store,
		ModelKey: cfg.EmbeddingKey(),
		Log:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed corpus: %w", err)
	}

	byChange := make(map[string]int)
	for t, n := range g.CountByChange() {
		byChange[string(t)] = n
	}
	m.SetGraphStats(byChange, corpus.Len())

	engine := retrieval.NewEngine(g, corpus, opts.Embedder, cfg.RetrievalConfig(), log)

	cacheStore := opts.CacheStore
	if cacheStore == nil {
		cacheStore = cache.NewFileStore(cfg.Data.CacheFile)
	}
	c := cache.New(cfg.CacheConfig(), opts.Embedder, cacheStore, log)
	if err := c.Load(); err != nil {
		log.Warn().Err(err).Msg("response cache unreadable, starting empty")
		if fs, ok := cacheStore.(*cache.FileStore); ok {
			moved, qerr := fs.Quarantine()
			if qerr != nil {
				log.Error().Err(qerr).Msg("unreadable response cache not moved aside")
			} else if moved != "" {
				log.Warn().Str("moved_to", moved).Msg("unreadable response cache kept")
			}
		}
	}
	m.SetCacheEntries(c.Len())

	svc := service.New(service.Deps{
		Cache:     c,
		Engine:    engine,
		Embedder:  opts.Embedder,
		Completer: opts.Completer,
		Metrics:   m,
		Log:       log,
	}, service.Options{
		Timeout:     cfg.Query.Timeout,
		Temperature: cfg.Query.Temperature,
	})

	log.Info().
		Int("nodes", g.Len()).
		Int("corpus", corpus.Len()).
		Int("cached_answers", c.Len()).
		Msg("query runtime ready")

	return &Runtime{
		Graph:    g,
		Corpus:   corpus,
		Engine:   engine,
		Cache:    c,
		Service:  svc,
		Metrics:  m,
		Registry: reg,
	}, nil
}
