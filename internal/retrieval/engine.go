// Package retrieval finds the section that best answers a question and
// assembles the bounded context sent to the completion service.
package retrieval

import (
	"context"
	"strings"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/section"
)

// Config controls how much context surrounds the best-matching section.
type Config struct {
	// NeighborLimit caps neighbor sections across parent, siblings and
	// children combined.
	NeighborLimit int
	// SnippetLength is the number of characters kept per section.
	SnippetLength int
}

func DefaultConfig() Config {
	return Config{
		NeighborLimit: 4,
		SnippetLength: 500,
	}
}

// Result is what a query resolves to before completion.
type Result struct {
	NodeID    section.ID
	Score     float64
	Highlight []section.ID
	Context   string
}

type Engine struct {
	graph    *graph.Graph
	corpus   *Corpus
	embedder knowledge.Embedder
	cfg      Config
	log      *logger.Logger
}

func NewEngine(g *graph.Graph, corpus *Corpus, em knowledge.Embedder, cfg Config, log *logger.Logger) *Engine {
	def := DefaultConfig()
	if cfg.NeighborLimit < 0 {
		cfg.NeighborLimit = def.NeighborLimit
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = def.SnippetLength
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		graph:    g,
		corpus:   corpus,
		embedder: em,
		cfg:      cfg,
		log:      log.Component("retrieval"),
	}
}

// NormalizeQuery lowercases and trims a raw question.
func NormalizeQuery(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Retrieve selects the corpus node nearest to the query and builds its
// context. queryVec may be nil, in which case the query is embedded here.
func (e *Engine) Retrieve(ctx context.Context, query string, queryVec []float32) (*Result, error) {
	query = NormalizeQuery(query)
	if query == "" {
		return nil, apperrors.New(apperrors.InvalidInput, "query is empty", nil)
	}
	if e.corpus.Len() == 0 {
		return nil, apperrors.New(apperrors.EmptyCorpus, "no embeddable sections in graph", nil)
	}

	if queryVec == nil {
		if e.embedder == nil {
			return nil, apperrors.New(apperrors.EmbeddingUnavailable, "no embedder configured", nil)
		}
		vec, err := knowledge.EmbedOne(ctx, e.embedder, query)
		if err != nil {
			return nil, apperrors.New(apperrors.EmbeddingUnavailable, "embedding query failed", err)
		}
		queryVec = vec
	}

	topID, score, ok := e.corpus.Nearest(queryVec)
	if !ok {
		return nil, apperrors.New(apperrors.EmptyCorpus, "no embeddable sections in graph", nil)
	}
	top, ok := e.graph.Node(topID)
	if !ok {
		return nil, apperrors.New(apperrors.InternalError, "corpus node "+topID+" missing from graph", nil)
	}

	highlight := []section.ID{topID}
	parts := []string{e.FormatSection(top)}
	for _, id := range e.neighborOrder(top) {
		if len(highlight)-1 >= e.cfg.NeighborLimit {
			break
		}
		n, ok := e.graph.Node(id)
		if !ok {
			continue
		}
		parts = append(parts, e.FormatSection(n))
		highlight = append(highlight, id)
	}

	e.log.Debug().
		Str("node", topID).
		Float64("score", score).
		Strs("highlight", highlight).
		Msg("retrieved context")

	return &Result{
		NodeID:    topID,
		Score:     score,
		Highlight: highlight,
		Context:   strings.Join(parts, "\n\n"),
	}, nil
}

// neighborOrder lists neighbor ids as parent, siblings, children.
func (e *Engine) neighborOrder(n *graph.Node) []section.ID {
	nb := n.Neighbors
	if nb == nil {
		return nil
	}
	var ids []section.ID
	if nb.Parent != nil {
		ids = append(ids, *nb.Parent)
	}
	ids = append(ids, nb.Siblings...)
	ids = append(ids, nb.Children...)
	return ids
}

// FormatSection renders a node as "title:\ntext", using the id when there is
// no title and cutting the text at the snippet length with a "..." marker.
func (e *Engine) FormatSection(n *graph.Node) string {
	label := strings.TrimSpace(n.TitleOrEmpty())
	if label == "" {
		label = n.ID
	}
	return label + ":\n" + truncate(n.Change.Body(), e.cfg.SnippetLength)
}

func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
