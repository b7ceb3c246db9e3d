package graph

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/section"
)

const (
	defaultPairBatch   = 32
	defaultConcurrency = 4
)

// Builder turns section maps into graphs. The embedder is only needed for
// diff graphs, and only for sections whose text differs between versions.
type Builder struct {
	embedder    knowledge.Embedder
	log         *logger.Logger
	pairBatch   int
	concurrency int
}

type BuilderOption func(*Builder)

// WithPairBatch sets how many old/new pairs go into one embedding request.
func WithPairBatch(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.pairBatch = n
		}
	}
}

// WithConcurrency bounds the number of embedding requests in flight.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func NewBuilder(em knowledge.Embedder, log *logger.Logger, opts ...BuilderOption) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	b := &Builder{
		embedder:    em,
		log:         log.Component("graph"),
		pairBatch:   defaultPairBatch,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type pendingPair struct {
	id      section.ID
	oldText string
	newText string
}

// BuildDiff merges two versions of a document into one graph with a change
// classification per section, mention edges and structural neighbors.
func (b *Builder) BuildDiff(ctx context.Context, oldSections, newSections map[string]string) (*Graph, error) {
	start := time.Now()

	oldNorm, droppedOld := section.NormalizeMap(oldSections)
	newNorm, droppedNew := section.NormalizeMap(newSections)
	if len(droppedOld)+len(droppedNew) > 0 {
		b.log.Warn().
			Strs("old", droppedOld).
			Strs("new", droppedNew).
			Msg("dropped section keys that collided after normalization")
	}

	all := make(map[section.ID]struct{}, len(oldNorm)+len(newNorm))
	for id := range oldNorm {
		all[id] = struct{}{}
	}
	for id := range newNorm {
		all[id] = struct{}{}
	}
	ids := section.SortedKeys(all)

	g := New(KindDiff)
	var pending []pendingPair
	for _, id := range ids {
		oldText := strings.TrimSpace(oldNorm[id])
		newText := strings.TrimSpace(newNorm[id])

		switch {
		case oldText == "" && newText != "":
			g.AddNode(&Node{ID: id, Change: Added{Text: newText}})
		case oldText != "" && newText == "":
			g.AddNode(&Node{ID: id, Change: Removed{Text: oldText}})
		case oldText == newText:
			// identical bodies, including both blank
			g.AddNode(&Node{ID: id, Change: Unchanged{Text: newText}})
		default:
			pending = append(pending, pendingPair{id: id, oldText: oldText, newText: newText})
		}
	}

	sims, err := b.scorePairs(ctx, pending)
	if err != nil {
		return nil, err
	}
	for i, p := range pending {
		sim := sims[i]
		if sim < ChangeThreshold {
			g.AddNode(&Node{ID: p.id, Change: Modified{
				OldText:    p.oldText,
				NewText:    p.newText,
				Similarity: roundSimilarity(sim),
			}})
		} else {
			g.AddNode(&Node{ID: p.id, Change: Unchanged{Text: p.newText}})
		}
	}

	linkMentions(g)

	for _, id := range ids {
		nb := section.ComputeNeighbors(id, all)
		g.nodes[id].Neighbors = &nb
	}

	b.log.LogOperation("build_diff_graph", time.Since(start), g.Len(), nil)
	b.log.Info().
		Int("nodes", g.Len()).
		Int("edges", g.EdgeCount()).
		Int("dangling", g.DanglingCount()).
		Int("scored", len(pending)).
		Msg("diff graph built")
	return g, nil
}

// BuildSingleVersion builds a graph for one document version: nodes and
// mention edges only, with no classification and no neighbors.
func (b *Builder) BuildSingleVersion(sections map[string]string) *Graph {
	norm, dropped := section.NormalizeMap(sections)
	if len(dropped) > 0 {
		b.log.Warn().Strs("keys", dropped).Msg("dropped section keys that collided after normalization")
	}

	g := New(KindSingle)
	for _, id := range section.SortedKeys(norm) {
		g.AddNode(&Node{ID: id, Change: Snapshot{Text: strings.TrimSpace(norm[id])}})
	}
	linkMentions(g)
	return g
}

// linkMentions adds an edge from every node to each id its body references.
// Targets that are not nodes are kept.
func linkMentions(g *Graph) {
	for _, id := range g.IDs() {
		for _, ref := range section.ExtractReferences(g.nodes[id].Change.Body()) {
			g.AddEdge(Edge{Source: id, Target: ref, Reason: ReasonMentions})
		}
	}
}

// scorePairs returns the cosine similarity of each pair, index-aligned with
// pairs. Batches run concurrently; each writes only its own slots.
func (b *Builder) scorePairs(ctx context.Context, pairs []pendingPair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	if b.embedder == nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable,
			fmt.Sprintf("%d sections need similarity scoring but no embedder is configured", len(pairs)), nil)
	}

	sims := make([]float64, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(pairs); start += b.pairBatch {
		end := min(start+b.pairBatch, len(pairs))
		g.Go(func() error {
			batch := pairs[start:end]
			texts := make([]string, 0, 2*len(batch))
			for _, p := range batch {
				texts = append(texts, p.oldText, p.newText)
			}

			vecs, err := b.embedder.Embed(gctx, texts)
			if err != nil {
				return apperrors.New(apperrors.EmbeddingUnavailable, "embedding section texts failed", err)
			}
			if len(vecs) != len(texts) {
				return apperrors.New(apperrors.EmbeddingUnavailable,
					fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), len(texts)), nil)
			}
			for i := range batch {
				sims[start+i] = knowledge.CosineSimilarity(vecs[2*i], vecs[2*i+1])
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sims, nil
}

func roundSimilarity(v float64) float64 {
	return math.Round(v*1000) / 1000
}
