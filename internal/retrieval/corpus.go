package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"specgraph/internal/graph"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/section"
)

// EmbeddingStore caches corpus vectors across restarts, keyed by embedding
// model and content hash.
type EmbeddingStore interface {
	LoadEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error)
	SaveEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error
}

// Corpus holds one embedding per embeddable node, in section order. It is
// read-only after BuildCorpus.
type Corpus struct {
	ids     []section.ID
	vectors [][]float32
}

// CombinedText is the text a node is retrieved by: its title and body joined
// with ". ", skipping empty parts.
func CombinedText(n *graph.Node) string {
	title := strings.TrimSpace(n.TitleOrEmpty())
	body := strings.TrimSpace(n.Change.Body())
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + ". " + body
	}
}

// ContentHash identifies a combined text in the embedding store.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type CorpusOptions struct {
	// Store is optional; without it every vector is computed.
	Store EmbeddingStore
	// ModelKey scopes stored vectors to the embedding model that made them.
	ModelKey string
	Log      *logger.Logger
}

// BuildCorpus embeds every node with non-empty combined text. Vectors found
// in the store are reused; the rest are computed in one call and saved back.
// A store failure is logged and never fails the build.
func BuildCorpus(ctx context.Context, g *graph.Graph, em knowledge.Embedder, opts CorpusOptions) (*Corpus, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("corpus")
	start := time.Now()

	var ids []section.ID
	var texts []string
	for _, n := range g.Nodes() {
		text := CombinedText(n)
		if text == "" {
			continue
		}
		ids = append(ids, n.ID)
		texts = append(texts, text)
	}
	c := &Corpus{ids: ids, vectors: make([][]float32, len(ids))}
	if len(ids) == 0 {
		return c, nil
	}
	if em == nil {
		return nil, fmt.Errorf("corpus embedder is required")
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = ContentHash(t)
	}

	cached := map[string][]float32{}
	if opts.Store != nil {
		found, err := opts.Store.LoadEmbeddings(ctx, opts.ModelKey, hashes)
		if err != nil {
			log.Warn().Err(err).Msg("loading stored corpus embeddings failed, recomputing")
		} else {
			cached = found
		}
	}

	var missing []int
	for i, h := range hashes {
		if v, ok := cached[h]; ok && len(v) > 0 {
			c.vectors[i] = v
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		batch := make([]string, len(missing))
		for j, i := range missing {
			batch[j] = texts[i]
		}
		vecs, err := em.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed corpus: %w", err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embed corpus: got %d vectors for %d texts", len(vecs), len(batch))
		}
		fresh := make(map[string][]float32, len(missing))
		for j, i := range missing {
			c.vectors[i] = vecs[j]
			fresh[hashes[i]] = vecs[j]
		}
		if opts.Store != nil {
			if err := opts.Store.SaveEmbeddings(ctx, opts.ModelKey, fresh); err != nil {
				log.Warn().Err(err).Msg("saving corpus embeddings failed")
			}
		}
	}

	log.Info().
		Int("nodes", len(ids)).
		Int("reused", len(ids)-len(missing)).
		Int("computed", len(missing)).
		Dur("took", time.Since(start)).
		Msg("corpus ready")
	return c, nil
}

func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ids)
}

// IDs returns the corpus node ids in index order.
func (c *Corpus) IDs() []section.ID {
	return append([]section.ID(nil), c.ids...)
}

// Nearest returns the node most similar to vec. Ties go to the lowest corpus
// index, i.e. the earliest section in section order.
func (c *Corpus) Nearest(vec []float32) (section.ID, float64, bool) {
	if c.Len() == 0 {
		return "", 0, false
	}
	idx, score := knowledge.BestMatch(vec, c.vectors)
	if idx < 0 {
		return "", 0, false
	}
	return c.ids[idx], score, true
}
