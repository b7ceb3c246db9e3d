package storage

import (
	"context"
	"errors"

	"specgraph/internal/graph"
	"specgraph/internal/retrieval"
)

// Graph names used by the build pipeline.
const (
	GraphDiff = "diff"
	GraphOld  = "old"
	GraphNew  = "new"
)

// ErrGraphNotFound is returned when no snapshot exists under a name.
var ErrGraphNotFound = errors.New("graph snapshot not found")

// Store combines graph snapshot and corpus embedding storage.
type Store interface {
	GraphStore
	retrieval.EmbeddingStore
	Close() error
}

// GraphStore persists whole graph snapshots by name.
type GraphStore interface {
	// SaveGraph replaces the snapshot stored under name.
	SaveGraph(ctx context.Context, name string, g *graph.Graph) error

	// LoadGraph rebuilds the snapshot stored under name without recomputation.
	LoadGraph(ctx context.Context, name string) (*graph.Graph, error)
}
