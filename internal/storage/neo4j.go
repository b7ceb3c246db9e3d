package storage

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"specgraph/internal/graph"
	"specgraph/internal/logger"
)

// Runner executes a single Cypher statement and buffers the result.
type Runner interface {
	Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
}

// Neo4jExecutor runs queries against one database through the official driver.
type Neo4jExecutor struct {
	Driver neo4j.DriverWithContext
	DBName string
}

func NewNeo4jExecutor(uri, username, password, dbName string) (*Neo4jExecutor, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("could not create Neo4j driver: %w", err)
	}
	return &Neo4jExecutor{Driver: driver, DBName: dbName}, nil
}

func (e *Neo4jExecutor) Verify(ctx context.Context) error {
	return e.Driver.VerifyConnectivity(ctx)
}

func (e *Neo4jExecutor) Run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(
		ctx,
		e.Driver,
		query,
		params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(e.DBName),
	)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	return result, nil
}

func (e *Neo4jExecutor) Close(ctx context.Context) error {
	return e.Driver.Close(ctx)
}

const (
	cypherClearGraph = `MATCH (s:Section {graph: $graph}) DETACH DELETE s`

	cypherMergeNodes = `UNWIND $rows AS row
MERGE (s:Section {graph: $graph, id: row.id})
SET s.title = row.title,
    s.change = row.change,
    s.text = row.text,
    s.old_text = row.old_text,
    s.similarity = row.similarity,
    s.dangling = false`

	cypherMergeEdges = `UNWIND $rows AS row
MATCH (a:Section {graph: $graph, id: row.source})
MERGE (b:Section {graph: $graph, id: row.target})
ON CREATE SET b.dangling = row.dangling
MERGE (a)-[r:MENTIONS]->(b)
SET r.reason = row.reason, r.dangling = row.dangling`
)

// ExportStats summarizes one export run.
type ExportStats struct {
	Nodes    int
	Edges    int
	Dangling int
}

// Neo4jExporter mirrors a graph snapshot into Neo4j as (:Section)-[:MENTIONS]->(:Section).
type Neo4jExporter struct {
	runner    Runner
	policy    graph.DanglingPolicy
	batchSize int
	log       *logger.Logger
}

func NewNeo4jExporter(r Runner, policy graph.DanglingPolicy, log *logger.Logger) *Neo4jExporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Neo4jExporter{runner: r, policy: policy, batchSize: 500, log: log.Component("neo4j")}
}

// Export replaces everything stored under name with the current snapshot.
// Dangling targets become placeholder nodes unless the policy drops them;
// under the flag policy they and their edges carry dangling=true.
func (x *Neo4jExporter) Export(ctx context.Context, name string, g *graph.Graph) (ExportStats, error) {
	var stats ExportStats

	if _, err := x.runner.Run(ctx, cypherClearGraph, map[string]any{"graph": name}); err != nil {
		return stats, fmt.Errorf("clear graph %s: %w", name, err)
	}

	var nodeRows []map[string]any
	for _, n := range g.Nodes() {
		v := graph.NewNodeView(n)
		row := map[string]any{
			"id":         v.ID,
			"title":      nil,
			"change":     string(v.Type),
			"text":       v.Text,
			"old_text":   nil,
			"similarity": nil,
		}
		if v.Title != nil {
			row["title"] = *v.Title
		}
		if v.Similarity != nil {
			row["old_text"] = v.OldText
			row["similarity"] = *v.Similarity
		}
		nodeRows = append(nodeRows, row)
	}
	if err := x.runBatches(ctx, cypherMergeNodes, name, nodeRows); err != nil {
		return stats, fmt.Errorf("export nodes: %w", err)
	}
	stats.Nodes = len(nodeRows)

	var edgeRows []map[string]any
	for _, e := range g.Edges() {
		dangling := g.IsDangling(e)
		if dangling {
			if x.policy == graph.DanglingDrop {
				continue
			}
			stats.Dangling++
		}
		edgeRows = append(edgeRows, map[string]any{
			"source":   e.Source,
			"target":   e.Target,
			"reason":   e.Reason,
			"dangling": dangling && x.policy == graph.DanglingFlag,
		})
	}
	if err := x.runBatches(ctx, cypherMergeEdges, name, edgeRows); err != nil {
		return stats, fmt.Errorf("export edges: %w", err)
	}
	stats.Edges = len(edgeRows)

	x.log.Info().
		Str("graph", name).
		Int("nodes", stats.Nodes).
		Int("edges", stats.Edges).
		Int("dangling", stats.Dangling).
		Msg("graph exported")
	return stats, nil
}

func (x *Neo4jExporter) runBatches(ctx context.Context, query, name string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += x.batchSize {
		batch := rows[start:min(start+x.batchSize, len(rows))]
		if _, err := x.runner.Run(ctx, query, map[string]any{"graph": name, "rows": batch}); err != nil {
			return err
		}
	}
	return nil
}
