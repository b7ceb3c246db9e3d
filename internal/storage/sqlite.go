package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"specgraph/internal/graph"
	"specgraph/internal/section"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS graphs (
			name TEXT PRIMARY KEY,
			kind TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS nodes (
			graph TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT,
			change_type TEXT NOT NULL,
			text TEXT NOT NULL,
			old_text TEXT,
			new_text TEXT,
			similarity REAL,
			neighbors JSON,
			PRIMARY KEY (graph, id)
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			graph TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (graph, source_id, target_id)
		);`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			model TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding BLOB NOT NULL,
			PRIMARY KEY (model, content_hash)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- GraphStore Implementation ---

func (s *SQLiteStore) SaveGraph(ctx context.Context, name string, g *graph.Graph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM nodes WHERE graph = ?",
		"DELETE FROM edges WHERE graph = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graphs (name, kind) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET kind=excluded.kind
	`, name, string(g.Kind)); err != nil {
		return err
	}

	// 1. Save Nodes
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (graph, id, title, change_type, text, old_text, new_text, similarity, neighbors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, n := range g.Nodes() {
		var title, oldText, newText sql.NullString
		var similarity sql.NullFloat64
		var neighbors []byte

		if n.Title != nil {
			title = sql.NullString{String: *n.Title, Valid: true}
		}
		if m, ok := n.Change.(graph.Modified); ok {
			oldText = sql.NullString{String: m.OldText, Valid: true}
			newText = sql.NullString{String: m.NewText, Valid: true}
			similarity = sql.NullFloat64{Float64: m.Similarity, Valid: true}
		}
		if n.Neighbors != nil {
			if neighbors, err = json.Marshal(n.Neighbors); err != nil {
				return err
			}
		}

		if _, err := stmt.ExecContext(ctx, name, n.ID, title, string(n.Change.Type()), n.Change.Body(),
			oldText, newText, similarity, neighbors); err != nil {
			return fmt.Errorf("save node %s: %w", n.ID, err)
		}
	}

	// 2. Save Edges, keeping per-source order
	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (graph, source_id, target_id, reason, position) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for i, e := range g.Edges() {
		if _, err := edgeStmt.ExecContext(ctx, name, e.Source, e.Target, e.Reason, i); err != nil {
			return fmt.Errorf("save edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadGraph(ctx context.Context, name string) (*graph.Graph, error) {
	var kind string
	err := s.db.QueryRowContext(ctx, "SELECT kind FROM graphs WHERE name = ?", name).Scan(&kind)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	g := graph.New(graph.Kind(kind))

	// 1. Load Nodes
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, change_type, text, old_text, new_text, similarity, neighbors
		FROM nodes WHERE graph = ?
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, changeType, text string
			title, oldText       sql.NullString
			newText              sql.NullString
			similarity           sql.NullFloat64
			neighbors            []byte
		)
		if err := rows.Scan(&id, &title, &changeType, &text, &oldText, &newText, &similarity, &neighbors); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		n := &graph.Node{ID: id}
		if title.Valid {
			t := title.String
			n.Title = &t
		}
		switch graph.ChangeType(changeType) {
		case graph.ChangeAdded:
			n.Change = graph.Added{Text: text}
		case graph.ChangeRemoved:
			n.Change = graph.Removed{Text: text}
		case graph.ChangeModified:
			n.Change = graph.Modified{OldText: oldText.String, NewText: newText.String, Similarity: similarity.Float64}
		case graph.ChangeUnchanged:
			n.Change = graph.Unchanged{Text: text}
		case graph.ChangeSnapshot:
			n.Change = graph.Snapshot{Text: text}
		default:
			return nil, fmt.Errorf("node %s: unknown change type %q", id, changeType)
		}
		if len(neighbors) > 0 {
			var nb section.Neighbors
			if err := json.Unmarshal(neighbors, &nb); err != nil {
				return nil, fmt.Errorf("node %s: decode neighbors: %w", id, err)
			}
			n.Neighbors = &nb
		}
		g.AddNode(n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 2. Load Edges
	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, reason FROM edges WHERE graph = ? ORDER BY position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e graph.Edge
		if err := edgeRows.Scan(&e.Source, &e.Target, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		g.AddEdge(e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	return g, nil
}

// --- EmbeddingStore Implementation ---

const embeddingLookupChunk = 500

func (s *SQLiteStore) LoadEmbeddings(ctx context.Context, model string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	for start := 0; start < len(hashes); start += embeddingLookupChunk {
		chunk := hashes[start:min(start+embeddingLookupChunk, len(hashes))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, model)
		for _, h := range chunk {
			args = append(args, h)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		rows, err := s.db.QueryContext(ctx,
			"SELECT content_hash, embedding FROM embeddings WHERE model = ? AND content_hash IN ("+placeholders+")",
			args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var hash string
			var blob []byte
			if err := rows.Scan(&hash, &blob); err != nil {
				rows.Close()
				return nil, err
			}
			vec, err := decodeVector(blob)
			if err != nil {
				continue
			}
			out[hash] = vec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, model string, vectors map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (model, content_hash, embedding) VALUES (?, ?, ?)
		ON CONFLICT(model, content_hash) DO UPDATE SET embedding=excluded.embedding
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for hash, vec := range vectors {
		blob, err := encodeVector(vec)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, model, hash, blob); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func encodeVector(vec []float32) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
