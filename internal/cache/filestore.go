package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the cache as an ordered YAML mapping of query to answer.
// JSON object files are YAML too, so caches written as JSON load unchanged.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load returns the stored entries in file order. A missing file is an empty cache.
func (s *FileStore) Load() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse %s: expected a mapping of query to answer", s.path)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if k.Kind != yaml.ScalarNode || v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("parse %s: line %d: query and answer must be strings", s.path, k.Line)
		}
		entries = append(entries, Entry{Query: k.Value, Answer: v.Value})
	}
	return entries, nil
}

// Quarantine moves an unreadable cache file aside to <path>.corrupt so the
// next Save does not overwrite it. It returns the new path, or "" when there
// was no file to move.
func (s *FileStore) Quarantine() (string, error) {
	moved := s.path + ".corrupt"
	if err := os.Rename(s.path, moved); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	return moved, nil
}

// answerStyle keeps multi-line answers readable as literal blocks. A literal
// block cannot carry leading blank lines or indentation, so those answers
// are double quoted.
func answerStyle(answer string) yaml.Style {
	if !strings.Contains(answer, "\n") {
		return 0
	}
	if strings.TrimLeft(answer, " \t\n") != answer {
		return yaml.DoubleQuotedStyle
	}
	return yaml.LiteralStyle
}

// Save rewrites the whole file through a temp file and rename, so a crash
// leaves either the old or the new cache on disk.
func (s *FileStore) Save(entries []Entry) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		answer := strings.ToValidUTF8(e.Answer, "\uFFFD")
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: strings.ToValidUTF8(e.Query, "\uFFFD")},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: answer, Style: answerStyle(answer)},
		)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
