// Package parser turns document text into section maps: a plain-text heading
// splitter and a loader for JSON section maps produced by external parsers.
package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"specgraph/internal/section"
)

var headingPattern = regexp.MustCompile(`^\d+(\.\d+)*(\s+.+)?$`)

type Entry struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Table struct {
	Rows [][]string `json:"rows"`
}

// Record is one parsed section of a document.
type Record struct {
	Title   string  `json:"title"`
	Content []Entry `json:"content"`
	Tables  []Table `json:"tables,omitempty"`
}

// Sections maps raw section keys to their records.
type Sections map[string]Record

// IsHeading reports whether a trimmed line opens a new section.
func IsHeading(line string) bool {
	return headingPattern.MatchString(strings.TrimSpace(line))
}

// SplitText splits plain text into sections on heading lines such as
// "4.3.2 Attach procedure". Text before the first heading is dropped. A
// heading seen again keeps its first title and collects the new lines.
func SplitText(text string) Sections {
	out := Sections{}
	var current string

	// no line length limit, so one huge line never truncates the document
	for raw := range strings.Lines(text) {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if IsHeading(line) {
			id := strings.Fields(line)[0]
			current = section.Normalize(id)
			if _, ok := out[current]; !ok {
				title := strings.TrimSpace(strings.TrimPrefix(line, id))
				out[current] = Record{Title: title, Content: []Entry{}}
			}
			continue
		}
		if current == "" {
			continue
		}
		rec := out[current]
		rec.Content = append(rec.Content, Entry{Type: entryType(line), Text: line})
		out[current] = rec
	}
	return out
}

func entryType(line string) string {
	for _, p := range []string{"-", "•", "*", "▪"} {
		if strings.HasPrefix(line, p) {
			return "bullet"
		}
	}
	return "text"
}

// ParseJSON reads a section map in either structured form
// ({"4.1": {"title": ..., "content": [...]}}) or flat form ({"4.1": "text"}).
// Both forms may be mixed in one document.
func ParseJSON(data []byte) (Sections, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse section map: %w", err)
	}

	out := make(Sections, len(raw))
	for key, msg := range raw {
		trimmed := strings.TrimSpace(string(msg))
		if strings.HasPrefix(trimmed, `"`) {
			var text string
			if err := json.Unmarshal(msg, &text); err != nil {
				return nil, fmt.Errorf("section %q: %w", key, err)
			}
			out[key] = Record{Content: []Entry{{Type: "text", Text: text}}}
			continue
		}
		if trimmed == "null" {
			out[key] = Record{Content: []Entry{}}
			continue
		}
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil {
			return nil, fmt.Errorf("section %q: %w", key, err)
		}
		out[key] = rec
	}
	return out, nil
}

// LoadFile reads a section map from a .json file or splits any other file as
// plain text.
func LoadFile(path string) (Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse picks the format from name's extension.
func Parse(name string, data []byte) (Sections, error) {
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return ParseJSON(data)
	}
	return SplitText(string(data)), nil
}

// Flatten joins the content entries of a record with single spaces. Tables
// are not part of the body text.
func Flatten(r Record) string {
	parts := make([]string, 0, len(r.Content))
	for _, e := range r.Content {
		parts = append(parts, e.Text)
	}
	return strings.Join(parts, " ")
}

// Bodies flattens every record, keyed by the raw section key.
func (s Sections) Bodies() map[string]string {
	out := make(map[string]string, len(s))
	for k, r := range s {
		out[k] = Flatten(r)
	}
	return out
}

// Titles returns the non-empty parsed titles keyed by normalized section id.
func (s Sections) Titles() map[section.ID]string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[section.ID]string)
	for _, k := range keys {
		r := s[k]
		if t := strings.TrimSpace(r.Title); t != "" {
			id := section.Normalize(k)
			if _, dup := out[id]; !dup && id != "" {
				out[id] = t
			}
		}
	}
	return out
}
