package parser

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"specgraph/internal/git"
)

// Crawler loads section maps from a file or from every section file under a
// directory, so a document split into one file per chapter loads as one map.
type Crawler struct {
	ignored    []string
	extensions []string
}

func NewCrawler() *Crawler {
	return &Crawler{
		ignored:    []string{".git", "node_modules", "testdata"},
		extensions: []string{".json", ".txt"},
	}
}

// Load reads path as one section file or, for a directory, merges every
// section file below it. Files are visited in lexical order and the first
// file defining a key wins; later definitions are returned as duplicates.
func (c *Crawler) Load(path string) (Sections, []string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		s, err := LoadFile(path)
		return s, nil, err
	}

	merged := Sections{}
	var duplicates []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			for _, ign := range c.ignored {
				if d.Name() == ign {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !c.wanted(d.Name()) {
			return nil
		}

		s, err := LoadFile(p)
		if err != nil {
			return err
		}
		duplicates = append(duplicates, merge(merged, s)...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return merged, duplicates, nil
}

// LoadRevision is Load for a path as it was at rev in the repository at
// repo. Files are merged the same way.
func (c *Crawler) LoadRevision(ctx context.Context, repo, rev, p string) (Sections, []string, error) {
	files, err := git.ListFiles(ctx, repo, rev, p)
	if err != nil {
		return nil, nil, err
	}
	slices.Sort(files)

	merged := Sections{}
	var duplicates []string
	for _, f := range files {
		if !c.wanted(f) || c.ignoredPath(f) {
			continue
		}
		data, err := git.ShowFile(ctx, repo, rev, f)
		if err != nil {
			return nil, nil, err
		}
		s, err := Parse(f, data)
		if err != nil {
			return nil, nil, err
		}
		duplicates = append(duplicates, merge(merged, s)...)
	}
	return merged, duplicates, nil
}

// merge copies src into dst, keeping existing keys, and returns the keys
// that were already present.
func merge(dst, src Sections) []string {
	var dups []string
	for k, r := range src {
		if _, exists := dst[k]; exists {
			dups = append(dups, k)
			continue
		}
		dst[k] = r
	}
	return dups
}

func (c *Crawler) ignoredPath(p string) bool {
	for _, dir := range strings.Split(path.Dir(p), "/") {
		if slices.Contains(c.ignored, dir) {
			return true
		}
	}
	return false
}

func (c *Crawler) wanted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range c.extensions {
		if ext == e {
			return true
		}
	}
	return false
}
