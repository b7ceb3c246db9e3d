// Package git reads document versions straight out of a repository history.
package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ShowFile returns the content of path at rev in the repository at dir.
func ShowFile(ctx context.Context, dir, rev, path string) ([]byte, error) {
	out, err := run(ctx, dir, "show", rev+":"+toSlash(path))
	if err != nil {
		return nil, fmt.Errorf("git show %s:%s failed: %w", rev, path, err)
	}
	return out, nil
}

// ListFiles returns every file under path at rev, relative to the repository
// root. A path naming a file returns just that file.
func ListFiles(ctx context.Context, dir, rev, path string) ([]string, error) {
	args := []string{"ls-tree", "-r", "--name-only", rev}
	if p := toSlash(path); p != "" && p != "." {
		args = append(args, "--", p)
	}
	out, err := run(ctx, dir, args...)
	if err != nil {
		return nil, fmt.Errorf("git ls-tree %s failed: %w", rev, err)
	}
	return parseNames(out), nil
}

// ChangedFiles lists paths that differ between two revisions.
func ChangedFiles(ctx context.Context, dir, from, to string) ([]string, error) {
	out, err := run(ctx, dir, "diff", "--name-only", from, to)
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}
	return parseNames(out), nil
}

func run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

func parseNames(output []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	var names []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names = append(names, line)
		}
	}
	return names
}

func toSlash(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.TrimPrefix(p, "./")
}
