package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNames(t *testing.T) {
	assert.Equal(t, []string{"a.json", "docs/b.txt"}, parseNames([]byte("a.json\n\n docs/b.txt \n")))
	assert.Nil(t, parseNames(nil))
}

func TestToSlash(t *testing.T) {
	assert.Equal(t, "docs/spec.txt", toSlash(`.\docs\spec.txt`))
	assert.Equal(t, "spec.txt", toSlash("./spec.txt"))
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", dir,
			"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	write := func(name, body string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	gitCmd("init", "-q")
	write("docs/spec.txt", "1.1 Scope\nold text\n")
	gitCmd("add", ".")
	gitCmd("commit", "-q", "-m", "v1")
	gitCmd("tag", "v1")
	write("docs/spec.txt", "1.1 Scope\nnew text\n")
	write("docs/annex.json", `{"9.1": "annex"}`)
	gitCmd("add", ".")
	gitCmd("commit", "-q", "-m", "v2")
	gitCmd("tag", "v2")
	return dir
}

func TestShowFile(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	old, err := ShowFile(ctx, dir, "v1", "docs/spec.txt")
	require.NoError(t, err)
	assert.Equal(t, "1.1 Scope\nold text\n", string(old))

	_, err = ShowFile(ctx, dir, "v1", "docs/annex.json")
	assert.Error(t, err)
}

func TestListAndChangedFiles(t *testing.T) {
	dir := initRepo(t)
	ctx := context.Background()

	files, err := ListFiles(ctx, dir, "v2", "docs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/annex.json", "docs/spec.txt"}, files)

	files, err = ListFiles(ctx, dir, "v1", ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/spec.txt"}, files)

	changed, err := ChangedFiles(ctx, dir, "v1", "v2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/annex.json", "docs/spec.txt"}, changed)
}
