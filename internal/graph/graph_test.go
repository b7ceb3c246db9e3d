package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/knowledge"
	"specgraph/internal/section"
)

// chainGraph: 1.1 -> 1.2 -> 1.3 -> 1.4, 1.1 -> 8.8 (dangling), 1.2 -> 1.1
func chainGraph() *Graph {
	g := New(KindDiff)
	g.AddNode(&Node{ID: "1.1", Change: Modified{OldText: "old", NewText: "new body mentions 1.2", Similarity: 0.5}})
	g.AddNode(&Node{ID: "1.2", Change: Unchanged{Text: "points at 1.3"}})
	g.AddNode(&Node{ID: "1.3", Change: Added{Text: strings.Repeat("x", 250)}})
	g.AddNode(&Node{ID: "1.4", Change: Removed{Text: "gone"}})
	g.AddEdge(Edge{Source: "1.1", Target: "1.2"})
	g.AddEdge(Edge{Source: "1.1", Target: "8.8"})
	g.AddEdge(Edge{Source: "1.2", Target: "1.3"})
	g.AddEdge(Edge{Source: "1.2", Target: "1.1"})
	g.AddEdge(Edge{Source: "1.3", Target: "1.4"})
	return g
}

func TestAddEdge_DedupesAndSkipsSelf(t *testing.T) {
	g := New(KindSingle)
	assert.True(t, g.AddEdge(Edge{Source: "1.1", Target: "1.2"}))
	assert.False(t, g.AddEdge(Edge{Source: "1.1", Target: "1.2", Reason: ReasonMentions}))
	assert.False(t, g.AddEdge(Edge{Source: "1.1", Target: "1.1"}))
	assert.Equal(t, []Edge{{Source: "1.1", Target: "1.2", Reason: ReasonMentions}}, g.OutEdges("1.1"))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestDownstreamImpact(t *testing.T) {
	g := chainGraph()

	got, err := g.DownstreamImpact("1.1", 2, DanglingFlag)
	require.NoError(t, err)
	assert.Equal(t, []Impact{
		{ID: "1.2", Distance: 1},
		{ID: "8.8", Distance: 1, Dangling: true},
		{ID: "1.3", Distance: 2},
	}, got)

	got, err = g.DownstreamImpact("1.1", 3, DanglingDrop)
	require.NoError(t, err)
	assert.Equal(t, []Impact{
		{ID: "1.2", Distance: 1},
		{ID: "1.3", Distance: 2},
		{ID: "1.4", Distance: 3},
	}, got)

	got, err = g.DownstreamImpact("1.1", 1, DanglingKeep)
	require.NoError(t, err)
	assert.Equal(t, []Impact{{ID: "1.2", Distance: 1}, {ID: "8.8", Distance: 1}}, got)

	got, err = g.DownstreamImpact("1.4", 2, DanglingFlag)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = g.DownstreamImpact("9", 2, DanglingFlag)
	assert.True(t, apperrors.Is(err, apperrors.NodeNotFound))
}

func TestExplainChanges(t *testing.T) {
	g := chainGraph()

	out, err := g.ExplainChanges("1.1", 2, DanglingFlag)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "[~] Section 1.1 (modified) similarity 0.500:", lines[0])
	assert.Equal(t, " -> new body mentions 1.2", lines[1])
	assert.Contains(t, out, "[=] Section 1.2 (unchanged):")
	assert.Contains(t, out, "[!] Section 8.8 (referenced, not in graph)")
	assert.Contains(t, out, " -> "+strings.Repeat("x", 200)+"...")
	assert.NotContains(t, out, "1.4", "depth 3 is outside the window")
	assert.Equal(t, 1, strings.Count(out, "Section 1.1"), "cycles are visited once")

	out, err = g.ExplainChanges("1.1", 1, DanglingDrop)
	require.NoError(t, err)
	assert.NotContains(t, out, "8.8")

	_, err = g.ExplainChanges("2", 1, DanglingFlag)
	assert.True(t, apperrors.Is(err, apperrors.NodeNotFound))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", Preview("a\n  b\tc", 10))
	assert.Equal(t, "ab...", Preview("abc", 2))
	assert.Equal(t, "ÄÖ...", Preview("ÄÖÜ", 2))
	assert.Equal(t, "abc", Preview("abc", 0))
}

func TestInspect(t *testing.T) {
	g := chainGraph()
	parent := "1"
	n, _ := g.Node("1.1")
	n.Neighbors = &section.Neighbors{Parent: &parent, Siblings: []string{"1.2"}, Children: []string{}}

	out, err := g.Inspect("1.1")
	require.NoError(t, err)
	assert.Contains(t, out, "Section 1.1\n")
	assert.Contains(t, out, "title: (none)\n")
	assert.Contains(t, out, "type: modified\n")
	assert.Contains(t, out, "similarity: 0.500\n")
	assert.Contains(t, out, "parent: 1\n")
	assert.Contains(t, out, "mentions: 1.2, 8.8 (dangling)\n")
}

func TestTitles(t *testing.T) {
	g := chainGraph()
	require.NoError(t, g.SetTitle("1.2", "Registration"))
	require.NoError(t, g.SetTitle("1.3", "  "))

	items := g.MissingTitles()
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"1.1", "1.3", "1.4"}, ids)
	assert.Equal(t, knowledge.TitleItem{ID: "1.1", Text: "new body mentions 1.2"}, items[0])

	err := g.SetTitle("7.7", "x")
	assert.True(t, apperrors.Is(err, apperrors.NodeNotFound))
}

func TestChangesAndView(t *testing.T) {
	g := chainGraph()

	changed := g.Changes()
	require.Len(t, changed, 3)
	assert.Equal(t, "1.1", changed[0].ID)

	cv := g.ChangesView()
	require.Contains(t, cv, "1.1")
	require.NotNil(t, cv["1.1"].Similarity)
	assert.Equal(t, 0.5, *cv["1.1"].Similarity)
	assert.Equal(t, "old", cv["1.1"].OldText)
	assert.NotContains(t, cv, "1.2")

	flagged := g.View(DanglingFlag)
	assert.Len(t, flagged.Nodes, 4)
	assert.Len(t, flagged.Links, 5)
	assert.Contains(t, flagged.Links, LinkView{Source: "1.1", Target: "8.8", Reason: ReasonMentions, Dangling: true})

	dropped := g.View(DanglingDrop)
	assert.Len(t, dropped.Links, 4)

	kept := g.View(DanglingKeep)
	assert.Contains(t, kept.Links, LinkView{Source: "1.1", Target: "8.8", Reason: ReasonMentions})

	assert.Equal(t, map[ChangeType]int{ChangeModified: 1, ChangeUnchanged: 1, ChangeAdded: 1, ChangeRemoved: 1}, g.CountByChange())
}

func TestParseDanglingPolicy(t *testing.T) {
	p, err := ParseDanglingPolicy(" Drop ")
	require.NoError(t, err)
	assert.Equal(t, DanglingDrop, p)

	p, err = ParseDanglingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DanglingFlag, p)

	_, err = ParseDanglingPolicy("ignore")
	assert.Error(t, err)
}
