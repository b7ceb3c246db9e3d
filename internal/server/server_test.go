package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "specgraph/internal/errors"
	"specgraph/internal/graph"
	"specgraph/internal/metrics"
	"specgraph/internal/service"
)

type stubQueries struct {
	resp  service.Response
	err   error
	got   []string
	panic bool
}

func (s *stubQueries) HandleQuery(ctx context.Context, raw string) (service.Response, error) {
	if s.panic {
		panic("boom")
	}
	s.got = append(s.got, raw)
	return s.resp, s.err
}

func testGraph() *graph.Graph {
	g := graph.New(graph.KindDiff)
	g.AddNode(&graph.Node{ID: "4.1", Change: graph.Unchanged{Text: "see 4.2 and 9.9"}})
	g.AddNode(&graph.Node{ID: "4.2", Change: graph.Added{Text: "new"}})
	g.AddEdge(graph.Edge{Source: "4.1", Target: "4.2"})
	g.AddEdge(graph.Edge{Source: "4.1", Target: "9.9"})
	return g
}

func newTestServer(q QueryHandler, policy graph.DanglingPolicy) (*Server, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(q, testGraph(), Options{
		Policy:   policy,
		Gatherer: reg,
		Metrics:  metrics.New(reg),
	}), reg
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestQuery_OK(t *testing.T) {
	q := &stubQueries{resp: service.Response{Answer: "It registers the UE.", Highlight: []string{"5.5.1", "5.5"}}}
	s, _ := newTestServer(q, graph.DanglingFlag)

	rec := do(t, s, http.MethodPost, "/api/query", `{"query":"What is attach?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"answer":"It registers the UE.","highlight":["5.5.1","5.5"]}`, rec.Body.String())
	assert.Equal(t, []string{"What is attach?"}, q.got)
}

func TestQuery_FailureIs500WithoutDetail(t *testing.T) {
	q := &stubQueries{
		resp: service.Response{Answer: service.AnswerCompletionFailed},
		err:  apperrors.New(apperrors.CompletionFailed, "openai: quota exceeded", nil),
	}
	s, _ := newTestServer(q, graph.DanglingFlag)

	rec := do(t, s, http.MethodPost, "/api/query", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"answer":"Sorry, the AI model failed to respond.","highlight":[]}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "quota")
}

func TestQuery_MalformedBody(t *testing.T) {
	q := &stubQueries{}
	s, _ := newTestServer(q, graph.DanglingFlag)

	rec := do(t, s, http.MethodPost, "/api/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, q.got)
}

func TestQuery_PanicRecovered(t *testing.T) {
	s, _ := newTestServer(&stubQueries{panic: true}, graph.DanglingFlag)

	rec := do(t, s, http.MethodPost, "/api/query", `{"query":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"answer":"Server error occurred.","highlight":[]}`, rec.Body.String())
}

func TestQuery_WrongMethod(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)
	rec := do(t, s, http.MethodGet, "/api/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestGraph_DanglingPolicy(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)
	rec := do(t, s, http.MethodGet, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view graph.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Len(t, view.Nodes, 2)
	assert.Contains(t, view.Links, graph.LinkView{Source: "4.1", Target: "9.9", Reason: graph.ReasonMentions, Dangling: true})

	s, _ = newTestServer(&stubQueries{}, graph.DanglingDrop)
	rec = do(t, s, http.MethodGet, "/api/graph", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, []graph.LinkView{{Source: "4.1", Target: "4.2", Reason: graph.ReasonMentions}}, view.Links)
}

func TestChanges(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)
	rec := do(t, s, http.MethodGet, "/api/changes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var changes map[string]graph.NodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &changes))
	require.Len(t, changes, 1)
	assert.Equal(t, graph.ChangeAdded, changes["4.2"].Type)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"healthy","service":"specgraph","nodes":2}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specgraph_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(&stubQueries{}, graph.DanglingFlag)
	rec := do(t, s, http.MethodOptions, "/api/query", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
