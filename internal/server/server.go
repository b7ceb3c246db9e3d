// Package server exposes the query service and the loaded graph over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"specgraph/internal/graph"
	"specgraph/internal/logger"
	"specgraph/internal/metrics"
	"specgraph/internal/service"
)

const (
	maxQueryBody      = 64 * 1024
	serverErrorAnswer = service.AnswerServerError
)

// QueryHandler answers one raw question.
type QueryHandler interface {
	HandleQuery(ctx context.Context, raw string) (service.Response, error)
}

type Options struct {
	Addr     string
	Policy   graph.DanglingPolicy
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	queries QueryHandler
	graph   *graph.Graph
	policy  graph.DanglingPolicy
	log     *logger.Logger
}

func New(q QueryHandler, g *graph.Graph, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	if opts.Policy == "" {
		opts.Policy = graph.DanglingFlag
	}
	s := &Server{
		router:  http.NewServeMux(),
		queries: q,
		graph:   g,
		policy:  opts.Policy,
		log:     log.Component("http"),
	}

	s.router.HandleFunc("POST /api/query", s.handleQuery)
	s.router.HandleFunc("GET /api/graph", s.handleGraph)
	s.router.HandleFunc("GET /api/changes", s.handleChanges)
	s.router.HandleFunc("GET /health", s.handleHealth)
	if opts.Gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = s.router
	handler = RecoveryMiddleware(s.log)(handler)
	handler = LoggingMiddleware(s.log, opts.Metrics)(handler)
	handler = CORSMiddleware()(handler)
	handler = RequestIDMiddleware()(handler)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Answer    string   `json:"answer"`
	Highlight []string `json:"highlight"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxQueryBody))
	if err != nil {
		s.log.Warn().Err(err).Msg("read query body")
		writeJSON(w, http.StatusBadRequest, queryResponse{Answer: service.AnswerInvalidQuery, Highlight: []string{}})
		return
	}
	var req queryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.Warn().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("malformed query body")
		writeJSON(w, http.StatusBadRequest, queryResponse{Answer: service.AnswerInvalidQuery, Highlight: []string{}})
		return
	}

	resp, err := s.queries.HandleQuery(r.Context(), req.Query)
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	highlight := resp.Highlight
	if highlight == nil {
		highlight = []string{}
	}
	writeJSON(w, status, queryResponse{Answer: resp.Answer, Highlight: highlight})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.View(s.policy))
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.graph.ChangesView())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "specgraph",
		"nodes":   s.graph.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
