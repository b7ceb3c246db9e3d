// Package service implements the query flow: response cache first, then
// nearest-section retrieval and one completion call, with every failure
// mapped to a fixed user-facing answer.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"specgraph/internal/cache"
	apperrors "specgraph/internal/errors"
	"specgraph/internal/knowledge"
	"specgraph/internal/logger"
	"specgraph/internal/metrics"
	"specgraph/internal/retrieval"
	"specgraph/internal/section"
)

// Fixed answers returned to callers. Error detail only goes to the log.
const (
	AnswerInvalidQuery     = "Please enter a valid question."
	AnswerCompletionFailed = "Sorry, the AI model failed to respond."
	AnswerServerError      = "Server error occurred."
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = 0.4
)

type Response struct {
	Answer    string       `json:"answer"`
	Highlight []section.ID `json:"highlight"`
}

type Deps struct {
	Cache     *cache.Cache
	Engine    *retrieval.Engine
	Embedder  knowledge.Embedder
	Completer knowledge.Completer
	Metrics   *metrics.Metrics
	Log       *logger.Logger
}

type Options struct {
	// Timeout bounds the embedding and completion work of one query.
	Timeout     time.Duration
	Temperature float32
}

type Service struct {
	cache       *cache.Cache
	engine      *retrieval.Engine
	embedder    knowledge.Embedder
	completer   knowledge.Completer
	metrics     *metrics.Metrics
	log         *logger.Logger
	timeout     time.Duration
	temperature float32
}

func New(d Deps, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cache:       d.Cache,
		engine:      d.Engine,
		embedder:    d.Embedder,
		completer:   d.Completer,
		metrics:     d.Metrics,
		log:         log.Component("query"),
		timeout:     opts.Timeout,
		temperature: opts.Temperature,
	}
}

// HandleQuery answers one raw question. The Response is always usable as-is;
// a non-nil error means the caller should report failure (e.g. HTTP 500).
// An empty question is not an error.
func (s *Service) HandleQuery(ctx context.Context, raw string) (Response, error) {
	query := retrieval.NormalizeQuery(raw)
	if query == "" {
		s.metrics.RecordQuery(metrics.OutcomeInvalid)
		return Response{Answer: AnswerInvalidQuery, Highlight: []section.ID{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()

	resp, outcome, err := s.answer(ctx, query)
	s.metrics.RecordQuery(outcome)

	var ev *zerolog.Event
	if err != nil {
		ev = s.log.Error().Err(err).Str("code", string(apperrors.CodeOf(err)))
	} else {
		ev = s.log.Info()
	}
	ev.Str("query", query).
		Str("outcome", outcome).
		Strs("highlight", resp.Highlight).
		Dur("took", time.Since(start)).
		Msg("query handled")
	return resp, err
}

func (s *Service) answer(ctx context.Context, query string) (Response, string, error) {
	if ans, ok := s.cache.Get(query); ok {
		s.metrics.RecordCacheHit("exact")
		return hit(ans), metrics.OutcomeCacheHit, nil
	}

	if s.embedder == nil {
		return serverError(), metrics.OutcomeError,
			apperrors.New(apperrors.EmbeddingUnavailable, "no embedder configured", nil)
	}
	embedStart := time.Now()
	vec, err := knowledge.EmbedOne(ctx, s.embedder, query)
	s.metrics.ObserveEmbedding(time.Since(embedStart))
	if err != nil {
		return serverError(), metrics.OutcomeError,
			apperrors.New(apperrors.EmbeddingUnavailable, "embed query", err)
	}

	match, ok, err := s.cache.Match(ctx, vec)
	if err != nil {
		return serverError(), metrics.OutcomeError, err
	}
	if ok {
		s.metrics.RecordCacheHit("fuzzy")
		s.log.Debug().Str("matched", match.Query).Float64("score", match.Score).Msg("fuzzy cache hit")
		return hit(match.Answer), metrics.OutcomeCacheHit, nil
	}
	s.metrics.RecordCacheMiss()

	res, err := s.engine.Retrieve(ctx, query, vec)
	if err != nil {
		return serverError(), metrics.OutcomeError, err
	}

	length := retrieval.DetectAnswerLength(query)
	system, user := retrieval.BuildPrompts(query, res.Context, length)

	if s.completer == nil {
		return Response{Answer: AnswerCompletionFailed, Highlight: []section.ID{}}, metrics.OutcomeCompletion,
			apperrors.New(apperrors.CompletionFailed, "no completion service configured", nil)
	}
	completeStart := time.Now()
	text, err := s.completer.Complete(ctx, knowledge.CompletionRequest{
		System:      system,
		User:        user,
		MaxTokens:   length.MaxTokens(),
		Temperature: s.temperature,
	})
	s.metrics.ObserveCompletion(time.Since(completeStart))
	if err != nil {
		if !apperrors.Is(err, apperrors.CompletionFailed) {
			err = apperrors.New(apperrors.CompletionFailed, "completion failed", err)
		}
		return Response{Answer: AnswerCompletionFailed, Highlight: []section.ID{}}, metrics.OutcomeCompletion, err
	}

	// the lock is taken only inside Put, after the slow calls
	if err := s.cache.Put(ctx, query, text, vec); err != nil {
		s.metrics.RecordPersistFailure()
		s.log.Error().Err(err).Str("query", query).Msg("response cache not persisted")
	}
	s.metrics.SetCacheEntries(s.cache.Len())

	return Response{Answer: text, Highlight: res.Highlight}, metrics.OutcomeAnswered, nil
}

func hit(answer string) Response {
	return Response{Answer: answer, Highlight: []section.ID{}}
}

func serverError() Response {
	return Response{Answer: AnswerServerError, Highlight: []section.ID{}}
}
