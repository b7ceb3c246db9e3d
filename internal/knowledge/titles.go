package knowledge

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"specgraph/internal/logger"
	"specgraph/internal/retry"
)

// UntitledSection is the fallback title for empty sections and exhausted retries.
const UntitledSection = "Untitled Section"

const titleSystemPrompt = "You're an expert summarizer for technical documents. " +
	"Summarize the section content into a short but meaningful title. " +
	"Avoid repeating the section number. Be clear and concise."

// TitleItem is one section waiting for a generated title.
type TitleItem struct {
	ID   string
	Text string
}

// TitleSummarizer generates short titles for sections through a Completer.
// This runs offline, so unlike the query path it retries.
type TitleSummarizer struct {
	completer   Completer
	policy      retry.Policy
	wait        retry.Waiter
	concurrency int
	log         *logger.Logger
}

type TitleOption func(*TitleSummarizer)

func WithRetryPolicy(p retry.Policy) TitleOption {
	return func(s *TitleSummarizer) { s.policy = p }
}

func WithWaiter(w retry.Waiter) TitleOption {
	return func(s *TitleSummarizer) { s.wait = w }
}

func WithConcurrency(n int) TitleOption {
	return func(s *TitleSummarizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewTitleSummarizer(c Completer, log *logger.Logger, opts ...TitleOption) *TitleSummarizer {
	if log == nil {
		log = logger.Nop()
	}
	s := &TitleSummarizer{
		completer:   c,
		policy:      retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second},
		concurrency: 4,
		log:         log.Component("titles"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Title generates a title for one section. It never fails: empty text and
// exhausted retries both yield UntitledSection.
func (s *TitleSummarizer) Title(ctx context.Context, item TitleItem) string {
	text := strings.TrimSpace(item.Text)
	if text == "" {
		return UntitledSection
	}

	out := retry.Do(ctx, s.policy, s.wait, func(ctx context.Context, attempt int) (string, error) {
		title, err := s.completer.Complete(ctx, CompletionRequest{
			System:      titleSystemPrompt,
			User:        text,
			MaxTokens:   32,
			Temperature: 0.4,
		})
		if err != nil {
			s.log.Warn().Str("section", item.ID).Int("attempt", attempt).Err(err).Msg("title completion failed")
			return "", err
		}
		return cleanTitle(title), nil
	})

	if out.Status != retry.Succeeded || out.Value == "" {
		s.log.Error().
			Str("section", item.ID).
			Str("status", out.Status.String()).
			Int("attempts", out.Attempts).
			Err(out.LastErr()).
			Msg("title generation gave up")
		return UntitledSection
	}
	return out.Value
}

// SummarizeAll titles every item concurrently and returns id -> title.
func (s *TitleSummarizer) SummarizeAll(ctx context.Context, items []TitleItem) map[string]string {
	titles := make(map[string]string, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, item := range items {
		g.Go(func() error {
			title := s.Title(gctx, item)
			mu.Lock()
			titles[item.ID] = title
			mu.Unlock()
			s.log.Debug().Str("section", item.ID).Str("title", title).Msg("title generated")
			return nil
		})
	}
	_ = g.Wait()
	return titles
}

func cleanTitle(text string) string {
	text = cleanMarkdownOutput(text)
	text = strings.Trim(text, "\"'`*# ")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	return text
}
