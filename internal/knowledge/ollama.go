package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "specgraph/internal/errors"
)

const (
	defaultOllamaURL     = "http://127.0.0.1:11434"
	ollamaEmbedBatchSize = 64
	ollamaEmbedDelay     = 200 * time.Millisecond
)

// OllamaEmbedder embeds section and query text with a local Ollama server.
// Failures carry the EMBEDDING_UNAVAILABLE code.
type OllamaEmbedder struct {
	client    *http.Client
	model     string
	dimension int
	endpoint  string
	batchSize int
	delay     time.Duration
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

func ollamaEndpoint(baseURL string) string {
	url := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if url == "" {
		url = defaultOllamaURL
	}
	if strings.HasSuffix(url, "/api/embed") {
		return url
	}
	return url + "/api/embed"
}

// NewOllamaEmbedder targets baseURL (default 127.0.0.1:11434). A positive dim
// makes Embed reject vectors of any other length.
func NewOllamaEmbedder(model string, dim int, baseURL string, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OllamaEmbedder{
		client:    &http.Client{Timeout: timeout},
		model:     strings.TrimSpace(model),
		dimension: dim,
		endpoint:  ollamaEndpoint(baseURL),
		batchSize: ollamaEmbedBatchSize,
		delay:     ollamaEmbedDelay,
	}
}

func (o *OllamaEmbedder) Dimension() int {
	return o.dimension
}

// Embed sends texts in batches, pausing between batches, and returns one
// vector per text in input order.
func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if o.model == "" {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "ollama embedding model is required", nil)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		if start > 0 && !waitOrCancel(ctx, o.delay) {
			return nil, apperrors.New(apperrors.EmbeddingUnavailable, "ollama embedding cancelled", ctx.Err())
		}
		end := min(start+o.batchSize, len(texts))
		vecs, err := o.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (o *OllamaEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: batch})
	if err != nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "encode ollama request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "ollama request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "read ollama response", err)
	}

	var parsed ollamaEmbedResponse
	decodeErr := json.Unmarshal(raw, &parsed)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		return nil, apperrors.New(apperrors.EmbeddingUnavailable,
			fmt.Sprintf("ollama embed status %d: %s", resp.StatusCode, msg), nil)
	}
	if decodeErr != nil {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable, "decode ollama response", decodeErr)
	}
	if len(parsed.Embeddings) != len(batch) {
		return nil, apperrors.New(apperrors.EmbeddingUnavailable,
			fmt.Sprintf("ollama returned %d vectors for %d texts", len(parsed.Embeddings), len(batch)), nil)
	}
	if o.dimension > 0 {
		for i, v := range parsed.Embeddings {
			if len(v) != o.dimension {
				return nil, apperrors.New(apperrors.EmbeddingUnavailable,
					fmt.Sprintf("ollama vector %d has dimension %d, want %d", i, len(v), o.dimension), nil)
			}
		}
	}
	return parsed.Embeddings, nil
}
