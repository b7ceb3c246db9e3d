package knowledge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "specgraph/internal/errors"
)

func TestOpenAIEndpoint(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/embeddings", openAIEndpoint("", "/embeddings"))
	assert.Equal(t, "http://host/v1/chat/completions", openAIEndpoint("http://host", "/chat/completions"))
	assert.Equal(t, "http://host/v1/chat/completions", openAIEndpoint("http://host/v1/", "/chat/completions"))
	assert.Equal(t, "http://host/v1/embeddings", openAIEndpoint("http://host/v1/embeddings", "/embeddings"))
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req openAIEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.Input)

		// out of order on purpose
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	em := NewOpenAIEmbedder("key", "text-embedding-3-small", 0, srv.URL, 0)
	vecs, err := em.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	em := NewOpenAIEmbedder("key", "m", 0, srv.URL, 0)
	_, err := em.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad model")
	assert.Equal(t, 1, calls)
}

func TestOpenAICompleter_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, 150, req.MaxTokens)
		assert.InDelta(t, 0.4, req.Temperature, 1e-6)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  The attach procedure registers the UE.  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter("key", "gpt-3.5-turbo", srv.URL, 0)
	text, err := c.Complete(context.Background(), CompletionRequest{System: "be brief", User: "q", MaxTokens: 150, Temperature: 0.4})
	require.NoError(t, err)
	assert.Equal(t, "The attach procedure registers the UE.", text)
}

func TestOpenAICompleter_ProviderErrorIsCompletionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	c := NewOpenAICompleter("key", "m", srv.URL, 0)
	_, err := c.Complete(context.Background(), CompletionRequest{User: "q"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CompletionFailed))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestNewEmbedder_Providers(t *testing.T) {
	ctx := context.Background()

	em, err := NewEmbedder(ctx, EmbedderOptions{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, em.Dimension())

	em, err = NewEmbedder(ctx, EmbedderOptions{Provider: "OpenAI", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEmbedder{}, em)

	_, err = NewEmbedder(ctx, EmbedderOptions{Provider: "nope"})
	assert.Error(t, err)

	_, err = NewCompleter(ctx, CompleterOptions{Provider: "ollama"})
	assert.Error(t, err)
}
