package embeddings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// newEmbeddingServer serves /embeddings, returning a vector of size dim per
// input whose first element is the input's length.
func newEmbeddingServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(len(text))
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     OpenAIConfig
		wantErr bool
	}{
		{"valid", OpenAIConfig{BaseURL: "http://localhost:8080/v1", Model: "bge"}, false},
		{"missing base url", OpenAIConfig{Model: "bge"}, true},
		{"missing model", OpenAIConfig{BaseURL: "http://x"}, true},
		{"negative dimension", OpenAIConfig{BaseURL: "http://x", Model: "bge", Dimension: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenAIProvider_EmbedQuery(t *testing.T) {
	srv := newEmbeddingServer(t, 4, nil)
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "test-model", Dimension: 4}, zap.NewNop())
	require.NoError(t, err)

	vec, err := p.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 0, 0}, vec)
	assert.Equal(t, 4, p.Dimension())
	assert.NoError(t, p.Close())
}

func TestOpenAIProvider_EmbedDocumentsBatches(t *testing.T) {
	var calls atomic.Int32
	srv := newEmbeddingServer(t, 3, &calls)
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL + "/", Model: "test-model", BatchSize: 2}, zap.NewNop())
	require.NoError(t, err)

	vecs, err := p.EmbedDocuments(t.Context(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(1), vecs[0][0])
	assert.Equal(t, float32(2), vecs[1][0])
	assert.Equal(t, float32(3), vecs[2][0])
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_EmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: "http://127.0.0.1:1", Model: "m"}, nil)
	require.NoError(t, err)

	_, err = p.EmbedQuery(t.Context(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(t.Context(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestOpenAIProvider_DimensionMismatch(t *testing.T) {
	srv := newEmbeddingServer(t, 3, nil)
	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m", Dimension: 8}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.EmbedQuery(t.Context(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpenAIProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, Model: "m"}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.EmbedQuery(t.Context(), "hello")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestNewProvider(t *testing.T) {
	srv := newEmbeddingServer(t, 1536, nil)

	p, err := NewProvider(ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension(), "dimension derived from the model name")

	_, err = NewProvider(ProviderConfig{Provider: "cohere", Model: "x"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProviderConfigFrom(t *testing.T) {
	cfg := config.Default().Embeddings
	cfg.APIKey = config.Secret("sk-test")

	pc := ProviderConfigFrom(cfg)
	assert.Equal(t, "openai", pc.Provider)
	assert.Equal(t, "text-embedding-3-large", pc.Model)
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, 3072, pc.Dimension)
}
