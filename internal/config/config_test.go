package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "qdrant", cfg.VectorStore.Provider)
	assert.Equal(t, "parallel_query", cfg.VectorStore.DefaultCollection)
	assert.Equal(t, 6334, cfg.VectorStore.Qdrant.Port)
	assert.Equal(t, 3072, cfg.Embeddings.Dimension)
	assert.Equal(t, 3072, cfg.VectorStore.Qdrant.VectorSize)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)

	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, 60, cfg.Retrieval.RRFK)
	assert.Equal(t, "rrf", cfg.Retrieval.Fusion)
	assert.Equal(t, "decompose", cfg.Retrieval.Expansion)
	assert.True(t, cfg.Retrieval.Parallel)
	assert.Equal(t, 10*time.Second, cfg.Retrieval.QueryTimeout.Duration())

	assert.Equal(t, 10, cfg.Conversation.MaxHistoryMessages)
	assert.Equal(t, "memory", cfg.Conversation.Backend)
	assert.False(t, cfg.Events.Enabled)
	assert.Equal(t, "ragd.answers", cfg.Events.Subject)

	require.NoError(t, cfg.Validate())
}

func TestDimensionForModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-large", 3072},
		{"text-embedding-3-small", 1536},
		{"text-embedding-ada-002", 1536},
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"unknown-model", 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DimensionForModel(tt.model))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name:    "unknown vectorstore provider",
			mutate:  func(c *Config) { c.VectorStore.Provider = "pinecone" },
			wantErr: "vectorstore.provider",
		},
		{
			name:    "vector size mismatch",
			mutate:  func(c *Config) { c.VectorStore.Qdrant.VectorSize = 1536 },
			wantErr: "does not match embeddings.dimension",
		},
		{
			name: "chromem ignores qdrant vector size",
			mutate: func(c *Config) {
				c.VectorStore.Provider = "chromem"
				c.VectorStore.Qdrant.VectorSize = 1
			},
		},
		{
			name:    "unknown distance",
			mutate:  func(c *Config) { c.VectorStore.Qdrant.Distance = "manhattan" },
			wantErr: "distance",
		},
		{
			name:    "missing embedding dimension",
			mutate:  func(c *Config) { c.Embeddings.Dimension = 0 },
			wantErr: "embeddings.dimension",
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.LLM.Temperature = 2.5 },
			wantErr: "llm.temperature",
		},
		{
			name:    "zero k",
			mutate:  func(c *Config) { c.Retrieval.K = 0 },
			wantErr: "retrieval.k",
		},
		{
			name:    "negative rrf_k",
			mutate:  func(c *Config) { c.Retrieval.RRFK = -1 },
			wantErr: "retrieval.rrf_k",
		},
		{
			name:    "unknown fusion",
			mutate:  func(c *Config) { c.Retrieval.Fusion = "borda" },
			wantErr: "retrieval.fusion",
		},
		{
			name:    "unknown expansion",
			mutate:  func(c *Config) { c.Retrieval.Expansion = "hyde" },
			wantErr: "retrieval.expansion",
		},
		{
			name:    "too many variants",
			mutate:  func(c *Config) { c.Retrieval.Variants = 6 },
			wantErr: "retrieval.variants",
		},
		{
			name:    "negative history",
			mutate:  func(c *Config) { c.Conversation.MaxHistoryMessages = -1 },
			wantErr: "max_history_messages",
		},
		{
			name:    "unknown history backend",
			mutate:  func(c *Config) { c.Conversation.Backend = "etcd" },
			wantErr: "conversation.backend",
		},
		{
			name: "events enabled without subject",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.Subject = ""
			},
			wantErr: "events.subject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	data, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(data))

	yml, err := s.MarshalYAML()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", yml)

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestSecret_UnmarshalJSON(t *testing.T) {
	var v struct {
		Key Secret `json:"key"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"key":"abc"}`), &v))
	assert.Equal(t, "abc", v.Key.Value())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))

	text, err := Duration(2 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2s", string(text))
}
