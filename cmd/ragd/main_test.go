package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// testConfig returns a config that needs no external services: an embedded
// store, in-memory sessions and placeholder API keys.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.VectorStore.Provider = "chromem"
	cfg.VectorStore.Chromem.Path = t.TempDir()
	cfg.Embeddings.APIKey = config.Secret("test-key")
	cfg.LLM.APIKey = config.Secret("test-key")
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := testConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var logs bytes.Buffer
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, "", &logs)
	}()

	url := fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/v1/collections", cfg.Server.Port))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"collections":[]}`, string(body))

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
	assert.Contains(t, logs.String(), "starting ragd")
	assert.Contains(t, logs.String(), "server shutdown complete")
}

func TestServeMCP(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	errCh := make(chan error, 1)
	go func() {
		errCh <- serveMCP(ctx, cfg, serverTransport, io.Discard)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "ragd-test", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	res, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, res.Tools, 6)

	require.NoError(t, cs.Close())
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("mcp server did not stop after the client disconnected")
	}
}

func TestInitDependencies(t *testing.T) {
	t.Run("builds the engine", func(t *testing.T) {
		deps, err := initDependencies(context.Background(), testConfig(t), io.Discard)
		require.NoError(t, err)
		defer deps.Close(context.Background())
		assert.NotNil(t, deps.engine)
		assert.Equal(t, 3072, deps.embedder.Dimension())
	})

	t.Run("unknown vector store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VectorStore.Provider = "pinecone"
		_, err := initDependencies(context.Background(), cfg, io.Discard)
		assert.ErrorContains(t, err, "failed to create vector store")
	})

	t.Run("missing completion key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LLM.APIKey = ""
		_, err := initDependencies(context.Background(), cfg, io.Discard)
		assert.ErrorContains(t, err, "failed to create completer")
	})

	t.Run("bad retrieval settings", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Retrieval.Fusion = "borda"
		_, err := initDependencies(context.Background(), cfg, io.Discard)
		assert.ErrorContains(t, err, "invalid retrieval config")
	})
}

func TestWatchConfig_MissingFile(t *testing.T) {
	deps, err := initDependencies(context.Background(), testConfig(t), io.Discard)
	require.NoError(t, err)
	defer deps.Close(context.Background())

	w, err := deps.watchConfig(context.Background(), t.TempDir()+"/absent.yaml")
	require.NoError(t, err)
	assert.Nil(t, w)
}

// newFakeOpenAI serves /embeddings and /chat/completions. Every completion
// answers with reply.
func newFakeOpenAI(t *testing.T, dim int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/embeddings":
			var req struct {
				Model string   `json:"model"`
				Input []string `json:"input"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data := make([]map[string]any, len(req.Input))
			for i, text := range req.Input {
				vec := make([]float32, dim)
				vec[0] = 1
				vec[1+len(text)%(dim-1)] = 1
				data[i] = map[string]any{"object": "embedding", "embedding": vec, "index": i}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
		case "/chat/completions":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-test",
				"object":  "chat.completion",
				"created": 0,
				"model":   "gpt-test",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				}},
				"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestServeIntegration_FullStack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	const dim = 8

	openai := newFakeOpenAI(t, dim, "Twenty five days.")
	mr := miniredis.RunT(t)
	ns := startTestNATSServer(t)

	cfg := testConfig(t)
	cfg.Embeddings.BaseURL = openai.URL
	cfg.Embeddings.Model = "text-embedding-3-small"
	cfg.Embeddings.Dimension = dim
	cfg.LLM.BaseURL = openai.URL
	cfg.LLM.Model = "gpt-test"
	cfg.Conversation.Backend = "redis"
	cfg.Conversation.Redis.Addr = mr.Addr()
	cfg.Events.Enabled = true
	cfg.Events.NATSURL = ns.ClientURL()
	cfg.Events.Subject = "ragd.answers"

	// Index a collection the server will open from disk.
	embedder, err := embeddings.NewProvider(embeddings.ProviderConfigFrom(cfg.Embeddings), nil)
	require.NoError(t, err)
	store, err := vectorstore.New(context.Background(), cfg, embedder, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), "handbook", []vectorstore.Document{
		{ID: "leave", Content: "employees get twenty five vacation days", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 4}},
		{ID: "pay", Content: "salary is paid monthly", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 9}},
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, embedder.Close())

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	events, err := sub.SubscribeSync("ragd.answers")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, "", io.Discard)
	}()

	base := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	body := `{"question":"How many vacation days do I get?","collection_name":"handbook","session_id":"e2e-1"}`
	resp, err := http.Post(base+"/api/v1/rag", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var answer struct {
		Answer    string   `json:"answer"`
		Pages     []string `json:"pages"`
		SessionID string   `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Twenty five days.", answer.Answer)
	assert.Equal(t, "e2e-1", answer.SessionID)
	assert.NotEmpty(t, answer.Pages)

	// History went to Redis.
	assert.NotEmpty(t, mr.Keys())

	// The answer was announced on NATS.
	msg, err := events.NextMsg(5 * time.Second)
	require.NoError(t, err)
	var event struct {
		Kind      string `json:"kind"`
		SessionID string `json:"session_id"`
		Namespace string `json:"namespace"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, "ask", event.Kind)
	assert.Equal(t, "e2e-1", event.SessionID)
	assert.Equal(t, "handbook", event.Namespace)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
