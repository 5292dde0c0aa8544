package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"go.uber.org/zap"
)

// stubModel fails with errs in order, then answers "ok".
type stubModel struct {
	errs     []error
	calls    int
	lastMsgs []llms.MessageContent
	lastOpts llms.CallOptions
}

func (m *stubModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.lastMsgs = msgs
	m.lastOpts = llms.CallOptions{}
	for _, opt := range opts {
		opt(&m.lastOpts)
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func testConfig() Config {
	return Config{Model: "gpt-test", MaxRetries: 2, BaseBackoff: time.Millisecond, RateLimit: 1000, Burst: 100}
}

func TestOpenAICompleter_Complete(t *testing.T) {
	c := newCompleter(fake.NewFakeLLM([]string{"Paris."}), testConfig(), zap.NewNop())

	text, err := c.Complete(context.Background(), []Message{
		System("be brief"),
		User("capital of France?"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris.", text)
}

func TestOpenAICompleter_MapsRolesAndOptions(t *testing.T) {
	model := &stubModel{}
	cfg := testConfig()
	cfg.MaxTokens = 1024
	c := newCompleter(model, cfg, nil)

	_, err := c.Complete(context.Background(), []Message{
		System("sys"),
		User("u1"),
		Assistant("a1"),
		User("u2"),
	}, WithTemperature(0.5), WithMaxTokens(200))
	require.NoError(t, err)

	require.Len(t, model.lastMsgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.lastMsgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.lastMsgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.lastMsgs[2].Role)
	assert.Equal(t, llms.TextContent{Text: "u2"}, model.lastMsgs[3].Parts[0])
	assert.Equal(t, 0.5, model.lastOpts.Temperature)
	assert.Equal(t, 200, model.lastOpts.MaxTokens)
}

func TestOpenAICompleter_DefaultMaxTokens(t *testing.T) {
	model := &stubModel{}
	cfg := testConfig()
	cfg.MaxTokens = 1024
	c := newCompleter(model, cfg, nil)

	_, err := c.Complete(context.Background(), []Message{User("hi")})
	require.NoError(t, err)
	assert.Equal(t, 1024, model.lastOpts.MaxTokens)
}

func TestOpenAICompleter_RetriesTransient(t *testing.T) {
	model := &stubModel{errs: []error{
		errors.New("API returned unexpected status code: 429: slow down"),
		errors.New("API returned unexpected status code: 503: overloaded"),
	}}
	c := newCompleter(model, testConfig(), zap.NewNop())

	text, err := c.Complete(context.Background(), []Message{User("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 3, model.calls)
}

func TestOpenAICompleter_PermanentError(t *testing.T) {
	model := &stubModel{errs: []error{errors.New("API returned unexpected status code: 401: bad key")}}
	c := newCompleter(model, testConfig(), zap.NewNop())

	_, err := c.Complete(context.Background(), []Message{User("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompletion)
	assert.Equal(t, 1, model.calls)

	var ce *CompletionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "gpt-test", ce.Model)
	assert.Equal(t, 1, ce.Attempts)
}

func TestOpenAICompleter_ExhaustsRetries(t *testing.T) {
	overloaded := errors.New("API returned unexpected status code: 500: boom")
	model := &stubModel{errs: []error{overloaded, overloaded, overloaded, overloaded}}
	c := newCompleter(model, testConfig(), zap.NewNop())

	_, err := c.Complete(context.Background(), []Message{User("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompletion)
	assert.Equal(t, 3, model.calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestOpenAICompleter_NoMessages(t *testing.T) {
	c := newCompleter(&stubModel{}, testConfig(), nil)
	_, err := c.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCompletion)
}

func TestNewOpenAICompleter_Validation(t *testing.T) {
	_, err := NewOpenAICompleter(Config{Model: "gpt-4o"}, nil)
	assert.Error(t, err)

	_, err = NewOpenAICompleter(Config{APIKey: "sk-test"}, nil)
	assert.Error(t, err)

	c, err := NewOpenAICompleter(Config{Model: "gpt-4o", APIKey: "sk-test", BaseURL: "http://localhost:1/v1/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.config.Timeout)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{errors.New("API returned unexpected status code: 429"), true},
		{errors.New("API returned unexpected status code: 502: bad gateway"), true},
		{errors.New("API returned unexpected status code: 400: bad request"), false},
		{errors.New("something else"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestConfigFrom(t *testing.T) {
	app := config.Default().LLM
	app.APIKey = config.Secret("sk-abc")

	cfg := ConfigFrom(app)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "sk-abc", cfg.APIKey)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestScriptedCompleter(t *testing.T) {
	sc := NewScriptedCompleter(Text("one"), Fail(errors.New("down")))
	ctx := context.Background()

	text, err := sc.Complete(ctx, []Message{User("a")}, WithTemperature(0.5))
	require.NoError(t, err)
	assert.Equal(t, "one", text)

	_, err = sc.Complete(ctx, []Message{User("b")})
	assert.ErrorIs(t, err, ErrCompletion)

	_, err = sc.Complete(ctx, []Message{User("c")})
	assert.ErrorIs(t, err, ErrCompletion, "exhausted script fails")

	assert.Equal(t, 3, sc.CallCount())
	calls := sc.Calls()
	require.NotNil(t, calls[0].Options.Temperature)
	assert.Equal(t, 0.5, *calls[0].Options.Temperature)
	assert.Equal(t, "b", calls[1].Messages[0].Content)
}
