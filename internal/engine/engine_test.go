package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/events"
	"github.com/fyrsmithlabs/ragd/internal/expansion"
	"github.com/fyrsmithlabs/ragd/internal/fusion"
	"github.com/fyrsmithlabs/ragd/internal/llm"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/prompts"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.AnswerEvent
}

func (p *recordingPublisher) PublishAnswer(_ context.Context, ev events.AnswerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func seededIndex(t *testing.T) vectorstore.Index {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 32}, vectorstore.NewTestEmbedder(32), zap.NewNop())
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), "handbook", []vectorstore.Document{
		{ID: "leave", Content: "employees get twenty five vacation days", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 4}},
		{ID: "sick", Content: "sick days need a doctor note", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 5}},
		{ID: "pay", Content: "salary is paid monthly", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 9}},
	})
	require.NoError(t, err)
	return store
}

// routingCompleter answers decomposition prompts with decompose and every
// other prompt with answer.
func routingCompleter(decompose string, answer func(question string) (string, error)) *llm.ScriptedCompleter {
	return &llm.ScriptedCompleter{Handler: func(msgs []llm.Message, _ llm.Options) (string, error) {
		if msgs[0].Content == prompts.DefaultDecompose {
			return decompose, nil
		}
		return answer(msgs[len(msgs)-1].Content)
	}}
}

func newTestEngine(t *testing.T, c llm.Completer, pub events.Publisher) *Engine {
	t.Helper()
	e, err := New(Deps{
		Index:            seededIndex(t),
		Completer:        c,
		Publisher:        pub,
		DefaultNamespace: "handbook",
	}, DefaultSettings())
	require.NoError(t, err)
	return e
}

func TestAsk(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	pub := &recordingPublisher{}
	c := routingCompleter("1. How many vacation days?\n2. How is sick leave handled?", func(q string) (string, error) {
		return "You get 25 vacation days.", nil
	})
	e := newTestEngine(t, c, pub)

	ans, err := e.Ask(context.Background(), "s1", "What leave do employees get?", "handbook", 2)
	require.NoError(t, err)
	assert.Equal(t, "You get 25 vacation days.", ans.Text)
	assert.Contains(t, ans.Pages, "4")
	assert.False(t, ans.Fallback)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.KindAsk, pub.events[0].Kind)
	assert.Equal(t, "handbook", pub.events[0].Namespace)

	tt.AssertSpanExists(t, "Engine.Ask")
	tt.AssertSpanExists(t, "Engine.RetrieveFused")
	tt.AssertSpanExists(t, "Expander.Decompose")
}

func TestAsk_UsesHistory(t *testing.T) {
	var seen [][]llm.Message
	c := &llm.ScriptedCompleter{Handler: func(msgs []llm.Message, _ llm.Options) (string, error) {
		if msgs[0].Content == prompts.DefaultDecompose {
			return "nothing numbered", nil
		}
		seen = append(seen, msgs)
		return "answer " + msgs[len(msgs)-1].Content, nil
	}}
	e := newTestEngine(t, c, nil)
	ctx := context.Background()

	_, err := e.Ask(ctx, "s1", "vacation days per year", "", 0)
	require.NoError(t, err)
	_, err = e.Ask(ctx, "s1", "and sick days", "", 0)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Len(t, seen[1], 4, "system, previous question, previous answer, question")
	assert.Equal(t, "vacation days per year", seen[1][1].Content)

	require.NoError(t, e.ResetSession(ctx, "s1"))
	_, err = e.Ask(ctx, "s1", "salary schedule", "", 0)
	require.NoError(t, err)
	assert.Len(t, seen[2], 2, "history cleared")
}

func TestAsk_EmptyQuestionIsGuidance(t *testing.T) {
	c := llm.NewScriptedCompleter()
	e := newTestEngine(t, c, nil)

	for _, q := range []string{"", "   \n"} {
		ans, err := e.Ask(context.Background(), "s1", q, "handbook", 5)
		require.NoError(t, err)
		assert.Equal(t, GuidanceText, ans.Text)
	}
	answers, err := e.Synthesize(context.Background(), "s1", " ", "handbook", 5)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, GuidanceText, answers[0].Text)
	assert.Zero(t, c.CallCount())
}

func TestAsk_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid session", func(t *testing.T) {
		e := newTestEngine(t, llm.NewScriptedCompleter(), nil)
		_, err := e.Ask(ctx, "bad session!", "question", "handbook", 5)
		assert.ErrorIs(t, err, conversation.ErrInvalidSession)
	})

	t.Run("invalid collection", func(t *testing.T) {
		e := newTestEngine(t, llm.NewScriptedCompleter(), nil)
		_, err := e.Ask(ctx, "s1", "question", "../etc", 5)
		assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
	})

	t.Run("missing collection", func(t *testing.T) {
		e := newTestEngine(t, routingCompleter("1. a sub question", nil), nil)
		_, err := e.Ask(ctx, "s1", "question", "nope", 5)
		assert.ErrorIs(t, err, retrieval.ErrRetrieval)
		assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
	})

	t.Run("completion failure", func(t *testing.T) {
		e := newTestEngine(t, routingCompleter("1. vacation days", func(string) (string, error) {
			return "", errors.New("503")
		}), nil)
		_, err := e.Ask(ctx, "s1", "vacation days", "handbook", 5)
		assert.ErrorIs(t, err, llm.ErrCompletion)
	})

	t.Run("malformed paraphrase", func(t *testing.T) {
		e := newTestEngine(t, llm.NewScriptedCompleter(llm.Text("not json")), nil)
		s := e.Settings()
		s.Expansion = expansion.ModeParaphrase
		e.UpdateSettings(s)

		_, err := e.Ask(ctx, "s1", "vacation days", "handbook", 5)
		assert.ErrorIs(t, err, expansion.ErrMalformedExpansion)
	})
}

func TestSynthesize(t *testing.T) {
	pub := &recordingPublisher{}
	c := routingCompleter("1. vacation days\n2. salary paid", func(q string) (string, error) {
		return "re: " + q, nil
	})
	e := newTestEngine(t, c, pub)

	answers, err := e.Synthesize(context.Background(), "s2", "vacation days and salary", "handbook", 1)
	require.NoError(t, err)
	require.Len(t, answers, 2)
	assert.Equal(t, "vacation days", answers[0].Query)
	assert.Equal(t, "re: vacation days", answers[0].Text)
	assert.Equal(t, []string{"4"}, answers[0].Pages)
	assert.Equal(t, "re: salary paid", answers[1].Text)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.KindSynthesize, pub.events[0].Kind)
	assert.Len(t, pub.events[0].Answers, 2)
}

func TestSynthesize_FallbackWhenEverythingFails(t *testing.T) {
	c := routingCompleter("1. vacation days\n2. salary paid", func(string) (string, error) {
		return "", errors.New("overloaded")
	})
	e := newTestEngine(t, c, nil)

	answers, err := e.Synthesize(context.Background(), "s3", "vacation days and salary", "handbook", 3)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Fallback)
	assert.Equal(t, prompts.DefaultFallback, answers[0].Text)
	assert.Equal(t, "vacation days and salary", answers[0].Query)
}

func TestRetrieveFused(t *testing.T) {
	e := newTestEngine(t, llm.NewScriptedCompleter(), nil)
	ctx := context.Background()

	res, err := e.RetrieveFused(ctx, []string{"vacation days", "sick days doctor"}, "handbook", 2)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, f := range res {
		assert.False(t, seen[f.SourceID])
		seen[f.SourceID] = true
	}
	assert.True(t, seen["leave"])
	assert.True(t, seen["sick"])
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].FusedScore, res[i].FusedScore)
	}

	union, err := e.RetrieveFused(ctx, []string{"vacation days"}, "handbook", 1, WithPolicy(fusion.PolicyUnion))
	require.NoError(t, err)
	require.Len(t, union, 1)
	assert.Equal(t, union[0].Score, union[0].FusedScore)

	empty, err := e.RetrieveFused(ctx, nil, "handbook", 2)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestExpand(t *testing.T) {
	e := newTestEngine(t, llm.NewScriptedCompleter(llm.Text(`["a b c d", "e f g h"]`)), nil)

	res, err := e.ExpandWith(context.Background(), "some question", expansion.ModeParaphrase, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a b c d", "e f g h"}, res.Queries)

	res, err = e.Expand(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, expansion.OutcomeDegenerate, res.Outcome)
}

func TestSettings(t *testing.T) {
	s, err := SettingsFrom(config.Default().Retrieval)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	_, err = SettingsFrom(config.RetrievalConfig{Fusion: "borda"})
	assert.ErrorIs(t, err, fusion.ErrUnknownPolicy)
	_, err = SettingsFrom(config.RetrievalConfig{Expansion: "hyde"})
	assert.ErrorIs(t, err, expansion.ErrUnknownMode)

	e := newTestEngine(t, llm.NewScriptedCompleter(), nil)
	e.UpdateSettings(Settings{K: 3, Fusion: fusion.PolicyUnion})
	got := e.Settings()
	assert.Equal(t, 3, got.K)
	assert.Equal(t, fusion.PolicyUnion, got.Fusion)
	assert.Equal(t, fusion.DefaultRRFK, got.RRFK)
}

func TestCollections(t *testing.T) {
	e := newTestEngine(t, llm.NewScriptedCompleter(), nil)
	ctx := context.Background()

	names, err := e.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"handbook"}, names)

	info, err := e.CollectionInfo(ctx, "handbook")
	require.NoError(t, err)
	assert.Equal(t, 3, info.PointCount)

	require.NoError(t, e.DeleteCollection(ctx, "handbook"))
	assert.ErrorIs(t, e.DeleteCollection(ctx, "handbook"), vectorstore.ErrCollectionNotFound)
	assert.ErrorIs(t, e.DeleteCollection(ctx, "a/b"), vectorstore.ErrInvalidCollectionName)
}

func TestAsk_LogsSessionID(t *testing.T) {
	logger := logging.NewTestLogger()
	e, err := New(Deps{
		Index:     seededIndex(t),
		Completer: routingCompleter("1. vacation", func(string) (string, error) { return "", errors.New("down") }),
		Logger:    logger.Logger,
	}, DefaultSettings())
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), "sess-42", "vacation days", "handbook", 1)
	require.Error(t, err)
	logger.AssertLogged(t, zapcore.ErrorLevel, "answer failed")
	logger.AssertField(t, "answer failed", "session.id", "sess-42")
	assert.True(t, strings.HasPrefix(e.DefaultNamespace(), "parallel"))
}
