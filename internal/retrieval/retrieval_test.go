package retrieval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSeededIndex(t *testing.T) vectorstore.Index {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{VectorSize: 32}, vectorstore.NewTestEmbedder(32), zap.NewNop())
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), "handbook", []vectorstore.Document{
		{ID: "leave-1", Content: "employees accrue vacation leave monthly", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 4}},
		{ID: "leave-2", Content: "sick leave requires a doctor note after three days", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 5}},
		{ID: "pay-1", Content: "salary is paid on the last business day", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 9}},
		{ID: "it-1", Content: "laptops are replaced every three years", Metadata: map[string]interface{}{"source": "handbook.pdf", "page": 12}},
	})
	require.NoError(t, err)
	return store
}

// stubIndex serves canned results or errors per query.
type stubIndex struct {
	vectorstore.Index

	mu      sync.Mutex
	results map[string][]vectorstore.SearchResult
	errs    map[string]error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubIndex) Search(ctx context.Context, collection, query string, k int) ([]vectorstore.SearchResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[query]; err != nil {
		return nil, err
	}
	return s.results[query], nil
}

func TestRetrieve(t *testing.T) {
	r := New(newSeededIndex(t), zap.NewNop())

	got, err := r.Retrieve(context.Background(), "how much vacation leave", "handbook", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "leave-1", got[0].SourceID)
	assert.Equal(t, "4", got[0].Page)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, 2, got[1].Rank)
	assert.Equal(t, "handbook", got[0].Namespace)
	assert.Equal(t, "handbook.pdf", got[0].Metadata["source"])
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
}

func TestRetrieve_DefaultK(t *testing.T) {
	idx := &stubIndex{results: map[string][]vectorstore.SearchResult{}}
	var many []vectorstore.SearchResult
	for i := 0; i < 8; i++ {
		many = append(many, vectorstore.SearchResult{ID: string(rune('a' + i))})
	}
	idx.results["q"] = many

	got, err := New(idx, nil).Retrieve(context.Background(), "q", "ns", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultK)
}

func TestRetrieve_SourceIDFallback(t *testing.T) {
	idx := &stubIndex{results: map[string][]vectorstore.SearchResult{
		"q": {{Content: "x", Metadata: map[string]interface{}{"source": "a.pdf", "page": int64(7)}}},
	}}
	got, err := New(idx, nil).Retrieve(context.Background(), "q", "ns", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a.pdf:7", got[0].SourceID)
	assert.Equal(t, "7", got[0].Page)
}

func TestRetrieve_Error(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	idx := &stubIndex{errs: map[string]error{"q": vectorstore.ErrCollectionNotFound}}
	_, err := New(idx, zap.NewNop()).Retrieve(context.Background(), "q", "missing", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "missing", re.Namespace)

	tt.AssertSpanExists(t, "Retriever.Retrieve")
	count, ok := tt.CounterValue(t, "ragd.retrieval.queries_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestFanOut_PreservesOrder(t *testing.T) {
	r := New(newSeededIndex(t), zap.NewNop())
	queries := []string{"salary paid", "laptops replaced", "sick leave doctor"}

	for _, parallel := range []bool{true, false} {
		lists, err := r.FanOut(context.Background(), queries, "handbook", 1, parallel)
		require.NoError(t, err)
		require.Len(t, lists, 3)
		assert.Equal(t, "pay-1", lists[0][0].SourceID)
		assert.Equal(t, "it-1", lists[1][0].SourceID)
		assert.Equal(t, "leave-2", lists[2][0].SourceID)
	}
}

func TestFanOut_FirstErrorWins(t *testing.T) {
	boom := errors.New("qdrant unavailable")
	idx := &stubIndex{
		results: map[string][]vectorstore.SearchResult{"ok": {{ID: "1"}}},
		errs:    map[string]error{"bad": boom},
	}
	r := New(idx, nil)

	_, err := r.FanOut(context.Background(), []string{"ok", "bad", "ok"}, "ns", 5, true)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, boom)
}

func TestFanOut_QueryTimeout(t *testing.T) {
	idx := &stubIndex{delay: time.Second}
	r := New(idx, nil, WithQueryTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := r.FanOut(context.Background(), []string{"a", "b"}, "ns", 5, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrieve_QueryTimeout(t *testing.T) {
	idx := &stubIndex{delay: time.Second}
	r := New(idx, nil, WithQueryTimeout(10*time.Millisecond))

	start := time.Now()
	_, err := r.Retrieve(context.Background(), "slow", "ns", 5)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFanOut_Empty(t *testing.T) {
	lists, err := New(&stubIndex{}, nil).FanOut(context.Background(), nil, "ns", 5, true)
	require.NoError(t, err)
	assert.Empty(t, lists)
}
