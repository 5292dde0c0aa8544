package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeQdrant records requests and serves canned responses.
type fakeQdrant struct {
	collections map[string]uint64
	points      []*qdrant.ScoredPoint

	queryErrs []error
	queries   []*qdrant.QueryPoints
	upserts   []*qdrant.UpsertPoints
	created   []*qdrant.CreateCollection
	infoErr   error
	closed    bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]uint64{}}
}

func (f *fakeQdrant) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, req)
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if _, ok := f.collections[req.GetCollectionName()]; !ok {
		return nil, status.Error(grpccodes.NotFound, "Collection not found")
	}
	return f.points, nil
}

func (f *fakeQdrant) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	f.collections[req.GetCollectionName()] += uint64(len(req.GetPoints()))
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	f.collections[req.GetCollectionName()] = 0
	return nil
}

func (f *fakeQdrant) DeleteCollection(ctx context.Context, name string) error {
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeQdrant) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeQdrant) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	count, ok := f.collections[name]
	if !ok {
		return nil, status.Error(grpccodes.NotFound, "Collection not found")
	}
	return &qdrant.CollectionInfo{
		PointsCount: qdrant.PtrOf(count),
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: 8}),
			},
		},
	}, nil
}

func (f *fakeQdrant) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{Title: "qdrant"}, nil
}

func (f *fakeQdrant) Close() error {
	f.closed = true
	return nil
}

func newTestQdrantStore(t *testing.T, fake *fakeQdrant) *QdrantStore {
	t.Helper()
	cfg := QdrantConfig{
		Host:         "localhost",
		Port:         6334,
		VectorSize:   8,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return newQdrantStore(fake, cfg, NewTestEmbedder(8), zap.NewNop())
}

func TestQdrantConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     QdrantConfig
		wantErr bool
	}{
		{"valid", QdrantConfig{Host: "localhost", Port: 6334, VectorSize: 384}, false},
		{"missing host", QdrantConfig{Port: 6334, VectorSize: 384}, true},
		{"bad port", QdrantConfig{Host: "localhost", Port: 70000, VectorSize: 384}, true},
		{"zero vector size", QdrantConfig{Host: "localhost", Port: 6334}, true},
		{"negative retries", QdrantConfig{Host: "localhost", Port: 6334, VectorSize: 384, MaxRetries: -1}, true},
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

func TestQdrantConfig_ApplyDefaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreakerCooldown)
	assert.Equal(t, qdrant.Distance_Cosine, cfg.Distance)
}

func TestParseDistance(t *testing.T) {
	d, err := ParseDistance("Dot")
	require.NoError(t, err)
	assert.Equal(t, qdrant.Distance_Dot, d)

	d, err = ParseDistance("")
	require.NoError(t, err)
	assert.Equal(t, qdrant.Distance_Cosine, d)

	_, err = ParseDistance("hamming")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(grpccodes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(grpccodes.DeadlineExceeded, "slow")))
	assert.True(t, IsTransientError(status.Error(grpccodes.ResourceExhausted, "busy")))
	assert.False(t, IsTransientError(status.Error(grpccodes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.False(t, IsTransientError(nil))
}

func TestQdrantStore_Search(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 2
	fake.points = []*qdrant.ScoredPoint{
		{
			Id:    qdrant.NewIDNum(7),
			Score: 0.9,
			Payload: map[string]*qdrant.Value{
				PayloadContentKey: qdrant.NewValueString("Revenue grew 12%."),
				PayloadMetadataKey: qdrant.NewValueFromFields(qdrant.NewValueMap(map[string]any{
					"source": "report.pdf",
					"page":   3,
				})),
			},
		},
		{
			Id:    qdrant.NewIDUUID("0b9a5a2e-6c5b-4b0a-9f5d-1c2d3e4f5a6b"),
			Score: 0.5,
			Payload: map[string]*qdrant.Value{
				PayloadLegacyKey: qdrant.NewValueString("legacy text"),
				PayloadIDKey:     qdrant.NewValueString("chunk-2"),
				"page":           qdrant.NewValueInt(4),
			},
		},
	}
	store := newTestQdrantStore(t, fake)

	results, err := store.Search(context.Background(), "docs", "revenue growth", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "7", results[0].ID)
	assert.Equal(t, "Revenue grew 12%.", results[0].Content)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, "report.pdf", results[0].Metadata["source"])
	assert.Equal(t, int64(3), results[0].Metadata["page"])

	assert.Equal(t, "chunk-2", results[1].ID)
	assert.Equal(t, "legacy text", results[1].Content)
	assert.Equal(t, int64(4), results[1].Metadata["page"])

	require.Len(t, fake.queries, 1)
	assert.Equal(t, uint64(5), fake.queries[0].GetLimit())
	assert.Equal(t, "docs", fake.queries[0].GetCollectionName())
}

func TestQdrantStore_Search_Validation(t *testing.T) {
	store := newTestQdrantStore(t, newFakeQdrant())
	ctx := context.Background()

	_, err := store.Search(ctx, "../etc", "q", 5)
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	_, err = store.Search(ctx, "docs", "q", 0)
	assert.Error(t, err)

	_, err = store.Search(ctx, "docs", "   ", 5)
	assert.Error(t, err)
}

func TestQdrantStore_Search_CollectionNotFound(t *testing.T) {
	fake := newFakeQdrant()
	store := newTestQdrantStore(t, fake)

	_, err := store.Search(context.Background(), "missing", "q", 5)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
	assert.Len(t, fake.queries, 1, "not found must not be retried")
}

func TestQdrantStore_RetriesTransientErrors(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 0
	fake.queryErrs = []error{
		status.Error(grpccodes.Unavailable, "down"),
		status.Error(grpccodes.Unavailable, "down"),
	}
	store := newTestQdrantStore(t, fake)

	_, err := store.Search(context.Background(), "docs", "q", 5)
	require.NoError(t, err)
	assert.Len(t, fake.queries, 3)
}

func TestQdrantStore_GivesUpAfterMaxRetries(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 0
	unavailable := status.Error(grpccodes.Unavailable, "down")
	fake.queryErrs = []error{unavailable, unavailable, unavailable, unavailable}
	store := newTestQdrantStore(t, fake)

	_, err := store.Search(context.Background(), "docs", "q", 5)
	require.Error(t, err)
	assert.Len(t, fake.queries, 3)
	assert.Equal(t, grpccodes.Unavailable, status.Code(err))
}

func TestQdrantStore_PermanentErrorNotRetried(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 0
	fake.queryErrs = []error{status.Error(grpccodes.InvalidArgument, "bad vector")}
	store := newTestQdrantStore(t, fake)

	_, err := store.Search(context.Background(), "docs", "q", 5)
	require.Error(t, err)
	assert.Len(t, fake.queries, 1)
}

func TestQdrantStore_CircuitBreaker(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 0
	store := newTestQdrantStore(t, fake)
	store.config.MaxRetries = 0
	store.config.CircuitBreakerThreshold = 2

	unavailable := status.Error(grpccodes.Unavailable, "down")
	fake.queryErrs = []error{unavailable, unavailable}
	ctx := context.Background()

	_, err := store.Search(ctx, "docs", "q", 5)
	require.Error(t, err)
	_, err = store.Search(ctx, "docs", "q", 5)
	require.Error(t, err)

	_, err = store.Search(ctx, "docs", "q", 5)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, fake.queries, 2, "open circuit must not reach the server")

	// Cooldown elapsed.
	store.config.CircuitBreakerCooldown = time.Nanosecond
	time.Sleep(time.Millisecond)
	_, err = store.Search(ctx, "docs", "q", 5)
	assert.NoError(t, err)
}

func TestQdrantStore_RetryHonorsContext(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 0
	store := newTestQdrantStore(t, fake)
	store.config.RetryBackoff = time.Hour
	fake.queryErrs = []error{status.Error(grpccodes.Unavailable, "down")}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := store.Search(ctx, "docs", "q", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQdrantStore_Upsert(t *testing.T) {
	fake := newFakeQdrant()
	store := newTestQdrantStore(t, fake)
	ctx := context.Background()

	docs := []Document{
		{ID: "report-p1", Content: "first page", Metadata: map[string]interface{}{"page": 1}},
		{ID: "report-p2", Content: "second page", Metadata: map[string]interface{}{"page": 2}},
	}
	ids, err := store.Upsert(ctx, "reports", docs)
	require.NoError(t, err)
	assert.Equal(t, []string{"report-p1", "report-p2"}, ids)

	require.Len(t, fake.created, 1)
	params := fake.created[0].GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(8), params.GetSize())
	assert.Equal(t, qdrant.Distance_Cosine, params.GetDistance())

	require.Len(t, fake.upserts, 1)
	assert.True(t, fake.upserts[0].GetWait())
	points := fake.upserts[0].GetPoints()
	require.Len(t, points, 2)
	assert.Equal(t, "first page", points[0].GetPayload()[PayloadContentKey].GetStringValue())
	assert.Equal(t, "report-p1", points[0].GetPayload()[PayloadIDKey].GetStringValue())

	// Same document ID maps to the same point, and the collection is reused.
	_, err = store.Upsert(ctx, "reports", docs[:1])
	require.NoError(t, err)
	assert.Len(t, fake.created, 1)
	assert.Equal(t, points[0].GetId().GetUuid(), fake.upserts[1].GetPoints()[0].GetId().GetUuid())
}

func TestQdrantStore_Upsert_Empty(t *testing.T) {
	store := newTestQdrantStore(t, newFakeQdrant())
	_, err := store.Upsert(context.Background(), "reports", nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)
}

func TestQdrantStore_DeleteCollection(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 3
	store := newTestQdrantStore(t, fake)
	ctx := context.Background()

	require.NoError(t, store.DeleteCollection(ctx, "docs"))
	assert.NotContains(t, fake.collections, "docs")

	err := store.DeleteCollection(ctx, "docs")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestQdrantStore_GetCollectionInfo(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["docs"] = 42
	store := newTestQdrantStore(t, fake)
	ctx := context.Background()

	info, err := store.GetCollectionInfo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, &CollectionInfo{Name: "docs", PointCount: 42, VectorSize: 8}, info)

	_, err = store.GetCollectionInfo(ctx, "missing")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestQdrantStore_ListCollectionsAndClose(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["a"] = 0
	fake.collections["b"] = 0
	store := newTestQdrantStore(t, fake)

	names, err := store.ListCollections(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}
