package index

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQdrant struct {
	exists   bool
	count    uint64
	size     uint64
	results  []*qdrant.ScoredPoint
	queryErr error
	lastQry  *qdrant.QueryPoints
	created  *qdrant.CreateCollection
	upserted []*qdrant.PointStruct
	closed   bool
}

func (f *fakeQdrant) CollectionExists(context.Context, string) (bool, error) { return f.exists, nil }

func (f *fakeQdrant) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     f.size,
					Distance: qdrant.Distance_Cosine,
				}),
			},
		},
	}, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.created = req
	f.exists = true
	return nil
}

func (f *fakeQdrant) DeleteCollection(context.Context, string) error { return nil }

func (f *fakeQdrant) Count(context.Context, *qdrant.CountPoints) (uint64, error) {
	return f.count, nil
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.lastQry = req
	return f.results, f.queryErr
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserted = append(f.upserted, req.GetPoints()...)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeQdrant) Close() error { f.closed = true; return nil }

func TestQdrantShard_MissingCollection(t *testing.T) {
	shard := NewQdrantShard(QdrantConfig{Collection: "books_text"}, ModalityText)
	err := shard.attach(context.Background(), &fakeQdrant{exists: false})

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "collection", nf.Artifact)
	assert.Equal(t, "books_text", nf.Path)
}

func TestQdrantShard_SearchConvertsPayload(t *testing.T) {
	fake := &fakeQdrant{
		exists: true,
		count:  2,
		size:   3,
		results: []*qdrant.ScoredPoint{
			{
				Id:    qdrant.NewIDNum(7),
				Score: 0.91,
				Payload: qdrant.NewValueMap(map[string]any{
					"unique_id":  "b7",
					"page_count": 320,
					"rating":     4.2,
					"tags":       []any{"kids", "fantasy"},
				}),
			},
			{Id: qdrant.NewIDNum(3), Score: 0.4},
		},
	}
	shard := NewQdrantShard(QdrantConfig{Collection: "books_text"}, ModalityText)
	require.NoError(t, shard.attach(context.Background(), fake))
	assert.Equal(t, 2, shard.Count())
	assert.Equal(t, 3, shard.Dims())

	hits, err := shard.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, uint64(2), fake.lastQry.GetLimit())
	assert.Equal(t, int64(7), hits[0].Position)
	assert.InDelta(t, 0.91, hits[0].Score, 1e-6)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, "b7", hits[0].Metadata.String("unique_id"))
	assert.Equal(t, int64(320), hits[0].Metadata["page_count"])
	assert.Equal(t, 4.2, hits[0].Metadata["rating"])
	assert.Equal(t, []any{"kids", "fantasy"}, hits[0].Metadata["tags"])
	assert.Empty(t, hits[1].Metadata)

	_, err = shard.Search(context.Background(), []float32{1}, 2)
	var de *DimensionError
	assert.ErrorAs(t, err, &de)

	require.NoError(t, shard.Ping(context.Background()))
	require.NoError(t, shard.Close())
	assert.True(t, fake.closed)

	_, err = shard.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 2)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestQdrantShard_QueryError(t *testing.T) {
	boom := errors.New("unavailable")
	shard := NewQdrantShard(QdrantConfig{Collection: "c"}, ModalityImage)
	require.NoError(t, shard.attach(context.Background(), &fakeQdrant{exists: true, queryErr: boom}))

	_, err := shard.Search(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, boom)
}

func TestUpsertQdrant_CreatesCollectionAndBatches(t *testing.T) {
	fake := &fakeQdrant{}
	n := qdrantUpsertBatch + 3
	vectors := make([][]float32, n)
	records := make([]Record, n)
	for i := range vectors {
		vectors[i] = []float32{1, float32(i)}
		records[i] = Record{"unique_id": "b"}
	}

	require.NoError(t, upsertQdrant(context.Background(), fake, "books", vectors, records))
	require.NotNil(t, fake.created)
	assert.Equal(t, uint64(2), fake.created.GetVectorsConfig().GetParams().GetSize())
	require.Len(t, fake.upserted, n)
	assert.Equal(t, uint64(n-1), fake.upserted[n-1].GetId().GetNum())

	err := upsertQdrant(context.Background(), fake, "books", vectors, records[:1])
	assert.Error(t, err)
}
