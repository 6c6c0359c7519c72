package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant-backed shard.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection holding one modality's vectors. Point ids
	// are the metadata row positions and payloads carry the metadata row.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// withDefaults fills unset connection fields.
func (c QdrantConfig) withDefaults() QdrantConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	return c
}

// qdrantAPI is the subset of *qdrant.Client used by this package, narrowed
// so tests can substitute a fake.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// dialQdrant opens a gRPC client for cfg.
func dialQdrant(cfg QdrantConfig) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant: failed to create client: %w", err)
	}
	return client, nil
}

// QdrantShard is a remote shard served by a Qdrant collection using cosine
// distance. Qdrant scores are similarities already, so they pass through.
type QdrantShard struct {
	// cfg is the resolved connection configuration.
	cfg QdrantConfig
	// modality is the embedding space of the collection.
	modality Modality

	// mu guards client, count and dims.
	mu sync.RWMutex
	// client is the gRPC client. Nil until Load succeeds.
	client qdrantAPI
	// count is the exact point count observed at load time.
	count int
	// dims is the collection vector size, or 0 for named-vector collections.
	dims int
}

// NewQdrantShard returns an unloaded shard for the given collection.
func NewQdrantShard(cfg QdrantConfig, modality Modality) *QdrantShard {
	return &QdrantShard{cfg: cfg.withDefaults(), modality: modality}
}

// Name returns the collection name.
func (s *QdrantShard) Name() string { return s.cfg.Collection }

// Modality returns the embedding space of the collection.
func (s *QdrantShard) Modality() Modality { return s.modality }

// Load connects and verifies that the collection exists.
func (s *QdrantShard) Load(ctx context.Context) error {
	client, err := dialQdrant(s.cfg)
	if err != nil {
		return err
	}
	if err := s.attach(ctx, client); err != nil {
		client.Close()
		return err
	}
	return nil
}

// attach binds an already-open client and records collection stats.
func (s *QdrantShard) attach(ctx context.Context, client qdrantAPI) error {
	exists, err := client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("index: qdrant: failed to check collection existence: %w", err)
	}
	if !exists {
		return &NotFoundError{Artifact: "collection", Path: s.cfg.Collection}
	}

	exact := true
	count, err := client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          &exact,
	})
	if err != nil {
		return fmt.Errorf("index: qdrant: count %q: %w", s.cfg.Collection, err)
	}

	var dims int
	if info, err := client.GetCollectionInfo(ctx, s.cfg.Collection); err == nil {
		dims = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	}

	s.mu.Lock()
	s.client = client
	s.count = int(count)
	s.dims = dims
	s.mu.Unlock()
	return nil
}

// Search runs a nearest-neighbour query and converts payloads to records.
func (s *QdrantShard) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	client, dims := s.client, s.dims
	s.mu.RUnlock()

	if client == nil {
		return nil, ErrNotLoaded
	}
	if dims > 0 && len(vec) != dims {
		return nil, &DimensionError{Expected: dims, Got: len(vec)}
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	limit := uint64(k)
	results, err := client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("index: qdrant: search %q failed: %w", s.cfg.Collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			Position: int64(r.GetId().GetNum()),
			Score:    r.GetScore(),
			Rank:     len(hits) + 1,
			Source:   s.modality,
			Shard:    s.Name(),
			Metadata: payloadToRecord(r.GetPayload()),
		})
	}
	return hits, nil
}

// Ping reports whether the Qdrant server answers a health check.
func (s *QdrantShard) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return ErrNotLoaded
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("index: qdrant: health check: %w", err)
	}
	return nil
}

// Count returns the point count observed at load time.
func (s *QdrantShard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Dims returns the collection vector size.
func (s *QdrantShard) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Close closes the gRPC connection.
func (s *QdrantShard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// payloadToRecord converts a Qdrant payload into a Record.
func payloadToRecord(payload map[string]*qdrant.Value) Record {
	rec := make(Record, len(payload))
	for k, v := range payload {
		if val := qdrantValue(v); val != nil {
			rec[k] = val
		}
	}
	return rec
}

// qdrantValue maps a Qdrant payload value to a plain Go value.
func qdrantValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]any, 0, len(values))
		for _, item := range values {
			out = append(out, qdrantValue(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, item := range fields {
			out[name] = qdrantValue(item)
		}
		return out
	default:
		return nil
	}
}

var _ Shard = (*QdrantShard)(nil)
