package index

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// qdrantScheme prefixes shard locations served by Qdrant, for example
// qdrant://localhost:6334/books_text.
const qdrantScheme = "qdrant://"

// OpenOptions tunes shard construction.
type OpenOptions struct {
	// EfSearch is the HNSW search-time candidate list size.
	EfSearch int
	// QdrantAPIKey authenticates qdrant:// shards.
	QdrantAPIKey string
	// QdrantTLS enables TLS for qdrant:// shards.
	QdrantTLS bool
}

// Open returns an unloaded shard for location. A qdrant:// URL selects a
// Qdrant collection; a directory is inspected for index.hnsw and then
// vectors.f32.
func Open(location string, modality Modality, opts OpenOptions) (Shard, error) {
	if IsQdrantLocation(location) {
		cfg, err := ParseQdrantLocation(location)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = opts.QdrantAPIKey
		cfg.UseTLS = opts.QdrantTLS
		return NewQdrantShard(cfg, modality), nil
	}

	if fileExists(filepath.Join(location, HNSWFile)) {
		return NewHNSWShard(location, modality, opts.EfSearch), nil
	}
	if fileExists(filepath.Join(location, FlatFile)) {
		return NewFlatShard(location, modality), nil
	}
	return nil, &NotFoundError{Artifact: "index", Path: location}
}

// OpenComposite opens and loads every location into one composite. Shards
// already loaded are closed when a later one fails.
func OpenComposite(ctx context.Context, modality Modality, locations []string, opts OpenOptions) (*Composite, error) {
	shards := make([]Shard, 0, len(locations))
	for _, loc := range locations {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			continue
		}
		s, err := Open(loc, modality, opts)
		if err != nil {
			closeAll(shards)
			return nil, err
		}
		if err := s.Load(ctx); err != nil {
			closeAll(shards)
			return nil, fmt.Errorf("index: load %s: %w", loc, err)
		}
		shards = append(shards, s)
	}
	return NewComposite(modality, shards...)
}

// SplitLocations splits a comma-separated shard list.
func SplitLocations(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsQdrantLocation reports whether location names a Qdrant collection.
func IsQdrantLocation(location string) bool {
	return strings.HasPrefix(location, qdrantScheme)
}

// ParseQdrantLocation parses qdrant://host[:port]/collection.
func ParseQdrantLocation(location string) (QdrantConfig, error) {
	u, err := url.Parse(location)
	if err != nil {
		return QdrantConfig{}, fmt.Errorf("index: parse %q: %w", location, err)
	}
	collection := strings.Trim(u.Path, "/")
	if collection == "" {
		return QdrantConfig{}, fmt.Errorf("index: %q: missing collection name", location)
	}
	cfg := QdrantConfig{Host: u.Hostname(), Collection: collection}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return QdrantConfig{}, fmt.Errorf("index: %q: invalid port: %w", location, err)
		}
		cfg.Port = port
	}
	return cfg.withDefaults(), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func closeAll(shards []Shard) {
	for _, s := range shards {
		_ = s.Close()
	}
}
