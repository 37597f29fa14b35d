// Package vectorindex stores embedded documents partitioned by tenant and
// answers nearest-neighbour queries within one partition.
package vectorindex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// #region types

// Entry is one stored chunk. Entries are never mutated after Add.
type Entry struct {
	ID        string
	TenantID  string
	Embedding []float32
	Document  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Hit is a search result ranked by cosine similarity.
type Hit struct {
	ID       string
	Document string
	Metadata map[string]any
	Score    float64
}

// Index is a tenant-partitioned vector store.
type Index interface {
	Add(ctx context.Context, e Entry) error
	// AddBatch stores every entry or none of them.
	AddBatch(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, tenantID string, query []float32, k int) ([]Hit, error)
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
}

// #endregion types

// #region validation

func validateEntry(e Entry) error {
	if e.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if e.ID == "" {
		return errors.New("entry id is required")
	}
	if len(e.Embedding) == 0 {
		return errors.New("embedding cannot be empty")
	}
	return nil
}

func validateBatch(entries []Entry) error {
	for i, e := range entries {
		if err := validateEntry(e); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// #endregion validation

// #region encoding

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length: %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// #endregion encoding

// #region similarity

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankAndLimit sorts by score, keeping insertion order for ties.
func rankAndLimit(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if k > 0 && len(hits) > k {
		return hits[:k]
	}
	return hits
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// #endregion similarity
