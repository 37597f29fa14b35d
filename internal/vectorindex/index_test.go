package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// indexes returns one instance of every Index implementation.
func indexes(t *testing.T) map[string]Index {
	t.Helper()
	sqliteIdx, err := NewSQLiteIndex(newTestDB(t))
	require.NoError(t, err)
	return map[string]Index{
		"sqlite": sqliteIdx,
		"memory": NewMemoryIndex(),
	}
}

// #region search

func TestIndex_SearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, Entry{ID: "a", TenantID: "s1", Embedding: []float32{1, 0}, Document: "smoke"}))
			require.NoError(t, idx.Add(ctx, Entry{ID: "b", TenantID: "s1", Embedding: []float32{0, 1}, Document: "flood"}))
			require.NoError(t, idx.Add(ctx, Entry{ID: "c", TenantID: "s1", Embedding: []float32{1, 1}, Document: "both"}))

			hits, err := idx.Search(ctx, "s1", []float32{1, 0.1}, 2)
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, "a", hits[0].ID)
			assert.Equal(t, "c", hits[1].ID)
			assert.Greater(t, hits[0].Score, hits[1].Score)
		})
	}
}

func TestIndex_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, Entry{ID: "x1", TenantID: "store-x", Embedding: []float32{1, 0}, Document: "x policy"}))
			require.NoError(t, idx.Add(ctx, Entry{ID: "y1", TenantID: "store-y", Embedding: []float32{1, 0}, Document: "y policy"}))

			hits, err := idx.Search(ctx, "store-x", []float32{1, 0}, 10)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "x policy", hits[0].Document)

			hits, err = idx.Search(ctx, "store-z", []float32{1, 0}, 10)
			require.NoError(t, err)
			assert.Empty(t, hits)

			hits, err = idx.Search(ctx, "", []float32{1, 0}, 10)
			require.NoError(t, err)
			assert.Empty(t, hits)
		})
	}
}

func TestIndex_SkipsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, idx.Add(ctx, Entry{ID: "two", TenantID: "s1", Embedding: []float32{1, 0}, Document: "2d"}))
			require.NoError(t, idx.Add(ctx, Entry{ID: "three", TenantID: "s1", Embedding: []float32{1, 0, 0}, Document: "3d"}))

			hits, err := idx.Search(ctx, "s1", []float32{1, 0, 0}, 10)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "three", hits[0].ID)
		})
	}
}

func TestIndex_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			meta := map[string]any{"source": "policy", "severity": 4}
			require.NoError(t, idx.Add(ctx, Entry{ID: "m", TenantID: "s1", Embedding: []float32{1}, Document: "d", Metadata: meta}))

			hits, err := idx.Search(ctx, "s1", []float32{1}, 1)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, "policy", hits[0].Metadata["source"])
			sev, ok := hits[0].Metadata["severity"]
			require.True(t, ok)
			assert.EqualValues(t, 4, toFloat(sev))
		})
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case float64:
		return n
	}
	return math.NaN()
}

// #endregion search

// #region validation

func TestIndex_AddRejectsInvalidEntries(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, idx.Add(ctx, Entry{ID: "a", Embedding: []float32{1}}))
			assert.Error(t, idx.Add(ctx, Entry{TenantID: "s1", Embedding: []float32{1}}))
			assert.Error(t, idx.Add(ctx, Entry{ID: "a", TenantID: "s1"}))
		})
	}
}

func TestIndex_AddBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			err := idx.AddBatch(ctx, []Entry{
				{ID: "a", TenantID: "s1", Embedding: []float32{1, 0}, Document: "first"},
				{ID: "b", TenantID: "s1", Document: "no vector"},
			})
			assert.Error(t, err)
			hits, err := idx.Search(ctx, "s1", []float32{1, 0}, 0)
			require.NoError(t, err)
			assert.Empty(t, hits)

			require.NoError(t, idx.AddBatch(ctx, []Entry{
				{ID: "c", TenantID: "s1", Embedding: []float32{1, 0}, Document: "one"},
				{ID: "d", TenantID: "s2", Embedding: []float32{1, 0}, Document: "two"},
			}))
			hits, err = idx.Search(ctx, "s1", []float32{1, 0}, 0)
			require.NoError(t, err)
			assert.Len(t, hits, 1)
		})
	}
}

func TestSQLiteIndex_AddBatchRollsBack(t *testing.T) {
	ctx := context.Background()
	idx, err := NewSQLiteIndex(newTestDB(t))
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, Entry{ID: "taken", TenantID: "s1", Embedding: []float32{1}, Document: "existing"}))

	err = idx.AddBatch(ctx, []Entry{
		{ID: "fresh", TenantID: "s1", Embedding: []float32{1}, Document: "new"},
		{ID: "taken", TenantID: "s1", Embedding: []float32{1}, Document: "duplicate"},
	})
	assert.Error(t, err)
	n, err := idx.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// #endregion validation

// #region delete

func TestIndex_DeleteTenant(t *testing.T) {
	ctx := context.Background()
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.NoError(t, idx.Add(ctx, Entry{ID: fmt.Sprintf("a%d", i), TenantID: "s1", Embedding: []float32{1, 0}, Document: "a"}))
			}
			require.NoError(t, idx.Add(ctx, Entry{ID: "b0", TenantID: "s2", Embedding: []float32{1, 0}, Document: "b"}))

			n, err := idx.DeleteTenant(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			hits, err := idx.Search(ctx, "s1", []float32{1, 0}, 10)
			require.NoError(t, err)
			assert.Empty(t, hits)

			hits, err = idx.Search(ctx, "s2", []float32{1, 0}, 10)
			require.NoError(t, err)
			assert.Len(t, hits, 1)

			n, err = idx.DeleteTenant(ctx, "missing")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

// #endregion delete

// #region concurrency

func TestIndex_ConcurrentAppendsSameTenant(t *testing.T) {
	ctx := context.Background()
	const writers = 8
	const perWriter = 10
	for name, idx := range indexes(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, writers*perWriter)
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						id := fmt.Sprintf("w%d-%d", w, i)
						errs <- idx.Add(ctx, Entry{ID: id, TenantID: "busy", Embedding: []float32{1, float32(i)}, Document: id})
					}
				}(w)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			hits, err := idx.Search(ctx, "busy", []float32{1, 1}, 0)
			require.NoError(t, err)
			assert.Len(t, hits, writers*perWriter)
		})
	}
}

// #endregion concurrency

// #region encoding

func TestEmbeddingEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi)}
	out, err := decodeEmbedding(encodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

// #endregion encoding
