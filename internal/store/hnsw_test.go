package store

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *HNSWIndex {
	t.Helper()
	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func testDoc(noteID string, embedding []float32) *VectorDocument {
	return &VectorDocument{
		ID:        VectorDocIDForNote(noteID),
		Content:   "content of " + noteID,
		Embedding: embedding,
		Metadata: VectorMetadata{
			SchemaVersion: MetadataSchemaVersion,
			NoteID:        noteID,
			Title:         "title " + noteID,
			ContentType:   "note",
			UserID:        "user-1",
			ContentHash:   "hash-" + noteID,
			Model:         "static",
			CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestHNSWIndex_UpsertAndSearch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Given: three documents at different angles from the query
	docs := []*VectorDocument{
		testDoc("exact", []float32{1, 0, 0, 0}),
		testDoc("near", []float32{0.9, 0.1, 0, 0}),
		testDoc("orthogonal", []float32{0, 1, 0, 0}),
	}
	require.NoError(t, idx.Upsert(ctx, docs))

	// When: searching with the first document's direction
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then: the identical vector ranks first with score 1
	assert.Equal(t, "exact", results[0].NoteID)
	assert.Equal(t, "note:exact", results[0].DocID)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)

	// And: scores fall with angle and stay within [0, 1]
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, float32(0))
		assert.LessOrEqual(t, r.Score, float32(1))
	}

	// And: an orthogonal vector scores 0 under max(0, 1 - distance)
	assert.InDelta(t, 0.0, float64(results[2].Score), 1e-5)
}

func TestHNSWIndex_SearchEmptyIndex(t *testing.T) {
	idx := newTestIndex(t)

	results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndex_SearchZeroK(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{testDoc("a", []float32{1, 0, 0, 0})}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWIndex_DimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []*VectorDocument{testDoc("bad", []float32{1, 0})})
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})

	_, err = idx.Search(ctx, []float32{1, 0}, 5, nil)
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrDimensionMismatch{})
}

func TestHNSWIndex_UpsertReplacesExisting(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	doc := testDoc("n1", []float32{1, 0, 0, 0})
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{doc}))

	// Replace with new content and a new direction
	updated := testDoc("n1", []float32{0, 1, 0, 0})
	updated.Metadata.ContentHash = "hash-v2"
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{updated}))

	assert.Equal(t, 1, idx.Count())

	got, ok := idx.Get("note:n1")
	require.True(t, ok)
	assert.Equal(t, "hash-v2", got.Metadata.ContentHash)

	// The new direction is the one that matches
	results, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-5)
}

func TestHNSWIndex_Delete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{
		testDoc("keep", []float32{1, 0, 0, 0}),
		testDoc("drop", []float32{0.99, 0.01, 0, 0}),
	}))

	require.NoError(t, idx.Delete(ctx, []string{"note:drop"}))

	assert.False(t, idx.Contains("note:drop"))
	assert.True(t, idx.Contains("note:keep"))
	assert.Equal(t, 1, idx.Count())

	_, ok := idx.Get("note:drop")
	assert.False(t, ok)

	// Deleted documents never surface in results
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].NoteID)

	// Deleting an absent ID is not an error
	assert.NoError(t, idx.Delete(ctx, []string{"note:missing"}))
}

func TestHNSWIndex_StatsCountOrphans(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{testDoc("n1", []float32{1, 0, 0, 0})}))

	// Replacing leaves the old node in the graph as an orphan
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{testDoc("n1", []float32{0, 1, 0, 0})}))

	stats := idx.Stats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWIndex_FilterByUser(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mine := testDoc("mine", []float32{1, 0, 0, 0})
	theirs := testDoc("theirs", []float32{0.99, 0.01, 0, 0})
	theirs.Metadata.UserID = "user-2"
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{mine, theirs}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &SearchFilter{UserID: "user-2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "theirs", results[0].NoteID)
}

func TestHNSWIndex_FilterByContentType(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	fleeting := testDoc("fleeting", []float32{1, 0, 0, 0})
	fleeting.Metadata.ContentType = "fleeting"
	permanent := testDoc("permanent", []float32{0.99, 0.01, 0, 0})
	permanent.Metadata.ContentType = "permanent"
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{fleeting, permanent}))

	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &SearchFilter{ContentType: "permanent"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "permanent", results[0].NoteID)
}

func TestHNSWIndex_FilterByTags(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	tagged := testDoc("tagged", []float32{1, 0, 0, 0})
	tagged.Metadata.Tags = EncodeTags([]string{"project", "meeting"})
	other := testDoc("other", []float32{0.99, 0.01, 0, 0})
	other.Metadata.Tags = EncodeTags([]string{"personal"})
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{tagged, other}))

	// Tag filters intersect: any shared tag matches
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &SearchFilter{Tags: []string{"project", "missing"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tagged", results[0].NoteID)
}

func TestHNSWIndex_FilterByDateRange(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	old := testDoc("old", []float32{1, 0, 0, 0})
	old.Metadata.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := testDoc("recent", []float32{0.99, 0.01, 0, 0})
	recent.Metadata.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{old, recent}))

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2, &SearchFilter{After: &from})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recent", results[0].NoteID)
}

func TestHNSWIndex_Get_OmitsEmbedding(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{testDoc("n1", []float32{1, 0, 0, 0})}))

	got, ok := idx.Get("note:n1")
	require.True(t, ok)
	assert.Equal(t, "note:n1", got.ID)
	assert.Equal(t, "content of n1", got.Content)
	assert.Equal(t, "hash-n1", got.Metadata.ContentHash)
	// The graph owns the vectors; snapshots don't duplicate them
	assert.Nil(t, got.Embedding)
}

func TestHNSWIndex_AllIDs(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []*VectorDocument{
		testDoc("a", []float32{1, 0, 0, 0}),
		testDoc("b", []float32{0, 1, 0, 0}),
	}))

	assert.ElementsMatch(t, []string{"note:a", "note:b"}, idx.AllIDs())
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	ctx := context.Background()

	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)

	docs := []*VectorDocument{
		testDoc("a", []float32{1, 0, 0, 0}),
		testDoc("b", []float32{0, 1, 0, 0}),
	}
	require.NoError(t, idx.Upsert(ctx, docs))
	require.NoError(t, idx.Save(path))
	require.NoError(t, idx.Close())

	// Dimensions are readable without loading the whole graph
	dims, err := ReadHNSWIndexDimensions(path)
	require.NoError(t, err)
	assert.Equal(t, 4, dims)

	loaded, err := NewHNSWIndex(DefaultVectorIndexConfig(4))
	require.NoError(t, err)
	defer loaded.Close()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, 2, loaded.Count())

	got, ok := loaded.Get("note:a")
	require.True(t, ok)
	assert.Equal(t, "hash-a", got.Metadata.ContentHash)
	assert.Equal(t, "title a", got.Metadata.Title)

	results, err := loaded.Search(ctx, []float32{1, 0, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].NoteID)
}

func TestReadHNSWIndexDimensions_FreshStart(t *testing.T) {
	dims, err := ReadHNSWIndexDimensions(filepath.Join(t.TempDir(), "absent.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

// benchIndex builds an index of n pseudo-random unit vectors.
func benchIndex(b *testing.B, n, dims int) *HNSWIndex {
	b.Helper()

	idx, err := NewHNSWIndex(DefaultVectorIndexConfig(dims))
	require.NoError(b, err)
	b.Cleanup(func() { _ = idx.Close() })

	rng := rand.New(rand.NewSource(1))
	docs := make([]*VectorDocument, n)
	for i := 0; i < n; i++ {
		vec := make([]float32, dims)
		var norm float64
		for d := range vec {
			vec[d] = float32(rng.NormFloat64())
			norm += float64(vec[d]) * float64(vec[d])
		}
		scale := float32(1 / math.Sqrt(norm))
		for d := range vec {
			vec[d] *= scale
		}
		docs[i] = testDoc(fmt.Sprintf("note-%d", i), vec)
	}
	require.NoError(b, idx.Upsert(context.Background(), docs))
	return idx
}

func BenchmarkHNSWIndex_Search(b *testing.B) {
	const dims = 256
	for _, n := range []int{1000, 10000} {
		idx := benchIndex(b, n, dims)
		query := make([]float32, dims)
		query[0] = 1

		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Search(context.Background(), query, 20, nil); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
