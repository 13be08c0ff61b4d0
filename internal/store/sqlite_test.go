package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testNote(id, title, content string, tags ...string) *Note {
	return &Note{
		ID:          id,
		Title:       title,
		Content:     content,
		Tags:        tags,
		ContentType: "note",
		UserID:      "user-1",
	}
}

// ============================================================================
// Note CRUD
// ============================================================================

func TestSQLiteStore_SaveAndGetNote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a note with tags
	note := testNote("n1", "Alpha notes", "Kickoff meeting notes", "project", "meeting")
	require.NoError(t, s.SaveNote(ctx, note))

	// When: reading it back
	got, err := s.GetNote(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Then: all fields survive
	assert.Equal(t, "Alpha notes", got.Title)
	assert.Equal(t, "Kickoff meeting notes", got.Content)
	assert.Equal(t, []string{"project", "meeting"}, got.Tags)
	assert.Equal(t, "note", got.ContentType)
	assert.Equal(t, "user-1", got.UserID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLiteStore_GetNote_AbsentReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetNote(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_SaveNote_RequiresID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveNote(context.Background(), &Note{}))
	assert.Error(t, s.SaveNote(context.Background(), nil))
}

func TestSQLiteStore_SaveNote_UpdateRefreshesTextIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: an indexed note
	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Original", "about databases")))

	// When: the note content changes
	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Updated", "about telescopes")))

	// Then: search finds the new content, not the old
	results, err := s.SearchKeyword(ctx, "telescopes", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].NoteID)

	results, err = s.SearchKeyword(ctx, "databases", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSQLiteStore_GetNotes_Batch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "One", "first")))
	require.NoError(t, s.SaveNote(ctx, testNote("n2", "Two", "second")))

	got, err := s.GetNotes(ctx, []string{"n1", "n2", "missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "One", got["n1"].Title)
	assert.Equal(t, "Two", got["n2"].Title)
	assert.NotContains(t, got, "missing")
}

func TestSQLiteStore_DeleteNote_RemovesTextIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Doomed", "ephemeral content")))
	require.NoError(t, s.DeleteNote(ctx, "n1"))

	got, err := s.GetNote(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := s.SearchKeyword(ctx, "ephemeral", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Deleting again is not an error
	assert.NoError(t, s.DeleteNote(ctx, "n1"))
}

func TestSQLiteStore_ListNotes_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("n%d", i)
		require.NoError(t, s.SaveNote(ctx, testNote(id, id, "content")))
	}

	// First page
	page1, cursor, err := s.ListNotes(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	// Second page continues after the cursor
	page2, cursor2, err := s.ListNotes(ctx, cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Greater(t, page2[0].ID, page1[1].ID)

	// Final page ends with an empty cursor
	page3, cursor3, err := s.ListNotes(ctx, cursor2, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
	assert.Empty(t, cursor3)
}

func TestSQLiteStore_AllNoteIDsAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("b", "B", "x")))
	require.NoError(t, s.SaveNote(ctx, testNote("a", "A", "x")))

	ids, err := s.AllNoteIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	count, err := s.CountNotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// ============================================================================
// Keyword search
// ============================================================================

func TestSQLiteStore_SearchKeyword_Basic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Alpha notes", "project kickoff")))
	require.NoError(t, s.SaveNote(ctx, testNote("n2", "Beta notes", "retro summary")))

	results, err := s.SearchKeyword(ctx, "alpha", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n1", results[0].NoteID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, []string{"alpha"}, results[0].MatchedTerms)
}

func TestSQLiteStore_SearchKeyword_DisjunctiveTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Alpha", "only alpha here")))
	require.NoError(t, s.SaveNote(ctx, testNote("n2", "Beta", "only beta here")))

	// Multi-term queries match notes containing any term
	results, err := s.SearchKeyword(ctx, "alpha beta", nil, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteStore_SearchKeyword_EmptyQueryReturnsNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Alpha", "content")))

	for _, q := range []string{"", "   ", "\t\n"} {
		results, err := s.SearchKeyword(ctx, q, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestSQLiteStore_SearchKeyword_OperatorInputStaysLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Alpha", "content")))

	// FTS5 operators in user input must not leak into query syntax
	for _, q := range []string{`alpha AND`, `NEAR(alpha`, `"alpha`, `alpha*`} {
		_, err := s.SearchKeyword(ctx, q, nil, 10)
		assert.NoError(t, err, "query %q should not error", q)
	}
}

func TestSQLiteStore_SearchKeyword_UserFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mine := testNote("n1", "Shared term", "alpha")
	theirs := testNote("n2", "Shared term", "alpha")
	theirs.UserID = "user-2"
	require.NoError(t, s.SaveNote(ctx, mine))
	require.NoError(t, s.SaveNote(ctx, theirs))

	results, err := s.SearchKeyword(ctx, "alpha", &SearchFilter{UserID: "user-2"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "n2", results[0].NoteID)
}

func TestSQLiteStore_SearchKeyword_TagFilterIsExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Tagged", "alpha", "x")))
	require.NoError(t, s.SaveNote(ctx, testNote("n2", "Tagged", "alpha", "y")))
	require.NoError(t, s.SaveNote(ctx, testNote("n3", "Tagged", "alpha", "x", "z")))

	// Tag filter returns exactly the notes carrying the tag
	results, err := s.SearchKeyword(ctx, "alpha", &SearchFilter{Tags: []string{"x"}}, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.NoteID)
	}
	assert.ElementsMatch(t, []string{"n1", "n3"}, ids)
}

func TestSQLiteStore_SearchKeyword_TagFilterIsUnion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Tagged", "alpha", "x")))
	require.NoError(t, s.SaveNote(ctx, testNote("n2", "Tagged", "alpha", "y")))
	require.NoError(t, s.SaveNote(ctx, testNote("n3", "Tagged", "alpha", "z")))

	// Multiple filter tags are OR, not AND
	results, err := s.SearchKeyword(ctx, "alpha", &SearchFilter{Tags: []string{"x", "y"}}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSQLiteStore_SearchKeyword_DateRangeInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n2", "n3"} {
		note := testNote(id, "Dated", "alpha")
		note.CreatedAt = base.AddDate(0, 0, i)
		note.UpdatedAt = note.CreatedAt
		require.NoError(t, s.SaveNote(ctx, note))
	}

	from := base.AddDate(0, 0, 1)
	to := base.AddDate(0, 0, 2)
	results, err := s.SearchKeyword(ctx, "alpha", &SearchFilter{After: &from, Before: &to}, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.NoteID)
	}
	assert.ElementsMatch(t, []string{"n2", "n3"}, ids)
}

func TestSQLiteStore_SearchKeyword_RespectsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.SaveNote(ctx, testNote(fmt.Sprintf("n%d", i), "Alpha", "alpha content")))
	}

	results, err := s.SearchKeyword(ctx, "alpha", nil, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

// ============================================================================
// Sync ledger
// ============================================================================

func TestSQLiteStore_EnsurePending_CreatesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))

	entry, err := s.GetLedger(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Nil(t, entry.LastSyncedAt)

	// A second call must not clobber an advanced status
	require.NoError(t, s.MarkSynced(ctx, "n1", "hash1", "note:n1"))
	require.NoError(t, s.EnsurePending(ctx, "n1"))

	entry, err = s.GetLedger(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, entry.Status)
}

func TestSQLiteStore_MarkPending_ForcesStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))
	require.NoError(t, s.MarkSynced(ctx, "n1", "hash1", "note:n1"))

	// Content changed: force back to pending
	require.NoError(t, s.MarkPending(ctx, "n1"))

	entry, err := s.GetLedger(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, entry.Status)
	// Hash from the last successful sync is retained for comparison
	assert.Equal(t, "hash1", entry.ContentHash)
}

func TestSQLiteStore_TryMarkSyncing_ClaimsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))

	// First claim wins
	ok, err := s.TryMarkSyncing(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses while the first holds the entry
	ok, err = s.TryMarkSyncing(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, ok)

	// After completion the entry can be claimed again
	require.NoError(t, s.MarkSynced(ctx, "n1", "h", "note:n1"))
	ok, err = s.TryMarkSyncing(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_TryMarkSyncing_AbsentEntryLoses(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.TryMarkSyncing(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_MarkSynced_ResetsRetryState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))
	require.NoError(t, s.MarkFailed(ctx, "n1", "provider unavailable"))
	require.NoError(t, s.MarkFailed(ctx, "n1", "provider unavailable"))

	require.NoError(t, s.MarkSynced(ctx, "n1", "hash-abc", "note:n1"))

	entry, err := s.GetLedger(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, entry.Status)
	assert.Equal(t, "hash-abc", entry.ContentHash)
	assert.Equal(t, "note:n1", entry.VectorDocID)
	assert.Equal(t, 0, entry.RetryCount)
	assert.Empty(t, entry.LastError)
	require.NotNil(t, entry.LastSyncedAt)
}

func TestSQLiteStore_MarkFailed_IncrementsRetryCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))

	// Three consecutive failures leave retry_count at exactly 3
	for i := 1; i <= 3; i++ {
		require.NoError(t, s.MarkFailed(ctx, "n1", "embed timeout"))
		entry, err := s.GetLedger(ctx, "n1")
		require.NoError(t, err)
		assert.Equal(t, i, entry.RetryCount)
		assert.Equal(t, StatusFailed, entry.Status)
		assert.Equal(t, "embed timeout", entry.LastError)
	}
}

func TestSQLiteStore_MarkSyncedAndFailed_RequireEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.MarkSynced(ctx, "missing", "h", "v"))
	assert.Error(t, s.MarkFailed(ctx, "missing", "reason"))
}

func TestSQLiteStore_ListCandidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// pending entry: candidate
	require.NoError(t, s.EnsurePending(ctx, "pending-1"))

	// failed below ceiling: candidate
	require.NoError(t, s.EnsurePending(ctx, "failed-low"))
	require.NoError(t, s.MarkFailed(ctx, "failed-low", "x"))

	// failed at ceiling: not a candidate
	require.NoError(t, s.EnsurePending(ctx, "failed-capped"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.MarkFailed(ctx, "failed-capped", "x"))
	}

	// synced: not a candidate
	require.NoError(t, s.EnsurePending(ctx, "done"))
	require.NoError(t, s.MarkSynced(ctx, "done", "h", "note:done"))

	candidates, err := s.ListCandidates(ctx, 3, 100)
	require.NoError(t, err)

	ids := make([]string, 0, len(candidates))
	for _, e := range candidates {
		ids = append(ids, e.NoteID)
	}
	assert.ElementsMatch(t, []string{"pending-1", "failed-low"}, ids)
}

func TestSQLiteStore_ListCandidates_IncludesStaleSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two synced notes
	for _, id := range []string{"fresh", "stale"} {
		require.NoError(t, s.SaveNote(ctx, testNote(id, "title", "content")))
		require.NoError(t, s.EnsurePending(ctx, id))
		require.NoError(t, s.MarkSynced(ctx, id, "h", "note:"+id))
	}

	// When: one note is updated after its sync
	updated := testNote("stale", "new title", "new content")
	updated.CreatedAt = time.Now().UTC()
	updated.UpdatedAt = time.Now().UTC().Add(2 * time.Second)
	require.NoError(t, s.SaveNote(ctx, updated))

	candidates, err := s.ListCandidates(ctx, 3, 100)
	require.NoError(t, err)

	// Then: only the updated note is a candidate again
	require.Len(t, candidates, 1)
	assert.Equal(t, "stale", candidates[0].NoteID)
	assert.Equal(t, StatusSynced, candidates[0].Status)
}

func TestSQLiteStore_MarkAllStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two synced entries, one failed, one pending
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, s.EnsurePending(ctx, id))
		require.NoError(t, s.MarkSynced(ctx, id, "h", "note:"+id))
	}
	require.NoError(t, s.EnsurePending(ctx, "f1"))
	require.NoError(t, s.MarkFailed(ctx, "f1", "x"))
	require.NoError(t, s.EnsurePending(ctx, "p1"))

	// When: all synced entries are invalidated
	n, err := s.MarkAllStale(ctx)
	require.NoError(t, err)

	// Then: only the synced entries moved back to pending
	assert.Equal(t, 2, n)
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[StatusPending])
	assert.Equal(t, 1, counts[StatusFailed])

	// And: the stored hash survives for change detection
	e, err := s.GetLedger(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "h", e.ContentHash)
}

func TestSQLiteStore_ListRetryable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "pending-1"))
	require.NoError(t, s.EnsurePending(ctx, "failed-1"))
	require.NoError(t, s.MarkFailed(ctx, "failed-1", "x"))

	entries, err := s.ListRetryable(ctx, 3, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "failed-1", entries[0].NoteID)
}

func TestSQLiteStore_ResetStuckSyncing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two entries stuck in syncing (simulating a crash) and one synced
	for _, id := range []string{"stuck-1", "stuck-2"} {
		require.NoError(t, s.EnsurePending(ctx, id))
		ok, err := s.TryMarkSyncing(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.EnsurePending(ctx, "done"))
	require.NoError(t, s.MarkSynced(ctx, "done", "h", "note:done"))

	// When: recovering at startup
	n, err := s.ResetStuckSyncing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Then: stuck entries are pending again, others untouched
	for _, id := range []string{"stuck-1", "stuck-2"} {
		entry, err := s.GetLedger(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, entry.Status)
	}
	entry, err := s.GetLedger(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, entry.Status)
}

func TestSQLiteStore_BackfillLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveNote(ctx, testNote("ledgered", "A", "x")))
	require.NoError(t, s.SaveNote(ctx, testNote("orphan-1", "B", "x")))
	require.NoError(t, s.SaveNote(ctx, testNote("orphan-2", "C", "x")))
	require.NoError(t, s.EnsurePending(ctx, "ledgered"))

	n, err := s.BackfillLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Idempotent: a second run finds nothing to do
	n, err = s.BackfillLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[StatusPending])
}

func TestSQLiteStore_DeleteLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsurePending(ctx, "n1"))
	require.NoError(t, s.DeleteLedger(ctx, "n1"))

	entry, err := s.GetLedger(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

// ============================================================================
// Search history
// ============================================================================

func TestSQLiteStore_SearchHistory_AppendAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &SearchHistoryEntry{
		UserID:          "user-1",
		Query:           "alpha",
		ResultsCount:    3,
		ExecutionTimeMS: 12,
	}
	require.NoError(t, s.SaveSearchHistory(ctx, entry))

	// ID and timestamp are assigned on save
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	got, err := s.GetSearchHistory(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alpha", got[0].Query)
	assert.Equal(t, 3, got[0].ResultsCount)
	assert.Equal(t, int64(12), got[0].ExecutionTimeMS)
}

func TestSQLiteStore_SearchHistory_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		require.NoError(t, s.SaveSearchHistory(ctx, &SearchHistoryEntry{
			UserID:    "user-1",
			Query:     q,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.GetSearchHistory(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].Query)
	assert.Equal(t, "second", got[1].Query)
}

func TestSQLiteStore_SearchHistory_FiltersByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSearchHistory(ctx, &SearchHistoryEntry{UserID: "user-1", Query: "mine"}))
	require.NoError(t, s.SaveSearchHistory(ctx, &SearchHistoryEntry{UserID: "user-2", Query: "theirs"}))

	got, err := s.GetSearchHistory(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mine", got[0].Query)

	// Empty user ID returns everything
	all, err := s.GetSearchHistory(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// ============================================================================
// State store
// ============================================================================

func TestSQLiteStore_State_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Missing key reads as empty
	v, err := s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "nomic-embed-text"))
	v, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", v)

	// Overwrite replaces
	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingModel, "all-minilm"))
	v, err = s.GetState(ctx, StateKeyEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "all-minilm", v)
}

// ============================================================================
// Persistence
// ============================================================================

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveNote(ctx, testNote("n1", "Persistent", "alpha content", "keep")))
	require.NoError(t, s.EnsurePending(ctx, "n1"))
	require.NoError(t, s.MarkSynced(ctx, "n1", "hash1", "note:n1"))
	require.NoError(t, s.Close())

	// Close is idempotent
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	note, err := reopened.GetNote(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, note)
	assert.Equal(t, "Persistent", note.Title)
	assert.Equal(t, []string{"keep"}, note.Tags)

	entry, err := reopened.GetLedger(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusSynced, entry.Status)
	assert.Equal(t, "hash1", entry.ContentHash)

	results, err := reopened.SearchKeyword(ctx, "alpha", nil, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// ============================================================================
// Tag encoding
// ============================================================================

func TestEncodeTags_SortsAndDeduplicates(t *testing.T) {
	// Equal sets encode identically regardless of order
	a := EncodeTags([]string{"zebra", "alpha", "mike"})
	b := EncodeTags([]string{"mike", "zebra", "alpha", "alpha"})
	assert.Equal(t, a, b)

	assert.Equal(t, []string{"alpha", "mike", "zebra"}, DecodeTags(a))
}

func TestEncodeTags_Empty(t *testing.T) {
	assert.Equal(t, "", EncodeTags(nil))
	assert.Equal(t, "", EncodeTags([]string{}))
	assert.Equal(t, "", EncodeTags([]string{"", "  "}))
	assert.Nil(t, DecodeTags(""))
}

func TestVectorDocID_RoundTrip(t *testing.T) {
	docID := VectorDocIDForNote("n1")
	assert.Equal(t, "note:n1", docID)

	noteID, ok := NoteIDFromVectorDocID(docID)
	assert.True(t, ok)
	assert.Equal(t, "n1", noteID)

	_, ok = NoteIDFromVectorDocID("stray-id")
	assert.False(t, ok)
}
