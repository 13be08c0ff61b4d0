// Package store provides note persistence and keyword search (SQLite FTS5),
// the sync ledger, search history, and the vector index (HNSW).
// This is the persistence layer for both sides of the dual-store system.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SyncStatus is the ledger state of a note's vector-side copy.
type SyncStatus string

const (
	// StatusPending marks a note that needs (re-)synchronization.
	StatusPending SyncStatus = "pending"
	// StatusSyncing marks a note currently claimed by a sync worker.
	StatusSyncing SyncStatus = "syncing"
	// StatusSynced marks a note whose vector copy matches its content hash.
	StatusSynced SyncStatus = "synced"
	// StatusFailed marks a note whose last sync attempt failed.
	StatusFailed SyncStatus = "failed"
)

// State keys for the sync_state key-value table.
const (
	// StateKeyEmbeddingModel stores the embedding model the index was built with.
	StateKeyEmbeddingModel = "embedding_model"
	// StateKeyEmbeddingDimension stores the embedding dimension of the index.
	StateKeyEmbeddingDimension = "embedding_dimension"
	// StateKeyLastVerifyAt stores the timestamp of the last consistency check.
	StateKeyLastVerifyAt = "last_verify_at"
	// StateKeyLastSweepAt stores the timestamp of the last pending sweep.
	StateKeyLastSweepAt = "last_sweep_at"
)

// VectorDocIDPrefix namespaces vector document IDs derived from note IDs.
const VectorDocIDPrefix = "note:"

// VectorDocIDForNote returns the deterministic vector document ID for a note.
func VectorDocIDForNote(noteID string) string {
	return VectorDocIDPrefix + noteID
}

// NoteIDFromVectorDocID recovers the note ID from a vector document ID.
// Returns false for IDs that were not derived from a note.
func NoteIDFromVectorDocID(docID string) (string, bool) {
	if !strings.HasPrefix(docID, VectorDocIDPrefix) {
		return "", false
	}
	return strings.TrimPrefix(docID, VectorDocIDPrefix), true
}

// Note is the relational-side record. The Relational Store owns it; the
// vector side carries a denormalized snapshot that may lag briefly between
// a mutation and a successful sync.
type Note struct {
	ID          string
	Title       string
	Content     string
	Tags        []string
	ContentType string // note, fleeting, permanent, etc.
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerEntry tracks the sync state of one note.
type LedgerEntry struct {
	NoteID       string
	ContentHash  string
	Status       SyncStatus
	VectorDocID  string
	RetryCount   int
	LastError    string
	LastSyncedAt *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MetadataSchemaVersion is the current vector metadata layout version.
const MetadataSchemaVersion = 1

// VectorMetadata is the closed, versioned metadata snapshot stored with a
// vector document. All fields are flat scalars; tags are serialized with
// EncodeTags because vector indexes reject nested values.
type VectorMetadata struct {
	SchemaVersion int
	NoteID        string
	Title         string
	Tags          string // EncodeTags output
	ContentType   string
	UserID        string
	ContentHash   string
	Model         string // embedding model the document was built with
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// tagSeparator joins serialized tags. Unit separator never appears in
// user-visible tag text.
const tagSeparator = "\x1f"

// EncodeTags serializes a tag set into the flat metadata representation.
// Tags are sorted and de-duplicated so equal sets encode identically.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	seen := make(map[string]struct{}, len(tags))
	uniq := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		uniq = append(uniq, t)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, tagSeparator)
}

// DecodeTags deserializes an EncodeTags value back into a tag slice.
func DecodeTags(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, tagSeparator)
}

// VectorDocument is the vector-side record: an embedding, the note text it
// was computed from, and the metadata snapshot.
type VectorDocument struct {
	ID        string // VectorDocIDForNote(note.ID)
	Content   string
	Embedding []float32
	Metadata  VectorMetadata
}

// SearchHistoryEntry is one append-only search log record.
type SearchHistoryEntry struct {
	ID              string // UUID, assigned on save if empty
	UserID          string
	Query           string
	ResultsCount    int
	ExecutionTimeMS int64
	Timestamp       time.Time
}

// SearchFilter restricts search results. Zero-valued fields do not filter.
// user_id and content_type are exact matches; tags match when the note's
// tag set intersects the filter set; the date range is inclusive on note
// creation time.
type SearchFilter struct {
	UserID      string
	ContentType string
	Tags        []string
	After       *time.Time
	Before      *time.Time
}

// IsZero reports whether the filter restricts anything.
func (f *SearchFilter) IsZero() bool {
	return f == nil ||
		(f.UserID == "" && f.ContentType == "" && len(f.Tags) == 0 &&
			f.After == nil && f.Before == nil)
}

// MatchesTags reports whether the note tag set intersects the filter tags.
// An empty filter tag set matches everything.
func (f *SearchFilter) MatchesTags(noteTags []string) bool {
	if f == nil || len(f.Tags) == 0 {
		return true
	}
	want := make(map[string]struct{}, len(f.Tags))
	for _, t := range f.Tags {
		want[t] = struct{}{}
	}
	for _, t := range noteTags {
		if _, ok := want[t]; ok {
			return true
		}
	}
	return false
}

// MatchesTime reports whether the given creation time falls in the filter's
// inclusive date range.
func (f *SearchFilter) MatchesTime(t time.Time) bool {
	if f == nil {
		return true
	}
	if f.After != nil && t.Before(*f.After) {
		return false
	}
	if f.Before != nil && t.After(*f.Before) {
		return false
	}
	return true
}

// KeywordResult is a single relational-side text search hit. Score is the
// negated FTS5 bm25() value, so higher is better but unbounded; the search
// engine normalizes before fusion.
type KeywordResult struct {
	NoteID       string
	Score        float64
	MatchedTerms []string
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	NoteID   string
	DocID    string
	Distance float32 // cosine distance, lower is more similar
	Score    float32 // max(0, 1 - distance)
}

// NoteStore persists notes and serves keyword search over them.
type NoteStore interface {
	// SaveNote inserts or replaces a note and its text-index mirror.
	SaveNote(ctx context.Context, note *Note) error
	// GetNote returns the note, or (nil, nil) when absent.
	GetNote(ctx context.Context, id string) (*Note, error)
	// GetNotes batch-fetches notes; absent IDs are omitted.
	GetNotes(ctx context.Context, ids []string) (map[string]*Note, error)
	// DeleteNote removes a note and its text-index mirror.
	DeleteNote(ctx context.Context, id string) error
	// ListNotes pages notes ordered by ID. Pass the returned cursor to
	// continue; an empty cursor means done.
	ListNotes(ctx context.Context, cursor string, limit int) ([]*Note, string, error)
	// AllNoteIDs returns every note ID, for consistency checks.
	AllNoteIDs(ctx context.Context) ([]string, error)
	// CountNotes returns the number of stored notes.
	CountNotes(ctx context.Context) (int, error)
	// SearchKeyword runs a disjunctive full-text query with filters.
	SearchKeyword(ctx context.Context, query string, filter *SearchFilter, limit int) ([]*KeywordResult, error)
}

// LedgerStore persists sync ledger entries.
type LedgerStore interface {
	// EnsurePending creates a pending entry if none exists.
	EnsurePending(ctx context.Context, noteID string) error
	// MarkPending forces an entry back to pending (content changed).
	MarkPending(ctx context.Context, noteID string) error
	// TryMarkSyncing claims an entry for a sync attempt. Returns false when
	// the entry is absent or another worker already holds it.
	TryMarkSyncing(ctx context.Context, noteID string) (bool, error)
	// MarkSynced records a successful sync and resets the retry count.
	MarkSynced(ctx context.Context, noteID, contentHash, vectorDocID string) error
	// MarkFailed records a failed attempt and increments the retry count.
	MarkFailed(ctx context.Context, noteID, reason string) error
	// GetLedger returns the entry, or (nil, nil) when absent.
	GetLedger(ctx context.Context, noteID string) (*LedgerEntry, error)
	// DeleteLedger removes the entry for a deleted note.
	DeleteLedger(ctx context.Context, noteID string) error
	// ListByStatus returns entries in the given state, oldest first.
	ListByStatus(ctx context.Context, status SyncStatus, limit int) ([]*LedgerEntry, error)
	// ListCandidates returns entries eligible for a sweep: pending
	// entries, failed entries below the retry ceiling, and synced
	// entries whose note was updated after the last successful sync.
	ListCandidates(ctx context.Context, maxRetries, limit int) ([]*LedgerEntry, error)
	// ListRetryable returns failed entries below the retry ceiling.
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*LedgerEntry, error)
	// ResetStuckSyncing moves syncing entries back to pending. Called once
	// at startup; a live worker never survives a restart.
	ResetStuckSyncing(ctx context.Context) (int, error)
	// MarkAllStale moves every synced entry back to pending, used when
	// the embedding model changes and all vectors must be rebuilt.
	MarkAllStale(ctx context.Context) (int, error)
	// BackfillLedger inserts pending entries for notes with no ledger row.
	BackfillLedger(ctx context.Context) (int, error)
	// AllLedgerEntries returns every entry, for consistency checks.
	AllLedgerEntries(ctx context.Context) ([]*LedgerEntry, error)
	// CountByStatus returns entry counts per status.
	CountByStatus(ctx context.Context) (map[SyncStatus]int, error)
}

// HistoryStore persists the append-only search history.
type HistoryStore interface {
	SaveSearchHistory(ctx context.Context, entry *SearchHistoryEntry) error
	// GetSearchHistory returns recent entries, newest first. An empty
	// userID returns entries for all users.
	GetSearchHistory(ctx context.Context, userID string, limit int) ([]*SearchHistoryEntry, error)
}

// StateStore is a small key-value store for runtime state.
type StateStore interface {
	// GetState returns the value, or "" when the key is absent.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	// Dimensions is the embedding width, fixed per corpus.
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean).
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is HNSW build-time search width (default: 128)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorIndex provides nearest-neighbor search with metadata filtering.
type VectorIndex interface {
	// Upsert inserts documents, replacing any with the same ID.
	Upsert(ctx context.Context, docs []*VectorDocument) error

	// Search finds the k nearest documents to the query vector, after
	// applying the filter to each candidate's metadata snapshot.
	Search(ctx context.Context, query []float32, k int, filter *SearchFilter) ([]*VectorResult, error)

	// Delete removes documents by ID.
	Delete(ctx context.Context, ids []string) error

	// Get returns the stored document without its embedding, for
	// consistency checks.
	Get(id string) (*VectorDocument, bool)

	// AllIDs returns all document IDs in the index.
	AllIDs() []string

	// Contains checks if an ID exists.
	Contains(id string) bool

	// Count returns the number of live documents.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch, usually after
// an embedding model switch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
