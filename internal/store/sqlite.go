package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// SQLiteStore implements NoteStore, LedgerStore, HistoryStore, and
// StateStore on a single SQLite database. WAL mode allows the daemon and
// CLI to share the database across processes.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementations at compile time
var (
	_ NoteStore    = (*SQLiteStore)(nil)
	_ LedgerStore  = (*SQLiteStore)(nil)
	_ HistoryStore = (*SQLiteStore)(nil)
	_ StateStore   = (*SQLiteStore)(nil)
)

// validateIntegrity checks a SQLite database before opening.
// Unlike a derived index, notes are primary data: corruption is reported,
// never auto-cleared.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // Database doesn't exist, will be created
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	return nil
}

// NewSQLiteStore opens (or creates) the note database at path.
// If path is empty, an in-memory database is created for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		// In-memory store for testing
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if err := validateIntegrity(path); err != nil {
			slog.Error("note_database_corrupted",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil, fmt.Errorf("note database at %s failed validation: %w", path, err)
		}

		// WAL mode for concurrent access across processes
		// _busy_timeout handles lock contention gracefully
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	// IMPORTANT: Use modernc.org/sqlite driver (pure Go, no CGO)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for SQLite
	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Don't expire connections

	// Set pragmas via statements (DSN params may be ignored by modernc.org/sqlite)
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536", // 64MB cache (negative = KB)
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the notes, ledger, history, and state tables.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	-- Notes, the relational-side source of truth
	CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		content_type TEXT NOT NULL DEFAULT 'note',
		user_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_user ON notes(user_id);
	CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at);

	-- FTS5 mirror of note text for keyword search with BM25 scoring
	-- note_id is UNINDEXED (stored but not searchable)
	CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
		note_id UNINDEXED,
		title,
		content,
		tokenize='unicode61'
	);

	-- Sync ledger, one row per note
	CREATE TABLE IF NOT EXISTS sync_ledger (
		note_id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		vector_doc_id TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_synced_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_status ON sync_ledger(status);

	-- Append-only search history
	CREATE TABLE IF NOT EXISTS search_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL,
		results_count INTEGER NOT NULL DEFAULT 0,
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		timestamp TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_user_time
		ON search_history(user_id, timestamp DESC);

	-- Key-value store for runtime state (model pin, verify timestamps)
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB exposes the underlying connection for components that share the
// database, such as the telemetry store.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if s.db != nil {
		// Checkpoint before close to ensure durability
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// NoteStore
// =============================================================================

// SaveNote inserts or replaces a note and refreshes its FTS mirror.
func (s *SQLiteStore) SaveNote(ctx context.Context, note *Note) error {
	if note == nil || note.ID == "" {
		return fmt.Errorf("note ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	createdAt := note.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := note.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	tagsJSON, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notes (id, title, content, tags, content_type, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			tags = excluded.tags,
			content_type = excluded.content_type,
			user_id = excluded.user_id,
			updated_at = excluded.updated_at
	`, note.ID, note.Title, note.Content, string(tagsJSON), note.ContentType,
		note.UserID, createdAt.UTC(), updatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save note %s: %w", note.ID, err)
	}

	// Refresh FTS mirror (FTS5 doesn't support REPLACE, so delete first)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM notes_fts WHERE note_id = ?`, note.ID); err != nil {
		return fmt.Errorf("failed to clear FTS mirror for %s: %w", note.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes_fts (note_id, title, content) VALUES (?, ?, ?)`,
		note.ID, note.Title, note.Content); err != nil {
		return fmt.Errorf("failed to index note %s: %w", note.ID, err)
	}

	return tx.Commit()
}

// GetNote returns the note, or (nil, nil) when absent.
func (s *SQLiteStore) GetNote(ctx context.Context, id string) (*Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, tags, content_type, user_id, created_at, updated_at
		FROM notes WHERE id = ?
	`, id)

	note, err := scanNote(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return note, nil
}

// GetNotes batch-fetches notes by ID. Absent IDs are omitted from the map.
func (s *SQLiteStore) GetNotes(ctx context.Context, ids []string) (map[string]*Note, error) {
	result := make(map[string]*Note, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, title, content, tags, content_type, user_id, created_at, updated_at
		FROM notes WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		result[note.ID] = note
	}
	return result, rows.Err()
}

// DeleteNote removes a note and its FTS mirror. Deleting an absent note is
// not an error.
func (s *SQLiteStore) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM notes_fts WHERE note_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete FTS mirror for %s: %w", id, err)
	}

	return tx.Commit()
}

// ListNotes pages notes ordered by ID. The returned cursor is the last ID
// of the page; an empty cursor means no more pages.
func (s *SQLiteStore) ListNotes(ctx context.Context, cursor string, limit int) ([]*Note, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, "", fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, tags, content_type, user_id, created_at, updated_at
		FROM notes WHERE id > ? ORDER BY id LIMIT ?
	`, cursor, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(notes) > limit {
		notes = notes[:limit]
		nextCursor = notes[len(notes)-1].ID
	}
	return notes, nextCursor, nil
}

// AllNoteIDs returns every note ID, ordered. Used for consistency checks.
func (s *SQLiteStore) AllNoteIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query note IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountNotes returns the number of stored notes.
func (s *SQLiteStore) CountNotes(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

// SearchKeyword runs a disjunctive full-text query against the FTS mirror.
// user_id, content_type, and the date range are pushed into SQL; the tag
// filter is applied after the scan because tags live in a JSON column.
// Scores are negated bm25() values: higher is better, unbounded.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, query string, filter *SearchFilter, limit int) ([]*KeywordResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		return []*KeywordResult{}, nil
	}

	terms := strings.Fields(query)
	if len(terms) == 0 {
		return []*KeywordResult{}, nil
	}
	matchExpr := buildMatchQuery(terms)

	sqlQuery := `
		SELECT notes_fts.note_id, bm25(notes_fts) AS rank, n.tags
		FROM notes_fts
		JOIN notes n ON n.id = notes_fts.note_id
		WHERE notes_fts MATCH ?
	`
	args := []any{matchExpr}

	if filter != nil {
		if filter.UserID != "" {
			sqlQuery += " AND n.user_id = ?"
			args = append(args, filter.UserID)
		}
		if filter.ContentType != "" {
			sqlQuery += " AND n.content_type = ?"
			args = append(args, filter.ContentType)
		}
		if filter.After != nil {
			sqlQuery += " AND n.created_at >= ?"
			args = append(args, filter.After.UTC())
		}
		if filter.Before != nil {
			sqlQuery += " AND n.created_at <= ?"
			args = append(args, filter.Before.UTC())
		}
	}

	// FTS5 bm25() returns negative values where lower = better match
	sqlQuery += " ORDER BY rank LIMIT ?"

	// Over-fetch when a tag filter will drop rows after the scan
	fetchLimit := limit
	if filter != nil && len(filter.Tags) > 0 {
		fetchLimit = limit * 5
	}
	args = append(args, fetchLimit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 returns error for invalid match queries, treat as no results
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*KeywordResult{}, nil
		}
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var results []*KeywordResult
	for rows.Next() {
		var noteID, tagsJSON string
		var rank float64
		if err := rows.Scan(&noteID, &rank, &tagsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		if filter != nil && len(filter.Tags) > 0 {
			var tags []string
			if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
				continue
			}
			if !filter.MatchesTags(tags) {
				continue
			}
		}

		// Negate rank: FTS5 bm25() returns negative values
		results = append(results, &KeywordResult{
			NoteID:       noteID,
			Score:        -rank,
			MatchedTerms: terms,
		})
		if len(results) >= limit {
			break
		}
	}

	return results, rows.Err()
}

// buildMatchQuery builds a disjunctive FTS5 match expression: each term is
// quoted (so FTS operators in user input stay literal) and joined with OR.
func buildMatchQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// scanner abstracts sql.Row / sql.Rows for the shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var n Note
	var tagsJSON string
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &tagsJSON,
		&n.ContentType, &n.UserID, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &n.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", n.ID, err)
	}
	return &n, nil
}

// =============================================================================
// LedgerStore
// =============================================================================

// EnsurePending creates a pending ledger entry if none exists. An existing
// entry is left untouched, whatever its status.
func (s *SQLiteStore) EnsurePending(ctx context.Context, noteID string) error {
	if noteID == "" {
		return fmt.Errorf("note ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_ledger (note_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(note_id) DO NOTHING
	`, noteID, string(StatusPending), now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure ledger entry for %s: %w", noteID, err)
	}
	return nil
}

// MarkPending forces an entry back to pending, creating it if needed.
// Used when note content changes and the old sync result is stale.
func (s *SQLiteStore) MarkPending(ctx context.Context, noteID string) error {
	if noteID == "" {
		return fmt.Errorf("note ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_ledger (note_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(note_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, noteID, string(StatusPending), now, now)
	if err != nil {
		return fmt.Errorf("failed to mark %s pending: %w", noteID, err)
	}
	return nil
}

// TryMarkSyncing claims an entry for a sync attempt with a compare-and-set:
// the transition succeeds only when the entry exists and no other worker
// holds it. Returns false when the claim is lost.
func (s *SQLiteStore) TryMarkSyncing(ctx context.Context, noteID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger SET status = ?, updated_at = ?
		WHERE note_id = ? AND status != ?
	`, string(StatusSyncing), time.Now().UTC(), noteID, string(StatusSyncing))
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", noteID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n > 0, nil
}

// MarkSynced records a successful sync: hash and vector doc ID are pinned,
// the retry count resets, and the last error clears.
func (s *SQLiteStore) MarkSynced(ctx context.Context, noteID, contentHash, vectorDocID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger SET
			status = ?,
			content_hash = ?,
			vector_doc_id = ?,
			retry_count = 0,
			last_error = '',
			last_synced_at = ?,
			updated_at = ?
		WHERE note_id = ?
	`, string(StatusSynced), contentHash, vectorDocID, now, now, noteID)
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", noteID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no ledger entry for %s", noteID)
	}
	return nil
}

// MarkFailed records a failed attempt: the retry count increments and the
// reason is kept for diagnosis.
func (s *SQLiteStore) MarkFailed(ctx context.Context, noteID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger SET
			status = ?,
			retry_count = retry_count + 1,
			last_error = ?,
			updated_at = ?
		WHERE note_id = ?
	`, string(StatusFailed), reason, time.Now().UTC(), noteID)
	if err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", noteID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("no ledger entry for %s", noteID)
	}
	return nil
}

// GetLedger returns the ledger entry, or (nil, nil) when absent.
func (s *SQLiteStore) GetLedger(ctx context.Context, noteID string) (*LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	row := s.db.QueryRowContext(ctx, ledgerSelect+` WHERE note_id = ?`, noteID)
	entry, err := scanLedger(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %s: %w", noteID, err)
	}
	return entry, nil
}

// DeleteLedger removes the entry for a deleted note.
func (s *SQLiteStore) DeleteLedger(ctx context.Context, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_ledger WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("failed to delete ledger entry %s: %w", noteID, err)
	}
	return nil
}

// ListByStatus returns entries in the given state, oldest update first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status SyncStatus, limit int) ([]*LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx,
		ledgerSelect+` WHERE status = ? ORDER BY updated_at, note_id LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return collectLedger(rows)
}

// ListCandidates returns entries eligible for a sweep: everything pending,
// plus failed entries still below the retry ceiling.
func (s *SQLiteStore) ListCandidates(ctx context.Context, maxRetries, limit int) ([]*LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 1000
	}

	// Stale means the note row was updated after the last successful
	// sync, so a synced entry needs another pass. Entries whose note
	// is gone are not candidates; deletion cleanup handles those.
	rows, err := s.db.QueryContext(ctx, ledgerSelect+`
		WHERE status = ?
		   OR (status = ? AND retry_count < ?)
		   OR (status = ? AND EXISTS (
		         SELECT 1 FROM notes
		         WHERE notes.id = sync_ledger.note_id
		           AND (sync_ledger.last_synced_at IS NULL
		                OR notes.updated_at > sync_ledger.last_synced_at)))
		ORDER BY updated_at, note_id LIMIT ?
	`, string(StatusPending), string(StatusFailed), maxRetries, string(StatusSynced), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}
	return collectLedger(rows)
}

// ListRetryable returns failed entries below the retry ceiling, oldest
// update first.
func (s *SQLiteStore) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, ledgerSelect+`
		WHERE status = ? AND retry_count < ?
		ORDER BY updated_at, note_id LIMIT ?
	`, string(StatusFailed), maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable entries: %w", err)
	}
	return collectLedger(rows)
}

// ResetStuckSyncing moves syncing entries back to pending and returns the
// number reset. A worker cannot survive a restart, so anything still
// claiming the syncing state at startup crashed mid-flight.
func (s *SQLiteStore) ResetStuckSyncing(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger SET status = ?, updated_at = ?
		WHERE status = ?
	`, string(StatusPending), time.Now().UTC(), string(StatusSyncing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck entries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reset result: %w", err)
	}
	return int(n), nil
}

// MarkAllStale moves every synced entry back to pending and returns the
// number moved. Used when the embedding model changes: the stored
// content hashes cover the model name, so every vector must be rebuilt.
func (s *SQLiteStore) MarkAllStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_ledger SET status = ?, updated_at = ?
		WHERE status = ?
	`, string(StatusPending), time.Now().UTC(), string(StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to mark entries stale: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read stale result: %w", err)
	}
	return int(n), nil
}

// BackfillLedger inserts pending entries for notes with no ledger row and
// returns the number inserted. Keeps the ledger total over the note set
// after out-of-band imports.
func (s *SQLiteStore) BackfillLedger(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_ledger (note_id, status, created_at, updated_at)
		SELECT id, ?, ?, ? FROM notes
		WHERE id NOT IN (SELECT note_id FROM sync_ledger)
	`, string(StatusPending), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill ledger: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read backfill result: %w", err)
	}
	return int(n), nil
}

// AllLedgerEntries returns every entry, ordered by note ID. Used for
// consistency checks.
func (s *SQLiteStore) AllLedgerEntries(ctx context.Context) ([]*LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx, ledgerSelect+` ORDER BY note_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return collectLedger(rows)
}

// CountByStatus returns ledger entry counts per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[SyncStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM sync_ledger GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[SyncStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[SyncStatus(status)] = count
	}
	return counts, rows.Err()
}

const ledgerSelect = `
	SELECT note_id, content_hash, status, vector_doc_id, retry_count,
	       last_error, last_synced_at, created_at, updated_at
	FROM sync_ledger`

func scanLedger(row scanner) (*LedgerEntry, error) {
	var e LedgerEntry
	var status string
	var lastSynced sql.NullTime
	if err := row.Scan(&e.NoteID, &e.ContentHash, &status, &e.VectorDocID,
		&e.RetryCount, &e.LastError, &lastSynced, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = SyncStatus(status)
	if lastSynced.Valid {
		t := lastSynced.Time
		e.LastSyncedAt = &t
	}
	return &e, nil
}

func collectLedger(rows *sql.Rows) ([]*LedgerEntry, error) {
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		entry, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// HistoryStore
// =============================================================================

// SaveSearchHistory appends one history record. A missing ID gets a UUID;
// a zero timestamp gets the current time.
func (s *SQLiteStore) SaveSearchHistory(ctx context.Context, entry *SearchHistoryEntry) error {
	if entry == nil {
		return fmt.Errorf("history entry is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (id, user_id, query, results_count, execution_time_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, entry.UserID, entry.Query, entry.ResultsCount, entry.ExecutionTimeMS, ts.UTC())
	if err != nil {
		return fmt.Errorf("failed to save search history: %w", err)
	}

	entry.ID = id
	entry.Timestamp = ts
	return nil
}

// GetSearchHistory returns recent history, newest first. An empty userID
// returns entries for all users.
func (s *SQLiteStore) GetSearchHistory(ctx context.Context, userID string, limit int) ([]*SearchHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, query, results_count, execution_time_ms, timestamp
		FROM search_history
	`
	args := []any{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY timestamp DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	var entries []*SearchHistoryEntry
	for rows.Next() {
		var e SearchHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Query, &e.ResultsCount,
			&e.ExecutionTimeMS, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// =============================================================================
// StateStore
// =============================================================================

// GetState returns the value for a key, or "" when absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", fmt.Errorf("store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a key-value pair, replacing any existing value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}
