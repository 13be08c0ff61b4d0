// Package syncer keeps the relational note store and the vector index
// consistent. Every note mutation leaves a ledger entry; the
// Synchronizer drains those entries by embedding note content and
// writing vector documents, with hash gating to skip unchanged notes,
// a compare-and-swap claim so concurrent workers never double-sync, and
// a circuit breaker so a dead embedding provider fails fast.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mhcp0001/NescordBot-sub000/internal/embed"
	nberrors "github.com/mhcp0001/NescordBot-sub000/internal/errors"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// ErrNilDependency is returned by New when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Config tunes the synchronizer.
type Config struct {
	// Concurrency bounds parallel workers in a batch.
	Concurrency int

	// MaxRetries is the per-note retry ceiling before an entry needs
	// manual repair.
	MaxRetries int

	// OpTimeout bounds a single note sync.
	OpTimeout time.Duration

	// RetryBaseDelay seeds the failed-entry backoff schedule.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the failed-entry backoff schedule.
	RetryMaxDelay time.Duration

	// BreakerMaxFailures opens the provider circuit after this many
	// consecutive embedding failures.
	BreakerMaxFailures int

	// BreakerResetTimeout is how long the circuit stays open before the
	// next probe.
	BreakerResetTimeout time.Duration

	// SweepBatchSize bounds candidates fetched per sweep round.
	SweepBatchSize int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         4,
		MaxRetries:          3,
		OpTimeout:           30 * time.Second,
		RetryBaseDelay:      time.Second,
		RetryMaxDelay:       30 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
		SweepBatchSize:      256,
	}
}

// OutcomeStatus classifies the result of one note sync.
type OutcomeStatus string

const (
	// OutcomeSynced means a vector document was written and the ledger
	// updated.
	OutcomeSynced OutcomeStatus = "synced"

	// OutcomeAlreadySynced means content and metadata were already
	// current; no embedding call was made.
	OutcomeAlreadySynced OutcomeStatus = "already_synced"

	// OutcomeSkipped means another worker holds the entry, or backoff
	// has not elapsed yet.
	OutcomeSkipped OutcomeStatus = "skipped"

	// OutcomeUnavailable means the embedding provider was unreachable,
	// rate limited, or timed out. The entry will be retried.
	OutcomeUnavailable OutcomeStatus = "unavailable"

	// OutcomeFailed means the attempt failed and was recorded in the
	// ledger.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomeNotFound means the note does not exist.
	OutcomeNotFound OutcomeStatus = "not_found"
)

// Outcome reports one note's sync result. Failures are carried here and
// in the ledger; they are never raised as errors past the batch
// boundary.
type Outcome struct {
	NoteID string
	Status OutcomeStatus
	Reason string
	Err    error
}

// Summary aggregates outcomes for reporting.
type Summary struct {
	Synced        int
	AlreadySynced int
	Skipped       int
	Unavailable   int
	Failed        int
	NotFound      int
}

// Summarize counts outcomes by status.
func Summarize(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSynced:
			s.Synced++
		case OutcomeAlreadySynced:
			s.AlreadySynced++
		case OutcomeSkipped:
			s.Skipped++
		case OutcomeUnavailable:
			s.Unavailable++
		case OutcomeFailed:
			s.Failed++
		case OutcomeNotFound:
			s.NotFound++
		}
	}
	return s
}

// Total returns the number of outcomes summarized.
func (s Summary) Total() int {
	return s.Synced + s.AlreadySynced + s.Skipped + s.Unavailable + s.Failed + s.NotFound
}

// Synchronizer drives note-to-vector synchronization through the ledger.
type Synchronizer struct {
	notes    store.NoteStore
	ledger   store.LedgerStore
	state    store.StateStore
	index    store.VectorIndex
	embedder embed.Embedder
	config   Config
	breaker  *nberrors.CircuitBreaker
	logger   *slog.Logger
}

// New creates a synchronizer. Returns an error if any required
// dependency is nil. A nil logger falls back to slog.Default.
func New(
	notes store.NoteStore,
	ledger store.LedgerStore,
	state store.StateStore,
	index store.VectorIndex,
	embedder embed.Embedder,
	config Config,
	logger *slog.Logger,
) (*Synchronizer, error) {
	if notes == nil {
		return nil, fmt.Errorf("%w: note store is required", ErrNilDependency)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger store is required", ErrNilDependency)
	}
	if state == nil {
		return nil, fmt.Errorf("%w: state store is required", ErrNilDependency)
	}
	if index == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = def.RetryBaseDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = def.RetryMaxDelay
	}
	if config.BreakerMaxFailures <= 0 {
		config.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if config.BreakerResetTimeout <= 0 {
		config.BreakerResetTimeout = def.BreakerResetTimeout
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = def.SweepBatchSize
	}

	return &Synchronizer{
		notes:    notes,
		ledger:   ledger,
		state:    state,
		index:    index,
		embedder: embedder,
		config:   config,
		breaker: nberrors.NewCircuitBreaker("embedding",
			nberrors.WithMaxFailures(config.BreakerMaxFailures),
			nberrors.WithResetTimeout(config.BreakerResetTimeout)),
		logger: logger,
	}, nil
}

// BreakerState exposes the provider circuit state for status output.
func (s *Synchronizer) BreakerState() nberrors.State {
	return s.breaker.State()
}

// Recover resets entries left in syncing by a crashed process. Call
// once at startup, before any workers run; a live worker could
// otherwise lose its claim mid-flight.
func (s *Synchronizer) Recover(ctx context.Context) (int, error) {
	n, err := s.ledger.ResetStuckSyncing(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("reset ledger entries stuck in syncing", slog.Int("count", n))
	}
	return n, nil
}

// SyncNote brings one note's vector document in line with its
// relational row. Unchanged notes cost no embedding call, and the
// compare-and-swap claim keeps concurrent workers off the same entry.
func (s *Synchronizer) SyncNote(ctx context.Context, noteID string) Outcome {
	if s.config.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.OpTimeout)
		defer cancel()
	}

	note, err := s.notes.GetNote(ctx, noteID)
	if err != nil {
		return Outcome{NoteID: noteID, Status: OutcomeFailed, Reason: "load note", Err: err}
	}
	if note == nil {
		// The entry, if any, points at a note that no longer exists.
		// Drop it so sweeps stop selecting it. The vector document is
		// left alone; verification flags it for review.
		if err := s.ledger.DeleteLedger(ctx, noteID); err != nil {
			s.logger.Warn("failed to drop ledger entry for missing note",
				slog.String("note_id", noteID), slog.String("error", err.Error()))
		}
		return Outcome{NoteID: noteID, Status: OutcomeNotFound, Reason: "note does not exist"}
	}

	hash := ContentHash(note, s.embedder.ModelName())
	docID := store.VectorDocIDForNote(noteID)

	entry, err := s.ledger.GetLedger(ctx, noteID)
	if err != nil {
		return Outcome{NoteID: noteID, Status: OutcomeFailed, Reason: "read ledger", Err: err}
	}
	if entry == nil {
		if err := s.ledger.EnsurePending(ctx, noteID); err != nil {
			return Outcome{NoteID: noteID, Status: OutcomeFailed, Reason: "create ledger entry", Err: err}
		}
		entry = &store.LedgerEntry{NoteID: noteID, Status: store.StatusPending}
	}

	// Hash gate: unchanged content with a current vector document needs
	// nothing but a ledger refresh, which also drops the entry out of
	// the stale candidate set.
	if entry.ContentHash == hash && s.vectorCurrent(docID, note, hash) {
		if err := s.ledger.MarkSynced(ctx, noteID, hash, docID); err != nil {
			return Outcome{NoteID: noteID, Status: OutcomeFailed, Reason: "refresh ledger", Err: err}
		}
		return Outcome{NoteID: noteID, Status: OutcomeAlreadySynced, Reason: "content unchanged"}
	}

	claimed, err := s.ledger.TryMarkSyncing(ctx, noteID)
	if err != nil {
		return Outcome{NoteID: noteID, Status: OutcomeFailed, Reason: "claim entry", Err: err}
	}
	if !claimed {
		return Outcome{NoteID: noteID, Status: OutcomeSkipped, Reason: "another worker holds this entry"}
	}

	// The claim is held: every exit below must release it through
	// MarkSynced or MarkFailed.
	vec, err := s.embedNote(ctx, note)
	if err != nil {
		return s.recordFailure(ctx, noteID, "embed content", err)
	}

	doc := &store.VectorDocument{
		ID:        docID,
		Content:   embedText(note),
		Embedding: vec,
		Metadata: store.VectorMetadata{
			SchemaVersion: store.MetadataSchemaVersion,
			NoteID:        noteID,
			Title:         note.Title,
			Tags:          store.EncodeTags(note.Tags),
			ContentType:   note.ContentType,
			UserID:        note.UserID,
			ContentHash:   hash,
			Model:         s.embedder.ModelName(),
			CreatedAt:     note.CreatedAt,
			UpdatedAt:     note.UpdatedAt,
		},
	}
	if err := s.index.Upsert(ctx, []*store.VectorDocument{doc}); err != nil {
		return s.recordFailure(ctx, noteID, "write vector document", err)
	}

	if err := s.ledger.MarkSynced(ctx, noteID, hash, docID); err != nil {
		// The vector is written but the ledger is not. The entry stays
		// claimed until recovery resets it; the next attempt re-upserts
		// idempotently.
		return s.recordFailure(ctx, noteID, "mark synced", err)
	}

	s.logger.Debug("note synced",
		slog.String("note_id", noteID),
		slog.String("doc_id", docID))
	return Outcome{NoteID: noteID, Status: OutcomeSynced}
}

// SyncBatch syncs many notes with bounded concurrency. Outcomes land at
// the index of their input ID. Per-note failures never abort the batch;
// the returned error is only ever context cancellation.
func (s *Synchronizer) SyncBatch(ctx context.Context, noteIDs []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(noteIDs))
	if len(noteIDs) == 0 {
		return outcomes, nil
	}

	sem := semaphore.NewWeighted(int64(s.config.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range noteIDs {
		i, id := i, id
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i] = Outcome{NoteID: id, Status: OutcomeSkipped, Reason: "batch canceled", Err: err}
				return err
			}
			defer sem.Release(1)
			outcomes[i] = s.SyncNote(gctx, id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// SyncAllPending sweeps the ledger: it reacts to an embedding model
// switch, backfills entries for unledgered notes, then drains
// candidates in batches until none remain. Failed entries burn a retry
// per round and leave the candidate set at the ceiling, so the sweep
// terminates even with a dead provider.
func (s *Synchronizer) SyncAllPending(ctx context.Context) ([]Outcome, error) {
	return s.syncAllPending(ctx, nil)
}

// SyncAllPendingProgress is SyncAllPending with a per-outcome callback.
// fn runs on the sweeping goroutine after each batch completes, so it
// may touch the renderer without locking.
func (s *Synchronizer) SyncAllPendingProgress(ctx context.Context, fn func(Outcome)) ([]Outcome, error) {
	return s.syncAllPending(ctx, fn)
}

func (s *Synchronizer) syncAllPending(ctx context.Context, fn func(Outcome)) ([]Outcome, error) {
	if err := s.handleModelChange(ctx); err != nil {
		return nil, err
	}

	if n, err := s.ledger.BackfillLedger(ctx); err != nil {
		return nil, err
	} else if n > 0 {
		s.logger.Info("backfilled ledger entries for unledgered notes", slog.Int("count", n))
	}

	var all []Outcome
	for {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		entries, err := s.ledger.ListCandidates(ctx, s.config.MaxRetries, s.config.SweepBatchSize)
		if err != nil {
			return all, err
		}
		if len(entries) == 0 {
			return all, nil
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.NoteID
		}
		outcomes, err := s.SyncBatch(ctx, ids)
		all = append(all, outcomes...)
		if fn != nil {
			for _, o := range outcomes {
				fn(o)
			}
		}
		if err != nil {
			return all, err
		}
	}
}

// RetryFailed re-attempts failed entries whose backoff window has
// elapsed. The wait grows exponentially with the retry count, so a
// flapping provider is probed gently rather than hammered.
func (s *Synchronizer) RetryFailed(ctx context.Context) ([]Outcome, error) {
	entries, err := s.ledger.ListRetryable(ctx, s.config.MaxRetries, s.config.SweepBatchSize)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	backoff := nberrors.RetryConfig{
		MaxRetries:   s.config.MaxRetries,
		InitialDelay: s.config.RetryBaseDelay,
		MaxDelay:     s.config.RetryMaxDelay,
		Multiplier:   2.0,
	}

	now := time.Now().UTC()
	var due []string
	var waiting []Outcome
	for _, e := range entries {
		// The first retry is attempt zero of the schedule.
		wait := backoff.BackoffDelay(e.RetryCount - 1)
		readyAt := e.UpdatedAt.Add(wait)
		if readyAt.After(now) {
			waiting = append(waiting, Outcome{
				NoteID: e.NoteID,
				Status: OutcomeSkipped,
				Reason: fmt.Sprintf("in backoff for %s", readyAt.Sub(now).Round(time.Second)),
			})
			continue
		}
		due = append(due, e.NoteID)
	}

	outcomes, err := s.SyncBatch(ctx, due)
	return append(outcomes, waiting...), err
}

// OnNoteDeleted cleans up after a note removal: the vector document and
// the ledger entry go away with it. Both deletes tolerate absence; the
// note may never have been synced.
func (s *Synchronizer) OnNoteDeleted(ctx context.Context, noteID string) error {
	docID := store.VectorDocIDForNote(noteID)
	if err := s.index.Delete(ctx, []string{docID}); err != nil {
		return fmt.Errorf("delete vector document %s: %w", docID, err)
	}
	if err := s.ledger.DeleteLedger(ctx, noteID); err != nil {
		return fmt.Errorf("delete ledger entry %s: %w", noteID, err)
	}
	return nil
}

// vectorCurrent reports whether the stored vector document matches the
// note. The content hash covers title, content, tags, and model; user,
// content type, and creation time live only in the metadata snapshot,
// so they are compared directly.
func (s *Synchronizer) vectorCurrent(docID string, note *store.Note, hash string) bool {
	doc, ok := s.index.Get(docID)
	if !ok {
		return false
	}
	m := doc.Metadata
	return m.ContentHash == hash &&
		m.UserID == note.UserID &&
		m.ContentType == note.ContentType &&
		m.CreatedAt.Equal(note.CreatedAt)
}

// embedNote runs the embedding through the circuit breaker so a dead
// provider fails fast instead of burning a timeout per note.
func (s *Synchronizer) embedNote(ctx context.Context, note *store.Note) ([]float32, error) {
	return nberrors.CircuitExecuteWithResult(s.breaker,
		func() ([]float32, error) {
			return s.embedder.Embed(ctx, embedText(note))
		},
		func() ([]float32, error) {
			return nil, nberrors.ErrCircuitOpen
		})
}

// recordFailure releases the claim by marking the entry failed, then
// maps the error onto an outcome. Provider trouble reports as
// unavailable so callers know a retry will help.
func (s *Synchronizer) recordFailure(ctx context.Context, noteID, stage string, cause error) Outcome {
	reason := fmt.Sprintf("%s: %v", stage, cause)

	// Bookkeeping must survive an exhausted op deadline.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ledger.MarkFailed(wctx, noteID, reason); err != nil {
		s.logger.Error("failed to record sync failure",
			slog.String("note_id", noteID), slog.String("error", err.Error()))
	}

	status := OutcomeFailed
	if errors.Is(cause, nberrors.ErrCircuitOpen) ||
		nberrors.IsUnavailable(cause) ||
		nberrors.IsRateLimited(cause) ||
		nberrors.IsTimeout(cause) {
		status = OutcomeUnavailable
	}

	s.logger.Warn("note sync failed",
		slog.String("note_id", noteID),
		slog.String("status", string(status)),
		slog.String("error", reason))
	return Outcome{NoteID: noteID, Status: status, Reason: reason, Err: cause}
}

// handleModelChange invalidates every synced entry when the embedding
// model differs from the one recorded in sync state. Stored hashes
// cover the model name, so the invalidated entries re-embed under the
// new model on the next sweep.
func (s *Synchronizer) handleModelChange(ctx context.Context) error {
	current := s.embedder.ModelName()
	stored, err := s.state.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		return err
	}
	if stored == current {
		return nil
	}
	if stored != "" {
		n, err := s.ledger.MarkAllStale(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("embedding model changed, invalidating synced entries",
			slog.String("from", stored),
			slog.String("to", current),
			slog.Int("count", n))
	}
	if err := s.state.SetState(ctx, store.StateKeyEmbeddingModel, current); err != nil {
		return err
	}
	return s.state.SetState(ctx, store.StateKeyEmbeddingDimension,
		strconv.Itoa(s.embedder.Dimensions()))
}

// embedText is the text sent to the embedder: title and body together,
// so short titles still contribute signal.
func embedText(note *store.Note) string {
	if strings.TrimSpace(note.Title) == "" {
		return note.Content
	}
	return note.Title + "\n\n" + note.Content
}
