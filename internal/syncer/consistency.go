package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// InconsistencyKind classifies a divergence between the relational
// store and the vector index.
type InconsistencyKind int

const (
	// KindMissingVector: a note has no vector document.
	KindMissingVector InconsistencyKind = iota
	// KindHashMismatch: the vector document's content hash or metadata
	// snapshot disagrees with the note.
	KindHashMismatch
	// KindMissingRelational: a vector document has no relational note.
	KindMissingRelational
)

func (k InconsistencyKind) String() string {
	switch k {
	case KindMissingVector:
		return "missing_vector"
	case KindHashMismatch:
		return "hash_mismatch"
	case KindMissingRelational:
		return "missing_relational"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected divergence.
type Inconsistency struct {
	Kind   InconsistencyKind `json:"kind"`
	NoteID string            `json:"note_id,omitempty"`
	DocID  string            `json:"doc_id"`
	Detail string            `json:"detail"`
}

// ConsistencyReport summarizes one full verification pass. Reports are
// ephemeral: they are recomputed on demand and never persisted.
type ConsistencyReport struct {
	CheckedNotes    int             `json:"checked_notes"`
	CheckedDocs     int             `json:"checked_docs"`
	Consistent      int             `json:"consistent"`
	Inconsistencies []Inconsistency `json:"inconsistencies,omitempty"`
	Duration        time.Duration   `json:"duration"`
	CheckedAt       time.Time       `json:"checked_at"`
}

// IsClean reports whether the two stores fully agree.
func (r *ConsistencyReport) IsClean() bool {
	return len(r.Inconsistencies) == 0
}

// Count returns the number of inconsistencies of the given kind.
func (r *ConsistencyReport) Count(kind InconsistencyKind) int {
	n := 0
	for _, inc := range r.Inconsistencies {
		if inc.Kind == kind {
			n++
		}
	}
	return n
}

func (r *ConsistencyReport) add(kind InconsistencyKind, noteID, docID, detail string) {
	r.Inconsistencies = append(r.Inconsistencies, Inconsistency{
		Kind:   kind,
		NoteID: noteID,
		DocID:  docID,
		Detail: detail,
	})
}

// verifyBatchSize bounds how many notes one GetNotes call fetches
// during verification.
const verifyBatchSize = 256

// VerifyConsistency walks every note and every vector document and
// reports where the two sides disagree. The check is advisory: notes
// touched while it runs may be reported stale even though the syncer
// will catch them on its next pass.
func (s *Synchronizer) VerifyConsistency(ctx context.Context) (*ConsistencyReport, error) {
	start := time.Now()
	report := &ConsistencyReport{CheckedAt: start.UTC()}

	noteIDs, err := s.notes.AllNoteIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list note ids: %w", err)
	}

	model := s.embedder.ModelName()
	noteSet := make(map[string]struct{}, len(noteIDs))

	for lo := 0; lo < len(noteIDs); lo += verifyBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+verifyBatchSize, len(noteIDs))
		batch, err := s.notes.GetNotes(ctx, noteIDs[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("fetch notes: %w", err)
		}
		for _, id := range noteIDs[lo:hi] {
			note, ok := batch[id]
			if !ok {
				// Deleted between AllNoteIDs and GetNotes.
				continue
			}
			report.CheckedNotes++
			noteSet[id] = struct{}{}

			docID := store.VectorDocIDForNote(id)
			doc, ok := s.index.Get(docID)
			if !ok {
				report.add(KindMissingVector, id, docID, "no vector document")
				continue
			}
			if detail := describeDivergence(doc, note, ContentHash(note, model)); detail != "" {
				report.add(KindHashMismatch, id, docID, detail)
				continue
			}
			report.Consistent++
		}
	}

	// Orphan scan: vector documents whose relational note is gone.
	docIDs := s.index.AllIDs()
	report.CheckedDocs = len(docIDs)
	for _, docID := range docIDs {
		noteID, ok := store.NoteIDFromVectorDocID(docID)
		if !ok {
			report.add(KindMissingRelational, "", docID, "document ID not derived from a note")
			continue
		}
		if _, exists := noteSet[noteID]; !exists {
			report.add(KindMissingRelational, noteID, docID, "vector document without relational note")
		}
	}

	report.Duration = time.Since(start)
	s.logger.Info("consistency check finished",
		slog.Int("checked_notes", report.CheckedNotes),
		slog.Int("checked_docs", report.CheckedDocs),
		slog.Int("consistent", report.Consistent),
		slog.Int("inconsistencies", len(report.Inconsistencies)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// describeDivergence returns what differs between the stored document
// and the note, or "" when they agree. The hash covers title, content,
// and tags; the remaining fields are compared from the metadata
// snapshot because they do not feed the hash.
func describeDivergence(doc *store.VectorDocument, note *store.Note, hash string) string {
	m := doc.Metadata
	switch {
	case m.ContentHash != hash:
		return "content hash mismatch"
	case m.Title != note.Title:
		return "title snapshot stale"
	case m.Tags != store.EncodeTags(note.Tags):
		return "tags snapshot stale"
	case m.UserID != note.UserID:
		return "user snapshot stale"
	case m.ContentType != note.ContentType:
		return "content type snapshot stale"
	case !m.CreatedAt.Equal(note.CreatedAt):
		return "creation time snapshot stale"
	default:
		return ""
	}
}

// RepairOptions control what Repair is allowed to touch.
type RepairOptions struct {
	// RemoveOrphans deletes vector documents that have no relational
	// note. Off by default: orphans are reported for manual review
	// because the index is the only remaining copy of that content.
	RemoveOrphans bool
}

// RepairResult summarizes one repair pass.
type RepairResult struct {
	Resynced       int       `json:"resynced"`
	Failed         int       `json:"failed"`
	OrphansFlagged int       `json:"orphans_flagged"`
	OrphansRemoved int       `json:"orphans_removed"`
	Outcomes       []Outcome `json:"outcomes,omitempty"`
}

// Repair fixes what VerifyConsistency found. Missing and mismatched
// documents go back through the normal sync path, which also clears a
// hit retry ceiling since repair is the manual escape hatch for
// entries the sweep gave up on. Orphaned vector documents are only
// deleted when RemoveOrphans is set.
func (s *Synchronizer) Repair(ctx context.Context, report *ConsistencyReport, opts RepairOptions) (*RepairResult, error) {
	result := &RepairResult{}
	if report == nil || report.IsClean() {
		return result, nil
	}

	var resync []string
	var orphans []string
	for _, inc := range report.Inconsistencies {
		switch inc.Kind {
		case KindMissingVector, KindHashMismatch:
			resync = append(resync, inc.NoteID)
		case KindMissingRelational:
			orphans = append(orphans, inc.DocID)
		}
	}

	outcomes, err := s.SyncBatch(ctx, resync)
	result.Outcomes = outcomes
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeSynced, OutcomeAlreadySynced:
			result.Resynced++
		case OutcomeFailed, OutcomeUnavailable:
			result.Failed++
		}
	}
	if err != nil {
		return result, err
	}

	if opts.RemoveOrphans {
		if len(orphans) > 0 {
			if err := s.index.Delete(ctx, orphans); err != nil {
				return result, fmt.Errorf("remove orphaned documents: %w", err)
			}
			result.OrphansRemoved = len(orphans)
			s.logger.Info("removed orphaned vector documents", slog.Int("count", len(orphans)))
		}
	} else if len(orphans) > 0 {
		result.OrphansFlagged = len(orphans)
		s.logger.Warn("vector documents without relational notes left in place",
			slog.Int("count", len(orphans)))
	}

	return result, nil
}
