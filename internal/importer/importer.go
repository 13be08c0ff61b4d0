// Package importer ingests markdown and plain-text files as notes,
// marking each one pending so the next sync embeds it. Note IDs derive
// from file paths, so re-importing a directory updates notes in place
// instead of duplicating them.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// Options configures an import run.
type Options struct {
	// Dir is the directory to import from.
	Dir string

	// Extensions narrows the file types taken. Empty means markdown
	// and plain text.
	Extensions []string

	// MaxFileSize caps file size in bytes. Zero uses DefaultMaxFileSize.
	MaxFileSize int64

	// Tags are added to every imported note, after any tags the file's
	// front matter carries.
	Tags []string

	// ContentType is stored on every imported note. Empty means "note".
	ContentType string

	// UserID is the owner recorded on every imported note.
	UserID string

	// DryRun walks and reports without writing anything.
	DryRun bool
}

// NoteWriter is the slice of the relational store an import needs.
type NoteWriter interface {
	SaveNote(ctx context.Context, note *store.Note) error
	MarkPending(ctx context.Context, noteID string) error
}

// Summary reports what an import run did.
type Summary struct {
	Scanned  int      // candidate files found
	Imported int      // notes written (or would be, in a dry run)
	Skipped  int      // files with no usable content
	Failed   int      // files whose note could not be written
	Errors   []string // one "path: error" line per failure
}

// Run imports every note file under opts.Dir through w. The returned
// summary is valid even when err is non-nil; a canceled context stops
// the walk mid-stream.
func Run(ctx context.Context, w NoteWriter, opts Options) (*Summary, error) {
	results, err := Walk(ctx, opts)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for r := range results {
		if r.Err != nil {
			summary.Errors = append(summary.Errors, "walk: "+r.Err.Error())
			continue
		}
		summary.Scanned++

		note := NoteFromFile(r.File, opts)
		if strings.TrimSpace(note.Content) == "" {
			summary.Skipped++
			continue
		}

		if opts.DryRun {
			summary.Imported++
			continue
		}

		if err := writeNote(ctx, w, note); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, r.File.RelPath+": "+err.Error())
			slog.Warn("failed to import note",
				slog.String("path", r.File.RelPath),
				slog.String("error", err.Error()))
			continue
		}
		summary.Imported++
	}

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, nil
}

func writeNote(ctx context.Context, w NoteWriter, note *store.Note) error {
	if err := w.SaveNote(ctx, note); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := w.MarkPending(ctx, note.ID); err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	return nil
}

// NoteFromFile assembles the note a file imports as. Front matter
// supplies title and tags when present; otherwise the title falls back
// to the first markdown heading, then to the file name.
func NoteFromFile(f *File, opts Options) *store.Note {
	meta, body := splitFrontMatter(f.Content)

	title := meta.Title
	if title == "" {
		title = headingTitle(body)
	}
	if title == "" {
		title = stemTitle(f.RelPath)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "note"
	}

	return &store.Note{
		ID:          NoteIDForPath(f.RelPath),
		Title:       title,
		Content:     body,
		Tags:        mergeTags(meta.Tags, opts.Tags),
		ContentType: contentType,
		UserID:      opts.UserID,
		CreatedAt:   f.ModTime,
		UpdatedAt:   f.ModTime,
	}
}

// NoteIDForPath derives the stable note ID a file imports under: the
// slash-separated relative path without its extension.
func NoteIDForPath(relPath string) string {
	relPath = filepath.ToSlash(relPath)
	return strings.TrimSuffix(relPath, filepath.Ext(relPath))
}

// headingTitle returns the first markdown H1 text, if the body starts
// its prose with one.
func headingTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if after, found := strings.CutPrefix(line, "# "); found {
			return strings.TrimSpace(after)
		}
		return ""
	}
	return ""
}

// stemTitle turns a file name into a presentable title.
func stemTitle(relPath string) string {
	base := filepath.Base(relPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// mergeTags combines tag lists, dropping duplicates and blanks while
// preserving order.
func mergeTags(fileTags, extraTags []string) []string {
	var merged []string
	seen := make(map[string]struct{})
	for _, tag := range append(append([]string{}, fileTags...), extraTags...) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	return merged
}
