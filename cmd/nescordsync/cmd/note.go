package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mhcp0001/NescordBot-sub000/internal/importer"
	"github.com/mhcp0001/NescordBot-sub000/internal/output"
	"github.com/mhcp0001/NescordBot-sub000/internal/store"
	"github.com/mhcp0001/NescordBot-sub000/internal/syncer"
)

func newNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create, inspect, and delete notes",
		Long: `Manage notes in the relational store.

New and changed notes are recorded as pending in the sync ledger;
'nescordsync sync' (or the daemon) embeds them into the vector index.`,
	}

	cmd.AddCommand(newNoteAddCmd())
	cmd.AddCommand(newNoteShowCmd())
	cmd.AddCommand(newNoteListCmd())
	cmd.AddCommand(newNoteDeleteCmd())
	cmd.AddCommand(newNoteImportCmd())

	return cmd
}

// noteAddOptions holds CLI flags for note add.
type noteAddOptions struct {
	id          string
	title       string
	tags        []string
	contentType string
	userID      string
	sync        bool
}

func newNoteAddCmd() *cobra.Command {
	var opts noteAddOptions

	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Add a note, or update one with --id",
		Long: `Add a note to the store and mark it pending for sync.

Content comes from the argument, or from stdin when the argument is
'-' or absent. Passing --id with an existing note's ID updates that
note; the ledger marks it pending again so the vector copy is
re-embedded on the next sync.

Examples:
  nescordsync note add --title "Standup" "Discussed the Q3 roadmap"
  cat meeting.md | nescordsync note add --title "Meeting" --tag work
  nescordsync note add --id 7f3c... --title "Standup (edited)" "..."`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return runNoteAdd(cmd.Context(), cmd, content, opts)
		},
	}

	cmd.Flags().StringVar(&opts.id, "id", "", "Note ID (default: new UUID)")
	cmd.Flags().StringVarP(&opts.title, "title", "t", "", "Note title")
	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&opts.contentType, "type", "", "Content type (e.g., note, voice, web)")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "Owner user ID")
	cmd.Flags().BoolVar(&opts.sync, "sync", false, "Embed and index the note immediately")

	return cmd
}

// readContent resolves note content from the argument or stdin.
func readContent(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read content from stdin: %w", err)
	}
	return string(data), nil
}

func runNoteAdd(ctx context.Context, cmd *cobra.Command, content string, opts noteAddOptions) error {
	out := output.New(cmd.OutOrStdout())

	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("note content is empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	id := opts.id
	if id == "" {
		id = uuid.NewString()
	}

	note := &store.Note{
		ID:          id,
		Title:       opts.title,
		Content:     content,
		Tags:        opts.tags,
		ContentType: opts.contentType,
		UserID:      opts.userID,
	}
	if err := notes.SaveNote(ctx, note); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	if err := notes.MarkPending(ctx, id); err != nil {
		return fmt.Errorf("failed to mark note pending: %w", err)
	}

	out.Successf("Note %s saved", id)

	if !opts.sync {
		out.Status("", "Pending sync: run 'nescordsync sync' or let the daemon pick it up")
		return nil
	}

	release, err := acquireDataLock(cfg)
	if err != nil {
		out.Warningf("Saved but not synced: %v", err)
		return nil
	}
	defer release()

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	sync, err := newSynchronizer(cfg, notes, index, embedder)
	if err != nil {
		return err
	}

	outcome := sync.SyncNote(ctx, id)
	if outcome.Err != nil {
		return fmt.Errorf("failed to sync note: %w", outcome.Err)
	}
	if err := saveIndex(index, cfg); err != nil {
		return err
	}
	out.Successf("Synced (%s)", outcome.Status)
	return nil
}

// noteImportOptions holds CLI flags for note import.
type noteImportOptions struct {
	tags        []string
	contentType string
	userID      string
	extensions  []string
	dryRun      bool
	sync        bool
}

func newNoteImportCmd() *cobra.Command {
	var opts noteImportOptions

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a directory of markdown or text files as notes",
		Long: `Walk a directory and import every markdown and plain-text file as a
note, marked pending for sync.

Note IDs derive from file paths, so importing the same directory again
updates the existing notes instead of duplicating them. Obsidian-style
YAML front matter supplies the title and tags when present; otherwise
the title falls back to the first markdown heading, then to the file
name.

Examples:
  nescordsync note import ~/vault
  nescordsync note import --tag imported --user alice ~/vault
  nescordsync note import --dry-run ~/vault`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNoteImport(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.tags, "tag", nil, "Tag added to every imported note (repeatable)")
	cmd.Flags().StringVar(&opts.contentType, "type", "", "Content type for imported notes (default: note)")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "Owner user ID")
	cmd.Flags().StringSliceVar(&opts.extensions, "ext", nil, "File extensions to import (default: .md, .markdown, .txt)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would be imported without writing")
	cmd.Flags().BoolVar(&opts.sync, "sync", false, "Sweep the sync backlog after importing")

	return cmd
}

func runNoteImport(ctx context.Context, cmd *cobra.Command, dir string, opts noteImportOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	summary, err := importer.Run(ctx, notes, importer.Options{
		Dir:         dir,
		Extensions:  opts.extensions,
		Tags:        opts.tags,
		ContentType: opts.contentType,
		UserID:      opts.userID,
		DryRun:      opts.dryRun,
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if opts.dryRun {
		out.Statusf("🔍", "Would import %d of %d files (dry run)", summary.Imported, summary.Scanned)
		return nil
	}

	out.Successf("Imported %d notes from %s", summary.Imported, dir)
	if summary.Skipped > 0 {
		out.Statusf("", "Skipped %d empty files", summary.Skipped)
	}
	if summary.Failed > 0 {
		out.Warningf("%d files failed to import", summary.Failed)
		for _, line := range summary.Errors {
			out.Status("", "  "+line)
		}
	}

	if !opts.sync {
		if summary.Imported > 0 {
			out.Status("", "Pending sync: run 'nescordsync sync' or let the daemon pick it up")
		}
		return nil
	}

	release, err := acquireDataLock(cfg)
	if err != nil {
		out.Warningf("Imported but not synced: %v", err)
		return nil
	}
	defer release()

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()

	sync, err := newSynchronizer(cfg, notes, index, embedder)
	if err != nil {
		return err
	}

	outcomes, err := sync.SyncAllPendingProgress(ctx, func(syncer.Outcome) {})
	if err != nil {
		return fmt.Errorf("sync aborted: %w", err)
	}
	syncSummary := syncer.Summarize(outcomes)
	if syncSummary.Synced > 0 {
		if err := saveIndex(index, cfg); err != nil {
			return err
		}
	}
	out.Successf("Synced %d notes (%d failed)", syncSummary.Synced, syncSummary.Failed)
	return nil
}

func newNoteShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a note and its sync state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNoteShow(cmd.Context(), cmd, args[0])
		},
	}
	return cmd
}

func runNoteShow(ctx context.Context, cmd *cobra.Command, id string) error {
	w := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	note, err := notes.GetNote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load note: %w", err)
	}
	if note == nil {
		return fmt.Errorf("note %s not found", id)
	}

	fmt.Fprintf(w, "ID:      %s\n", note.ID)
	if note.Title != "" {
		fmt.Fprintf(w, "Title:   %s\n", note.Title)
	}
	if len(note.Tags) > 0 {
		fmt.Fprintf(w, "Tags:    %s\n", strings.Join(note.Tags, ", "))
	}
	if note.ContentType != "" {
		fmt.Fprintf(w, "Type:    %s\n", note.ContentType)
	}
	if note.UserID != "" {
		fmt.Fprintf(w, "User:    %s\n", note.UserID)
	}
	fmt.Fprintf(w, "Created: %s\n", note.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated: %s\n", note.UpdatedAt.Local().Format("2006-01-02 15:04:05"))

	entry, err := notes.GetLedger(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load ledger entry: %w", err)
	}
	if entry == nil {
		fmt.Fprintf(w, "Sync:    unledgered\n")
	} else {
		line := fmt.Sprintf("Sync:    %s", entry.Status)
		if entry.Status == store.StatusFailed && entry.LastError != "" {
			line += fmt.Sprintf(" (%s, %d attempts)", entry.LastError, entry.RetryCount)
		}
		fmt.Fprintln(w, line)
	}

	fmt.Fprintf(w, "\n%s\n", note.Content)
	return nil
}

// noteListOptions holds CLI flags for note list.
type noteListOptions struct {
	limit  int
	cursor string
}

func newNoteListCmd() *cobra.Command {
	var opts noteListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNoteList(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum notes per page")
	cmd.Flags().StringVar(&opts.cursor, "cursor", "", "Resume listing after this note ID")

	return cmd
}

func runNoteList(ctx context.Context, cmd *cobra.Command, opts noteListOptions) error {
	w := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	page, next, err := notes.ListNotes(ctx, opts.cursor, opts.limit)
	if err != nil {
		return fmt.Errorf("failed to list notes: %w", err)
	}
	if len(page) == 0 {
		fmt.Fprintln(w, "No notes.")
		return nil
	}

	for _, note := range page {
		title := note.Title
		if title == "" {
			title = firstLine(note.Content)
		}
		line := fmt.Sprintf("%s  %s  %s",
			note.ID, note.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
		if len(note.Tags) > 0 {
			line += "  [" + strings.Join(note.Tags, ", ") + "]"
		}
		fmt.Fprintln(w, line)
	}
	if next != "" {
		fmt.Fprintf(w, "\nMore: nescordsync note list --cursor %s\n", next)
	}
	return nil
}

// firstLine returns the first non-empty line, truncated for display.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 60 {
			return line[:57] + "..."
		}
		return line
	}
	return "(empty)"
}

func newNoteDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a note and its vector copy",
		Long: `Delete a note from the relational store, its ledger entry, and its
vector document.

When the daemon holds the data lock the vector document cannot be
removed from here; it is left behind as an orphan that the next
verification flags, and 'nescordsync verify --repair --remove-orphans'
purges.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNoteDelete(cmd.Context(), cmd, args[0])
		},
	}
	return cmd
}

func runNoteDelete(ctx context.Context, cmd *cobra.Command, id string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	notes, err := openNotes(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = notes.Close() }()

	note, err := notes.GetNote(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load note: %w", err)
	}
	if note == nil {
		return fmt.Errorf("note %s not found", id)
	}

	if err := notes.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if err := notes.DeleteLedger(ctx, id); err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}

	release, lockErr := acquireDataLock(cfg)
	if lockErr != nil {
		out.Successf("Note %s deleted", id)
		out.Warningf("Vector copy left behind: %v", lockErr)
		return nil
	}
	defer release()

	if err := removeVectorDoc(ctx, cfg, id); err != nil {
		out.Successf("Note %s deleted", id)
		out.Warningf("Vector copy left behind: %v", err)
		return nil
	}

	out.Successf("Note %s deleted", id)
	return nil
}
