package importer

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxFileSize caps imported files at 1MB. Notes are prose;
// anything bigger is almost certainly an export artifact or a binary
// with a text extension.
const DefaultMaxFileSize = 1 * 1024 * 1024

// defaultExtensions are the note file types imported when the caller
// does not narrow the set.
var defaultExtensions = []string{".md", ".markdown", ".txt"}

// File is one note file discovered under the import root.
type File struct {
	RelPath string // slash-separated, relative to the import root
	AbsPath string
	Size    int64
	ModTime time.Time
	Content string // file body with any front matter still attached
}

// Result is returned from the walk channel.
type Result struct {
	File *File
	Err  error
}

// Walk streams note files found under opts.Dir. Hidden directories
// (Obsidian vault internals, .git) are skipped, symlinks are not
// followed, and files that are too large or contain null bytes are
// dropped silently. The channel closes when the walk finishes.
func Walk(ctx context.Context, opts Options) (<-chan Result, error) {
	root, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve import root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat import root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import root is not a directory: %s", root)
	}

	extensions := opts.Extensions
	if len(extensions) == 0 {
		extensions = defaultExtensions
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	results := make(chan Result, 16)
	go func() {
		defer close(results)
		walk(ctx, root, extensions, maxSize, results)
	}()
	return results, nil
}

func walk(ctx context.Context, root string, extensions []string, maxSize int64, results chan<- Result) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return nil // Skip what we can't access
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !hasExtension(d.Name(), extensions) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if isBinary(data) {
			return nil
		}

		file := &File{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Content: string(data),
		}

		select {
		case results <- Result{File: file}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// hasExtension reports whether name carries one of the extensions,
// compared case-insensitively.
func hasExtension(name string, extensions []string) bool {
	ext := filepath.Ext(name)
	for _, want := range extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// isBinary checks the first 512 bytes for null bytes.
func isBinary(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	return bytes.Contains(data, []byte{0})
}
