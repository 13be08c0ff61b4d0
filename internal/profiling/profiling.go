// Package profiling captures pprof artifacts for long daemon runs.
//
// A Session starts a CPU profile when the daemon boots and, on
// shutdown, snapshots heap, allocation, and goroutine profiles next to
// it. The artifacts feed `go tool pprof` when a sweep misbehaves in
// production.
package profiling

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
)

// Profile file names written into the session directory.
const (
	CPUProfile       = "cpu.prof"
	HeapProfile      = "heap.prof"
	AllocsProfile    = "allocs.prof"
	GoroutineProfile = "goroutine.prof"
)

// Session is one daemon-lifetime profiling run.
type Session struct {
	dir     string
	cpuFile *os.File
}

// Start creates dir and begins CPU profiling into it. Callers must
// Stop the session to flush the CPU profile and write the shutdown
// snapshots.
func Start(dir string) (*Session, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, CPUProfile))
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}

	return &Session{dir: dir, cpuFile: f}, nil
}

// Dir returns the directory the session writes into.
func (s *Session) Dir() string {
	return s.dir
}

// Stop ends CPU profiling and writes the heap, allocation, and
// goroutine snapshots. The first failure is returned, but later
// snapshots are still attempted.
func (s *Session) Stop() error {
	pprof.StopCPUProfile()
	firstErr := s.cpuFile.Close()
	s.cpuFile = nil

	// GC first so the heap snapshot reflects live objects.
	runtime.GC()

	if err := s.writeProfile("heap", HeapProfile); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.writeProfile("allocs", AllocsProfile); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.writeProfile("goroutine", GoroutineProfile); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (s *Session) writeProfile(name, file string) error {
	f, err := os.Create(filepath.Join(s.dir, file))
	if err != nil {
		return fmt.Errorf("failed to create %s profile: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	profile := pprof.Lookup(name)
	if profile == nil {
		return fmt.Errorf("unknown profile %q", name)
	}
	if err := profile.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
