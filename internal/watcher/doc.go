// Package watcher emits debounced change notifications for a single file.
// The daemon uses it to hot-reload the config file without a restart.
//
// Editors rarely write a file in one operation: a save usually produces a
// burst of writes, or a temp file renamed over the original. The watcher
// coalesces each burst into one event so consumers reload once per save.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify on the file's parent directory
//   - Fallback: stat polling for environments where fsnotify fails
//     (network mounts, exhausted inotify limits)
//
// Usage:
//
//	w, err := watcher.New(cfgPath, watcher.DefaultOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go func() { _ = w.Start(ctx) }()
//
//	for event := range w.Events() {
//	    switch event.Op {
//	    case watcher.OpCreate, watcher.OpModify:
//	        // Reload the file
//	    case watcher.OpRemove:
//	        // Keep the last good state
//	    }
//	}
package watcher
