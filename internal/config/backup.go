package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxConfigBackups is the number of timestamped config backups retained.
const MaxConfigBackups = 3

// BackupUserConfig creates a timestamped backup of the user configuration
// file before it is overwritten. Returns the backup path, or an empty
// string when there is nothing to back up.
func BackupUserConfig() (string, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return "", nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s.bak.%s", configPath, timestamp)

	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}

	cleanupOldBackups(configPath)
	return backupPath, nil
}

// ListUserConfigBackups returns existing config backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	configPath := GetUserConfigPath()
	matches, err := filepath.Glob(configPath + ".bak.*")
	if err != nil {
		return nil, fmt.Errorf("failed to list config backups: %w", err)
	}

	// Timestamps sort lexicographically; newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// RestoreUserConfig replaces the user configuration with the given backup.
func RestoreUserConfig(backupPath string) error {
	configPath := GetUserConfigPath()
	if !strings.HasPrefix(filepath.Base(backupPath), filepath.Base(configPath)+".bak.") {
		return fmt.Errorf("not a recognized config backup: %s", backupPath)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read config backup: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to restore config: %w", err)
	}

	return nil
}

// cleanupOldBackups removes backups beyond MaxConfigBackups, oldest first.
func cleanupOldBackups(configPath string) {
	matches, err := filepath.Glob(configPath + ".bak.*")
	if err != nil || len(matches) <= MaxConfigBackups {
		return
	}

	sort.Strings(matches)
	for _, old := range matches[:len(matches)-MaxConfigBackups] {
		// Best effort; a stale backup is harmless.
		_ = os.Remove(old)
	}
}
