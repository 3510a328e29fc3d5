package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock is a cross-process mutual-exclusion lock keyed by a directory
// path. It is used to guarantee only one teamforged instance runs
// against a given data directory at a time.
type DirLock struct {
	lockFile *flock.Flock
	lockPath string
}

// NewDirLock creates a directory lock for path. If path is empty, the
// current working directory is used.
func NewDirLock(path string) (*DirLock, error) {
	lockDir := path
	if lockDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		lockDir = cwd
	}

	sanitizedDir := SanitizeForFilename(lockDir)

	tempDir := os.TempDir()
	appTempDir := filepath.Join(tempDir, "teamforged")
	if err := os.MkdirAll(appTempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock temp directory: %w", err)
	}

	lockPath := filepath.Join(appTempDir, fmt.Sprintf("%s.lock", sanitizedDir))
	return &DirLock{lockFile: flock.New(lockPath), lockPath: lockPath}, nil
}

// TryLock attempts to acquire the directory lock without blocking.
func (dl *DirLock) TryLock() error {
	locked, err := dl.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another teamforged instance is already running against this data directory")
	}
	return nil
}

// Unlock releases the lock and removes the lock file.
func (dl *DirLock) Unlock() error {
	if dl.lockFile == nil {
		return nil
	}

	if err := dl.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if err := os.Remove(dl.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	return nil
}

// GetLockPath returns the path to the lock file, for debugging/testing.
func (dl *DirLock) GetLockPath() string {
	return dl.lockPath
}
