package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

const tempMarker = ".tmp."

// commitHook runs after the temp file is flushed and before it replaces the
// target. A non-nil error aborts the write as if the process had died there.
type commitHook func(tempPath string) error

// writeAtomic replaces path with data: write a temp file next to it, flush,
// rename over the target, then flush the directory entry.
func writeAtomic(path string, data []byte, hook commitHook, logger *events.Logger) error {
	dir := filepath.Dir(path)
	tempPath := fmt.Sprintf("%s%s%d", path, tempMarker, time.Now().UnixNano())

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return &models.StorageError{Op: "create temp file", Path: tempPath, Err: err}
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		file.Close()
		return &models.StorageError{Op: "write temp file", Path: tempPath, Err: err}
	}

	// Sync to disk
	if err := file.Sync(); err != nil {
		file.Close()
		return &models.StorageError{Op: "sync temp file", Path: tempPath, Err: err}
	}

	if err := file.Close(); err != nil {
		return &models.StorageError{Op: "close temp file", Path: tempPath, Err: err}
	}

	if hook != nil {
		if err := hook(tempPath); err != nil {
			return &models.StorageError{Op: "commit", Path: path, Err: err}
		}
	}

	// Rename atomically
	if err := os.Rename(tempPath, path); err != nil {
		return &models.StorageError{Op: "rename", Path: path, Err: err}
	}
	committed = true

	if err := syncDir(dir); err != nil {
		// The rename is done; the entry may only be lost on power failure.
		logger.WithError(err).WithField("dir", dir).Warn("Failed to sync store directory")
	}

	return nil
}

// WriteFile atomically replaces path with data, creating parent directories.
func WriteFile(path string, data []byte, logger *events.Logger) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &models.StorageError{Op: "create directory", Path: filepath.Dir(path), Err: err}
	}
	return writeAtomic(path, data, nil, logger)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// cleanStaleTemps removes temp files left behind by an interrupted write.
func cleanStaleTemps(path string, logger *events.Logger) {
	matches, err := filepath.Glob(path + tempMarker + "*")
	if err != nil {
		return
	}

	prefix := filepath.Base(path) + tempMarker
	for _, match := range matches {
		if !strings.HasPrefix(filepath.Base(match), prefix) {
			continue
		}
		if err := os.Remove(match); err != nil {
			logger.WithError(err).WithField("path", match).Warn("Failed to remove stale temp file")
			continue
		}
		logger.WithField("path", match).Info("Removed temp file from interrupted write")
	}
}
