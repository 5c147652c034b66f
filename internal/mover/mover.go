// Package mover places organized images in their group folders.
package mover

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileName = ".organizer.lock"

var (
	ErrDestinationExists = errors.New("destination already exists")
	ErrOutputLocked      = errors.New("output folder is locked by another job")
)

// FileMover copies or moves files on the local filesystem.
type FileMover struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *FileMover {
	return &FileMover{logger: logger}
}

// Prepare creates outputRoot and takes an exclusive lock on it for the
// duration of one job. The returned release func drops the lock.
func (m *FileMover) Prepare(outputRoot string) (func(), error) {
	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}

	lock := flock.New(filepath.Join(outputRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock output root: %w", err)
	}
	if !locked {
		return nil, ErrOutputLocked
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("release output lock failed", "path", lock.Path(), "error", err)
		}
	}, nil
}

// MoveOrCopy places src at dst, creating the parent folder. An existing dst
// is never overwritten. Copies keep the source modification time; moves fall
// back to copy and remove when a rename is not possible, e.g. across devices.
func (m *FileMover) MoveOrCopy(src, dst string, copyFile bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create group folder: %w", err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if copyFile {
		return copyPreserving(src, dst)
	}

	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	m.logger.Debug("rename failed, falling back to copy", "path", src, "error", renameErr)
	if err := copyPreserving(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", src, errors.Join(renameErr, err))
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

func copyPreserving(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
		}
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	modTime := info.ModTime()
	if err := os.Chtimes(dst, modTime, modTime); err != nil {
		return fmt.Errorf("preserve timestamps: %w", err)
	}
	return nil
}
