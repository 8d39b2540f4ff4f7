// Package fsutil holds the small file helpers shared by the crew packages:
// one-shot retry of transient filesystem errors and atomic replacement.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// transient lists errno values worth a single retry.
var transient = []syscall.Errno{
	syscall.EAGAIN,
	syscall.EBUSY,
	syscall.EINTR,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ETXTBSY,
}

// IsTransient reports whether err wraps a recoverable errno.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range transient {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Retry runs fn and, if it fails with a transient error, runs it once more.
func Retry(fn func() error) error {
	err := fn()
	if IsTransient(err) {
		err = fn()
	}
	return err
}

// WriteFile writes data to path, creating parent directories, with one
// retry on transient errors.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	return Retry(func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, data, perm)
	})
}

// WriteAtomic replaces path with data via a temp file and rename so readers
// never see a partial document.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
