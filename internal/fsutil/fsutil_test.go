package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ebusy", syscall.EBUSY, true},
		{"wrapped emfile", fmt.Errorf("open: %w", syscall.EMFILE), true},
		{"path error eagain", &fs.PathError{Op: "write", Path: "x", Err: syscall.EAGAIN}, true},
		{"not exist", fs.ErrNotExist, false},
		{"eacces", syscall.EACCES, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	t.Run("transient then success", func(t *testing.T) {
		calls := 0
		err := Retry(func() error {
			calls++
			if calls == 1 {
				return syscall.EINTR
			}
			return nil
		})
		if err != nil || calls != 2 {
			t.Errorf("err=%v calls=%d, want nil/2", err, calls)
		}
	})

	t.Run("retries only once", func(t *testing.T) {
		calls := 0
		err := Retry(func() error {
			calls++
			return syscall.EAGAIN
		})
		if !errors.Is(err, syscall.EAGAIN) || calls != 2 {
			t.Errorf("err=%v calls=%d, want EAGAIN/2", err, calls)
		}
	})

	t.Run("permanent not retried", func(t *testing.T) {
		calls := 0
		Retry(func() error {
			calls++
			return syscall.EACCES
		})
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := WriteAtomic(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	if err := WriteAtomic(path, []byte(`{"a":2}`), 0o600); err != nil {
		t.Fatalf("second WriteAtomic failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":2}` {
		t.Errorf("content = %s", data)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}
