package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "watch.lock")

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid:"+strconv.Itoa(os.Getpid())) {
		t.Errorf("Expected holder pid in lock file, got %q", data)
	}

	_, err = Acquire(path)
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("Second Acquire() = %v, want ErrHeld", err)
	}
	if !strings.Contains(err.Error(), "pid "+strconv.Itoa(os.Getpid())) {
		t.Errorf("Expected holder in error, got %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Second Release() failed: %v", err)
	}

	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire() after release failed: %v", err)
	}
	again.Release()
}

func TestLockFile_OtherErrorsAreNotContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.lock")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create lock file: %v", err)
	}
	f.Close()

	err = lockFile(f, path)
	if err == nil {
		t.Fatal("lockFile() on a closed file should fail")
	}
	if errors.Is(err, ErrHeld) {
		t.Errorf("lockFile() = %v, should not report the lock as held", err)
	}
	if !strings.Contains(err.Error(), path) {
		t.Errorf("Expected path in error, got %v", err)
	}
}
