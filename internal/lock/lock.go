// Package lock guards against two watchers running on the same state
// directory. The OS releases the lock when the process exits, crashes
// included.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrHeld is returned by Acquire when another process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// Lock is an exclusive, process-wide file lock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock at path without waiting. On contention the error
// wraps ErrHeld and names the holder recorded in the file.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f, path); err != nil {
		_ = f.Close()
		return nil, err
	}

	l := &Lock{path: path, file: f}
	l.writeHolder()
	return l, nil
}

// lockFile takes the OS lock on f. Only contention maps to ErrHeld; any
// other failure is returned as is.
func lockFile(f *os.File, path string) error {
	err := tryLock(f)
	switch {
	case err == nil:
		return nil
	case isContention(err):
		return fmt.Errorf("%w (%s)", ErrHeld, holder(path))
	default:
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	unlock(l.file)
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}

func (l *Lock) writeHolder() {
	_ = l.file.Truncate(0)
	_, _ = l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = l.file.Sync()
}

// holder describes the process recorded in the lock file.
func holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "holder unknown"
	}
	var pid, ts string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "pid:"):
			pid = strings.TrimPrefix(line, "pid:")
		case strings.HasPrefix(line, "time:"):
			ts = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "holder unknown"
	}
	return fmt.Sprintf("pid %s since %s", pid, ts)
}
