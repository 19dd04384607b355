package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultLockTimeout bounds lock acquisition so a contended hook fails
	// fast instead of hanging the host's event pipeline.
	DefaultLockTimeout = 2 * time.Second

	lockRetryInterval = 25 * time.Millisecond

	// lockStaleAfter is the age past which a leftover lockfile is treated as
	// the residue of a crashed invocation and reclaimed.
	lockStaleAfter = 30 * time.Second
)

// LockTimeoutError reports bounded lock acquisition giving up under
// contention. Callers retry or degrade to a read-only no-op.
type LockTimeoutError struct {
	Path     string
	Waited   time.Duration
	Attempts int
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out acquiring lock %s after %s (%d attempts)", e.Path, e.Waited, e.Attempts)
}

// withLock runs fn while holding an exclusive lockfile next to the target.
// The lock is created with O_EXCL so exactly one process wins; it is removed
// on every exit path, and a stale lock from a crashed process is reclaimed.
func withLock(target string, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	lockPath := target + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	start := time.Now()
	attempts := 0
	for {
		attempts++
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			meta, _ := json.Marshal(map[string]any{
				"pid":        os.Getpid(),
				"created_at": time.Now().UTC().Format(time.RFC3339),
			})
			f.Write(append(meta, '\n'))
			f.Close()
			defer os.Remove(lockPath)
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if isStaleLock(lockPath, time.Now()) {
			os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= timeout {
			return &LockTimeoutError{Path: lockPath, Waited: time.Since(start), Attempts: attempts}
		}
		time.Sleep(lockRetryInterval)
	}
}

func isStaleLock(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) > lockStaleAfter
}

// readFileOrEmpty loads a store file, treating a missing file as an empty
// store rather than an error.
func readFileOrEmpty(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// writeFileAtomic replaces path via a same-directory temp file and rename so
// a concurrent reader never observes a half-written store.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
