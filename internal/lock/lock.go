// Package lock implements the maintenance lock: a single-holder mutual
// exclusion file with an age-based staleness rule. There is exactly one
// mutator process class (the guarded-apply executor); every other reader
// (watchdog, boot sequence) only checks the lock to decide whether to skip
// work, so a crude file marker is sufficient.
package lock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultStaleAfter is the reference staleness threshold. A lock older than
// this is treated as abandoned (holder crashed mid-run) and may be cleared by
// any component that observes it.
const DefaultStaleAfter = time.Hour

// Lock guards the critical-file set and the managed services.
type Lock struct {
	path       string
	staleAfter time.Duration
	logger     *slog.Logger
}

// Info is the decoded content of a lock file.
type Info struct {
	PID        int
	AcquiredAt time.Time
}

// New returns a lock rooted at path. staleAfter <= 0 selects the default
// threshold.
func New(path string, staleAfter time.Duration, logger *slog.Logger) *Lock {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{path: path, staleAfter: staleAfter, logger: logger}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// TryAcquire attempts to take the lock. It succeeds when no lock file exists
// or the existing one is stale (cleared first, then re-acquired). A false
// return means a fresh lock is held elsewhere; callers must treat that as a
// normal "someone else is working" condition, not an error.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			content := fmt.Sprintf("%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			if _, werr := f.WriteString(content); werr != nil {
				_ = f.Close()
				_ = os.Remove(l.path)
				return false, werr
			}
			return true, f.Close()
		}
		if !os.IsExist(err) {
			return false, err
		}
		info, rerr := l.read()
		if rerr != nil {
			// unreadable lock content: age it by mtime as a fallback
			st, serr := os.Stat(l.path)
			if serr != nil {
				if os.IsNotExist(serr) {
					continue // raced with a release; retry the create
				}
				return false, serr
			}
			info = Info{AcquiredAt: st.ModTime()}
		}
		if time.Since(info.AcquiredAt) < l.staleAfter {
			return false, nil
		}
		l.logger.Warn("stale lock removed", "path", l.path, "holder_pid", info.PID, "age", time.Since(info.AcquiredAt).Round(time.Second))
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return false, rmErr
		}
	}
	return false, nil
}

// Release removes the lock file. Idempotent: releasing an already-released
// lock is a no-op.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Held reports whether a fresh (non-stale) lock currently exists. Read-only:
// a stale lock observed here is reported as not held but left in place for
// the next TryAcquire to clear.
func (l *Lock) Held() bool {
	info, err := l.read()
	if err != nil {
		if os.IsNotExist(err) {
			return false
		}
		st, serr := os.Stat(l.path)
		if serr != nil {
			return false
		}
		return time.Since(st.ModTime()) < l.staleAfter
	}
	return time.Since(info.AcquiredAt) < l.staleAfter
}

func (l *Lock) read() (Info, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return Info{}, err
	}
	fields := strings.Fields(string(b))
	if len(fields) != 2 {
		return Info{}, fmt.Errorf("lock %s: malformed content", l.path)
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Info{}, fmt.Errorf("lock %s: bad pid: %w", l.path, err)
	}
	at, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return Info{}, fmt.Errorf("lock %s: bad timestamp: %w", l.path, err)
	}
	return Info{PID: pid, AcquiredAt: at}, nil
}
