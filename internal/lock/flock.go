// Package lock provides the cross-process mutual exclusion used for the
// daemon startup race. Many ccrelay processes spawned by a build system race
// to start one daemon; flock(2) on a well-known path elects the starter and
// parks everyone else until the starter finishes.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

//go:generate mockgen -destination=mocks/mock_locker.go -package=mocks github.com/mkalinski/ccrelay/internal/lock Locker

// Locker is the mutual-exclusion primitive behind the startup race. It is an
// interface so concurrent-start tests can substitute an in-memory
// implementation for the filesystem one.
type Locker interface {
	// TryLock attempts a non-blocking exclusive acquisition and reports
	// whether it succeeded. The caller that gets true is the sole starter.
	TryLock() (bool, error)

	// Lock blocks until the exclusive lock can be acquired. Losers of
	// TryLock call this to wait out the starter.
	Lock() error

	// Unlock releases the lock without closing the handle.
	Unlock() error

	// Close releases the handle (and the lock, if still held).
	Close() error

	// Remove deletes the lock's backing object. Best effort: the lock
	// works regardless of whether the file already exists, so a leftover
	// file never blocks a future race.
	Remove() error
}

// Flock implements Locker with flock(2) on a lock file. The file's content is
// never consulted; the PID is written into it purely as a debugging aid.
type Flock struct {
	path string
	f    *os.File
}

var _ Locker = (*Flock)(nil)

// NewFlock returns a Locker backed by the file at path. Nothing is opened
// until the first TryLock or Lock call.
func NewFlock(path string) *Flock {
	return &Flock{path: path}
}

func (l *Flock) Path() string { return l.path }

func (l *Flock) open() error {
	if l.f != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.f = f
	return nil
}

func (l *Flock) TryLock() (bool, error) {
	if err := l.open(); err != nil {
		return false, err
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	_, _ = fmt.Fprintf(l.f, "%d\n", os.Getpid())
	return true, nil
}

func (l *Flock) Lock() error {
	if err := l.open(); err != nil {
		return err
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("wait for lock: %w", err)
	}
	return nil
}

func (l *Flock) Unlock() error {
	if l.f == nil {
		return nil
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func (l *Flock) Close() error {
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *Flock) Remove() error {
	return os.Remove(l.path)
}
