// Package lock enforces a single running relay per lock path.
//
// The lock is a PID record guarded by flock(2). The kernel drops the flock
// when the holder dies, so a record left behind by a crashed process is
// reclaimed by the next Acquire without manual cleanup.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("lock is held by another process")

// HeldError carries the PID recorded by the current holder.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s: held by another process", e.Path)
}

func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// PIDLock is a held lock. Keep the lock alive by keeping the value around.
type PIDLock struct {
	path string
	f    *os.File
	// Reclaimed is the PID of a dead previous holder whose record was
	// overwritten, or zero.
	Reclaimed int
}

const maxAcquireAttempts = 3

// Acquire takes the lock at path, writes the current PID, and returns a
// handle that must be released.
func Acquire(path string) (*PIDLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		l, retry, err := tryAcquire(path)
		if err != nil {
			return nil, err
		}
		if !retry {
			return l, nil
		}
	}
	return nil, fmt.Errorf("acquire lock: %s kept changing underneath us", path)
}

// tryAcquire reports retry=true when the file was unlinked between open and
// flock, in which case the lock we got is on an orphaned inode.
func tryAcquire(path string) (*PIDLock, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return nil, false, &HeldError{Path: path, PID: pid}
		}
		return nil, false, fmt.Errorf("acquire lock: %w", err)
	}

	same, err := sameFile(f, path)
	if err != nil || !same {
		unlockClose(f)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, false, fmt.Errorf("stat lock file: %w", err)
		}
		return nil, true, nil
	}

	prev := parsePID(f)
	l := &PIDLock{path: path, f: f}
	if prev > 0 && prev != os.Getpid() {
		l.Reclaimed = prev
	}

	if err := writePID(f); err != nil {
		unlockClose(f)
		return nil, false, err
	}
	return l, false, nil
}

func sameFile(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, err
	}
	onDisk, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return os.SameFile(held, onDisk), nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func parsePID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}

func unlockClose(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// Path returns the lock file path.
func (l *PIDLock) Path() string { return l.path }

// Release removes the record and drops the lock. Safe to call more than once.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Remove while still holding the flock so a waiter never locks a file
	// that is about to disappear without noticing.
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	if rmErr != nil {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	return err
}

// ReadPID returns the PID recorded at path.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", path, err)
	}
	return pid, nil
}

// IsStale reports whether a record exists at path whose holder is no longer
// running. A missing record is not stale.
func IsStale(path string) (bool, error) {
	pid, err := ReadPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		// Unparseable record: nobody can own it.
		return true, nil
	}
	return !ProcessAlive(pid), nil
}

// ProcessAlive probes pid with signal 0.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
