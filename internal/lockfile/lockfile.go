// Package lockfile keeps a second server from starting on the same host.
// Only one process can own the camera and the discovery port.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned when a live server already holds the lock
var ErrLocked = errors.New("another server is already running")

// Owner is the content of a lock file
type Owner struct {
	PID        int
	ListenAddr string
	StartedAt  time.Time
}

// Lockfile is an exclusive, PID-stamped lock file
type Lockfile struct {
	path   string
	file   *os.File
	owner  Owner
	locked bool
}

// New creates a lock for path; nothing touches the disk until TryAcquire
func New(path string) *Lockfile {
	return &Lockfile{path: path}
}

// TryAcquire creates the lock file. A lock left by a dead process is
// taken over once.
func (l *Lockfile) TryAcquire(listenAddr string) error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := l.create()
	if os.IsExist(err) {
		owner, readErr := Read(l.path)
		if readErr == nil && processAlive(owner.PID) {
			return fmt.Errorf("%w: pid %d serving %s since %s", ErrLocked, owner.PID, owner.ListenAddr, owner.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		file, err = l.create()
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	l.file = file
	l.owner = Owner{PID: os.Getpid(), ListenAddr: listenAddr, StartedAt: time.Now().UTC()}
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n%s\n", l.owner.PID, l.owner.ListenAddr, l.owner.StartedAt.Format(time.RFC3339))
	if _, err := file.WriteString(content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		l.Release()
		return fmt.Errorf("failed to sync lock file: %w", err)
	}
	return nil
}

func (l *Lockfile) create() (*os.File, error) {
	return os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
}

// Read parses a lock file
func Read(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Owner{}, fmt.Errorf("invalid PID in lock file: %w", err)
	}

	owner := Owner{PID: pid}
	if len(lines) > 1 {
		owner.ListenAddr = strings.TrimSpace(lines[1])
	}
	if len(lines) > 2 {
		owner.StartedAt, _ = time.Parse(time.RFC3339, strings.TrimSpace(lines[2]))
	}
	return owner, nil
}

// Release closes and removes the lock file
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	var errs []error
	if l.file != nil {
		errs = append(errs, l.file.Close())
		l.file = nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lock file: %w", err))
	}
	return errors.Join(errs...)
}

// Owner returns who holds the lock; zero when not locked
func (l *Lockfile) Owner() Owner {
	return l.owner
}

// Locked reports whether this process holds the lock
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lock file path
func (l *Lockfile) Path() string {
	return l.path
}
