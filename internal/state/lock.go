package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("run lock held by another process")

type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

type lockInfo struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	StartedAt time.Time `json:"started_at"`
}

// FileLock is an advisory lock on path. The kernel drops it when the holding
// process exits, so a crashed run never leaves the lock behind. The file
// itself stays in place and records the last holder.
type FileLock struct {
	path  string
	flock *flock.Flock
	now   func() time.Time
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, flock: flock.New(path), now: time.Now}
}

func (l *FileLock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !locked {
		return ErrLocked
	}

	host, _ := os.Hostname()
	payload, _ := json.Marshal(lockInfo{PID: os.Getpid(), Host: host, StartedAt: l.now().UTC()})
	if err := os.WriteFile(l.path, payload, 0o644); err != nil {
		log.Warn().Err(err).Str("path", l.path).Msg("record lock holder failed")
	}
	return nil
}

func (l *FileLock) Release(ctx context.Context) error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
