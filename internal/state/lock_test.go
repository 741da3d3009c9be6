package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	ctx := context.Background()
	first := NewFileLock(path)
	second := NewFileLock(path)

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := second.Acquire(ctx); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release(ctx)
}

func TestFileLockConcurrentContenders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	ctx := context.Background()

	const contenders = 8
	locks := make([]*FileLock, contenders)
	errs := make([]error, contenders)
	for i := range locks {
		locks[i] = NewFileLock(path)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range locks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = locks[i].Acquire(ctx)
		}(i)
	}
	close(start)
	wg.Wait()

	holders := 0
	for i, err := range errs {
		switch {
		case err == nil:
			holders++
			defer func(l *FileLock) { _ = l.Release(ctx) }(locks[i])
		case !errors.Is(err, ErrLocked):
			t.Fatalf("contender %d: unexpected error %v", i, err)
		}
	}
	if holders != 1 {
		t.Fatalf("expected exactly one holder, got %d", holders)
	}
}

func TestFileLockIgnoresLeftoverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")
	if err := os.WriteFile(path, []byte(`{"pid":1,"host":"gone"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	lock := NewFileLock(path)
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("expected leftover file from a dead run to be reusable, got %v", err)
	}
	_ = lock.Release(context.Background())
}
