package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// ErrConflict is returned by Save when the persisted revision is not the one
// the caller's state was derived from: another writer committed in between.
var ErrConflict = errors.New("state changed by another writer")

const (
	lockRetry    = 25 * time.Millisecond
	lockWait     = 5 * time.Second
	staleLockAge = 30 * time.Second
)

// CheckRevision accepts next only when it directly follows stored.
func CheckRevision(stored, next int64) error {
	if next != stored+1 {
		return fmt.Errorf("%w: persisted revision %d, saving %d", ErrConflict, stored, next)
	}
	return nil
}

// acquireLock creates path exclusively and returns a func that removes it.
// A lock older than staleLockAge is assumed to belong to a crashed process.
func acquireLock(ctx context.Context, path string) (func(), error) {
	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}
		if info, serr := os.Stat(path); serr == nil && time.Since(info.ModTime()) > staleLockAge {
			log.Printf("WARN: removing stale state lock %s", path)
			_ = os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("state is locked by another process: %s", path)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}
