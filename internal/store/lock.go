package store

import (
	"fmt"

	"github.com/gofrs/flock"
)

// Lock is a held advisory lock on the store. Release it when the
// indexing run finishes.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the advisory file lock next to the database. It
// never blocks: when another process holds it, ErrLockHeld is returned
// immediately and the caller reports "already running".
func (s *Store) AcquireLock() (*Lock, error) {
	fl := flock.New(s.path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
