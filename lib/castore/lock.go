// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockPollInterval is how often acquireFileLock retries a non-blocking
// flock attempt while a LockTimeout is in effect.
const lockPollInterval = 20 * time.Millisecond

// ErrLockTimeout is returned (wrapped) when a locked operation could
// not acquire root/lock before Config.LockTimeout elapsed.
var ErrLockTimeout = errors.New("castore: timed out waiting for store lock")

// withLock serializes fn against both other goroutines sharing this
// Store handle (via mu) and other processes sharing this store root
// (via a whole-file advisory flock on root/lock). The two are nested
// in a fixed order — mu first, then the flock — so a deadlock between
// them is impossible as long as every caller goes through withLock.
func (s *Store) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("castore: store is closed")
	}

	if err := s.acquireFileLock(); err != nil {
		return err
	}
	defer s.releaseFileLock()

	return fn()
}

func (s *Store) acquireFileLock() error {
	fd := int(s.lockFile.Fd())

	if s.cfg.LockTimeout <= 0 {
		if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
			return fmt.Errorf("castore: acquiring store lock: %w", err)
		}
		return nil
	}

	deadline := s.cfg.Clock.Now().Add(s.cfg.LockTimeout)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("castore: acquiring store lock: %w", err)
		}
		if !s.cfg.Clock.Now().Before(deadline) {
			return fmt.Errorf("castore: acquiring store lock: %w", ErrLockTimeout)
		}
		s.cfg.Clock.Sleep(lockPollInterval)
	}
}

func (s *Store) releaseFileLock() {
	if err := unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN); err != nil {
		s.logger.Warn("releasing store lock failed", "error", err)
	}
}

// withWritableRoot runs fn with root/'s owner-write bit set, and
// restores the steady-state read-only mode on every return path —
// including a panic unwinding through fn — via defer. Callers must
// already hold the store lock; withWritableRoot does not take it.
func (s *Store) withWritableRoot(fn func() error) error {
	if err := os.Chmod(s.root, writableDirMode); err != nil {
		return fmt.Errorf("castore: making store root writable: %w", err)
	}
	defer func() {
		if err := os.Chmod(s.root, readOnlyDirMode); err != nil {
			s.logger.Error("restoring store root read-only permissions failed", "error", err)
		}
	}()
	return fn()
}
