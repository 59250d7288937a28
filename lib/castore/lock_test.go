// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"errors"
	"testing"
	"time"

	"github.com/basinlabs/castore/lib/clock"
)

func TestAcquireFileLockTimesOut(t *testing.T) {
	fakeClock := clock.Fake(time.Unix(0, 0))
	root := t.TempDir()

	store, err := Open(root, Config{LockTimeout: time.Second, Clock: fakeClock})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	blocker, err := Open(root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer blocker.Close()

	holdingLock := make(chan struct{})
	release := make(chan struct{})
	go func() {
		blocker.withLock(func() error {
			close(holdingLock)
			<-release
			return nil
		})
	}()
	<-holdingLock
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- store.withLock(func() error { return nil })
	}()

	// Wait for acquireFileLock's retry loop to register its Sleep
	// before advancing the clock past the deadline.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(2 * time.Second)

	err = <-done
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("got %v, want ErrLockTimeout", err)
	}
}

func TestAcquireFileLockZeroTimeoutSucceedsUncontended(t *testing.T) {
	root := t.TempDir()

	store, err := Open(root, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	h := testHash(20)
	if _, err := store.MarkPending(h); err != nil {
		t.Fatalf("MarkPending with zero LockTimeout should not error: %v", err)
	}
}
