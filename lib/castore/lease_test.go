// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/basinlabs/castore/lib/clock"
	"github.com/basinlabs/castore/lib/testutil"
)

func TestWriteLeaseAndReadLease(t *testing.T) {
	fakeClock := clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	store, err := Open(t.TempDir(), Config{Clock: fakeClock})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	h := testHash(40)
	if _, err := store.MarkPending(h); err != nil {
		t.Fatal(err)
	}

	lease, err := store.ReadLease(h)
	if err != nil {
		t.Fatalf("ReadLease: %v", err)
	}
	if lease.OwnerPID != os.Getpid() {
		t.Errorf("got OwnerPID %d, want %d", lease.OwnerPID, os.Getpid())
	}
	if lease.StartedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("got StartedAt %q, want 2026-01-02T03:04:05Z", lease.StartedAt)
	}
}

func TestReadLeaseAbsentAfterRemoveFailed(t *testing.T) {
	store := openTestStore(t)
	h := testHash(41)

	if _, err := store.MarkPending(h); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveFailed(h); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ReadLease(h); err == nil {
		t.Error("expected ReadLease to fail once the pending directory is gone")
	}
}

func TestLeaseDoesNotAffectTransitions(t *testing.T) {
	// A lease write failure must never prevent mark_pending from
	// succeeding. Simulate this by making the pending directory's
	// parent briefly unwritable isn't straightforward to force just
	// the lease write to fail without breaking the mkdir itself, so
	// this test instead asserts the documented contract directly:
	// removing the lease file after the fact must not change the
	// key's state.
	store := openTestStore(t)
	h := testHash(42)

	buildDir, err := store.MarkPending(h)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(buildDir + "/" + leaseFileName); err != nil {
		t.Fatal(err)
	}

	state, err := store.Query(h)
	if err != nil {
		t.Fatal(err)
	}
	if state != Pending {
		t.Errorf("got %s after deleting the lease file, want pending", state)
	}
}

func TestConcurrentLeaseWritesEachRecordTheirOwnOwner(t *testing.T) {
	store := openTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		label := testutil.UniqueID("owner")
		h := testHash(byte(60 + i))
		wg.Add(1)
		go func(label string, h ContentHash) {
			defer wg.Done()
			if _, err := store.MarkPending(h); err != nil {
				errs <- fmt.Errorf("%s: MarkPending: %w", label, err)
				return
			}
			lease, err := store.ReadLease(h)
			if err != nil {
				errs <- fmt.Errorf("%s: ReadLease: %w", label, err)
				return
			}
			if lease.OwnerPID != os.Getpid() {
				errs <- fmt.Errorf("%s: got OwnerPID %d, want %d", label, lease.OwnerPID, os.Getpid())
			}
		}(label, h)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
