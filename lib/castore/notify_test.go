// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basinlabs/castore/lib/testutil"
)

func TestMultipleWaitersShareOneWatch(t *testing.T) {
	store := openTestStore(t)
	h := testHash(30)

	buildDir, err := store.MarkPending(h)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(buildDir, "out"), []byte("x"), 0o644)

	const waiters = 5
	subs := make([]*Subscription, waiters)
	for i := 0; i < waiters; i++ {
		_, _, sub, err := store.LookupOrWait(h)
		if err != nil {
			t.Fatal(err)
		}
		if sub == nil {
			t.Fatalf("waiter %d: expected a subscription", i)
		}
		subs[i] = sub
	}

	store.notifier.mu.Lock()
	watchCount := len(store.notifier.watches)
	store.notifier.mu.Unlock()
	if watchCount != 1 {
		t.Errorf("got %d distinct watch entries for one key, want 1", watchCount)
	}

	item, err := store.MarkComplete(h)
	if err != nil {
		t.Fatal(err)
	}

	for i, sub := range subs {
		res := testutil.RequireReceive(t, sub.Resolution(), 5*time.Second, "waiter")
		if res.Failed {
			t.Errorf("waiter %d: unexpected failure", i)
		}
		if res.Item != item {
			t.Errorf("waiter %d: got item %+v, want %+v", i, res.Item, item)
		}
	}
}

func TestSubscriptionWaitRespectsContextCancellation(t *testing.T) {
	store := openTestStore(t)
	h := testHash(31)

	if _, err := store.MarkPending(h); err != nil {
		t.Fatal(err)
	}
	_, _, sub, err := store.LookupOrWait(h)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sub.Wait(ctx)
	if err == nil {
		t.Error("expected Wait to return a context error before the build ever completes")
	}
}

func TestCloseResolvesOutstandingSubscriptions(t *testing.T) {
	store, err := Open(t.TempDir(), Config{})
	if err != nil {
		t.Fatal(err)
	}
	h := testHash(32)
	if _, err := store.MarkPending(h); err != nil {
		t.Fatal(err)
	}
	_, _, sub, err := store.LookupOrWait(h)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	res := testutil.RequireReceive(t, sub.Resolution(), 5*time.Second, "waiting for close to resolve subscription")
	if !res.Failed {
		t.Errorf("expected Resolution.Failed after Close, got %+v", res)
	}
}
