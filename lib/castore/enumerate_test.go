// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListAllEmptyStore(t *testing.T) {
	store := openTestStore(t)
	snap, err := store.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Pending) != 0 || len(snap.Complete) != 0 || len(snap.Items) != 0 {
		t.Errorf("expected an empty snapshot, got %+v", snap)
	}
}

func TestListAllMixedStates(t *testing.T) {
	store := openTestStore(t)

	pendingHash := testHash(50)
	if _, err := store.MarkPending(pendingHash); err != nil {
		t.Fatal(err)
	}

	completeHash := testHash(51)
	buildDir, err := store.MarkPending(completeHash)
	if err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(buildDir, "out"), []byte("data"), 0o644)
	if _, err := store.MarkComplete(completeHash); err != nil {
		t.Fatal(err)
	}

	snap, err := store.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Pending) != 1 || snap.Pending[0] != pendingHash {
		t.Errorf("got Pending %v, want [%s]", snap.Pending, pendingHash)
	}
	if len(snap.Complete) != 1 || snap.Complete[0] != completeHash {
		t.Errorf("got Complete %v, want [%s]", snap.Complete, completeHash)
	}
	if len(snap.Items) != 1 {
		t.Errorf("got %d items, want 1", len(snap.Items))
	}
}
