// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"os"
	"path/filepath"
)

// queryLocked reports h's current state. Callers must hold the store
// lock (via withLock) before calling this.
func (s *Store) queryLocked(h ContentHash) (State, error) {
	if info, err := os.Lstat(s.pendingPath(h)); err == nil {
		if info.IsDir() {
			return Pending, nil
		}
		return Missing, fmt.Errorf("castore: pending-%s exists but is not a directory", h)
	} else if !os.IsNotExist(err) {
		return Missing, fmt.Errorf("castore: checking pending state of %s: %w", h, err)
	}

	target, err := os.Readlink(s.completePath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return Missing, nil
		}
		return Missing, fmt.Errorf("castore: reading complete link for %s: %w", h, err)
	}

	outHash, ok := parseItemLinkTarget(target)
	if !ok {
		return Missing, &CorruptedLinkError{Hash: h, Target: target}
	}
	if _, err := os.Stat(s.itemPath(outHash)); err != nil {
		if os.IsNotExist(err) {
			return Missing, &CorruptedLinkError{Hash: h, Target: target}
		}
		return Missing, fmt.Errorf("castore: checking item behind complete link for %s: %w", h, err)
	}
	return Complete, nil
}

// resolveCompleteLink reads and validates the complete-<hash> symlink
// for an already-Complete key. Callers must hold the store lock.
func (s *Store) resolveCompleteLink(h ContentHash) (Item, error) {
	target, err := os.Readlink(s.completePath(h))
	if err != nil {
		return Item{}, fmt.Errorf("castore: reading complete link for %s: %w", h, err)
	}
	outHash, ok := parseItemLinkTarget(target)
	if !ok {
		return Item{}, &CorruptedLinkError{Hash: h, Target: target}
	}
	return Item{OutputHash: outHash}, nil
}

// Query reports h's current state without resolving a Complete key's
// target item.
func (s *Store) Query(h ContentHash) (State, error) {
	var state State
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		state = st
		return err
	})
	return state, err
}

// Lookup reports h's current state, and if Complete, the item it
// resolves to.
func (s *Store) Lookup(h ContentHash) (State, Item, error) {
	var state State
	var item Item
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		state = st
		if st == Complete {
			it, err := s.resolveCompleteLink(h)
			if err != nil {
				return err
			}
			item = it
		}
		return nil
	})
	return state, item, err
}

// LookupOrWait behaves like Lookup, except that when h is Pending it
// also returns a live [Subscription] that resolves once the key
// leaves the Pending state. The Subscription is nil for any other
// state.
func (s *Store) LookupOrWait(h ContentHash) (State, Item, *Subscription, error) {
	var state State
	var item Item
	var sub *Subscription
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		state = st
		switch st {
		case Complete:
			it, err := s.resolveCompleteLink(h)
			if err != nil {
				return err
			}
			item = it
		case Pending:
			sub = s.notifier.subscribe(h)
		}
		return nil
	})
	return state, item, sub, err
}

// createPendingLocked creates pending-<hash>/ and writes its
// provenance lease. Callers must hold the store lock and must have
// already verified h is Missing.
func (s *Store) createPendingLocked(h ContentHash) (string, error) {
	var buildDir string
	err := s.withWritableRoot(func() error {
		dir := s.pendingPath(h)
		if err := os.Mkdir(dir, writableDirMode); err != nil {
			return fmt.Errorf("castore: creating pending directory for %s: %w", h, err)
		}
		if err := s.writeLease(dir); err != nil {
			// The lease is diagnostic-only: a process that can tell
			// you who owns a build is strictly better than one that
			// can't, but failing to write it must never block the
			// build itself.
			s.logger.Warn("writing provenance lease failed", "hash", h.String(), "error", err)
		}
		buildDir = dir
		return nil
	})
	return buildDir, err
}

// MarkPending transitions h from Missing to Pending and returns the
// path to its private build directory. Returns AlreadyPendingError or
// AlreadyCompleteError if h is not Missing.
func (s *Store) MarkPending(h ContentHash) (string, error) {
	var buildDir string
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		switch st {
		case Pending:
			return &AlreadyPendingError{Hash: h}
		case Complete:
			return &AlreadyCompleteError{Hash: h}
		}
		dir, err := s.createPendingLocked(h)
		if err != nil {
			return err
		}
		buildDir = dir
		return nil
	})
	return buildDir, err
}

// MarkComplete transitions h from Pending to Complete. It seals the
// build directory (clearing write permission bottom-up), hashes its
// contents, and either discards the build in favor of an existing
// identical item (dedup) or moves it into place as a new item. A
// complete-<hash> symlink is created pointing at whichever item
// directory holds the result.
//
// Returns NotPendingError if h is Missing, or AlreadyCompleteError if
// h is already Complete.
func (s *Store) MarkComplete(h ContentHash) (Item, error) {
	var item Item
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		switch st {
		case Missing:
			return &NotPendingError{Hash: h}
		case Complete:
			return &AlreadyCompleteError{Hash: h}
		}

		buildDir := s.pendingPath(h)

		// The provenance lease describes the build, not its output:
		// drop it before sealing so it is neither part of the item nor
		// of the hash that dedup compares.
		if err := os.Remove(filepath.Join(buildDir, leaseFileName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("castore: removing lease from %s: %w", buildDir, err)
		}

		if err := sealTree(buildDir); err != nil {
			return fmt.Errorf("castore: sealing %s: %w", buildDir, err)
		}

		outHash, err := s.cfg.Hasher.HashDir(buildDir)
		if err != nil {
			return fmt.Errorf("castore: hashing %s: %w", buildDir, err)
		}
		finalPath := s.itemPath(outHash)

		it, err := s.finalizeComplete(h, buildDir, finalPath, outHash)
		if err != nil {
			return err
		}
		item = it
		return nil
	})
	return item, err
}

// finalizeComplete performs the dedup check and the rename-or-discard
// plus symlink creation under a writable root. Callers must hold the
// store lock.
func (s *Store) finalizeComplete(h ContentHash, buildDir, finalPath string, outHash ContentHash) (Item, error) {
	var item Item
	err := s.withWritableRoot(func() error {
		if _, err := os.Lstat(finalPath); err == nil {
			if err := os.RemoveAll(buildDir); err != nil {
				return fmt.Errorf("castore: discarding duplicate build for %s: %w", h, err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("castore: checking for existing item %s: %w", outHash, err)
		} else {
			if err := os.Rename(buildDir, finalPath); err != nil {
				return fmt.Errorf("castore: renaming build for %s into place: %w", h, err)
			}
		}

		linkTarget := itemPrefix + outHash.String()
		if err := os.Symlink(linkTarget, s.completePath(h)); err != nil {
			return fmt.Errorf("castore: linking complete-%s: %w", h, err)
		}
		item = Item{OutputHash: outHash}
		return nil
	})
	return item, err
}

// RemoveFailed removes a Pending key's build directory without
// producing an item, returning it to Missing. Returns NotPendingError
// if h is Missing, or AlreadyCompleteError if h is Complete.
func (s *Store) RemoveFailed(h ContentHash) error {
	return s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		switch st {
		case Missing:
			return &NotPendingError{Hash: h}
		case Complete:
			return &AlreadyCompleteError{Hash: h}
		}
		return s.withWritableRoot(func() error {
			if err := os.RemoveAll(s.pendingPath(h)); err != nil {
				return fmt.Errorf("castore: removing pending directory for %s: %w", h, err)
			}
			return nil
		})
	})
}

// RemoveForcibly removes whatever top-level entry h currently has —
// a pending directory, a complete symlink, or (if the link was
// corrupted) the dangling link itself — returning h to Missing. It
// never touches the item directory a complete link may have pointed
// at; use RemoveItemForcibly for that. A Missing key is left
// unchanged; RemoveForcibly never errors on a key that was already
// Missing.
func (s *Store) RemoveForcibly(h ContentHash) error {
	return s.withLock(func() error {
		st, queryErr := s.queryLocked(h)
		if queryErr != nil {
			if _, corrupted := queryErr.(*CorruptedLinkError); corrupted {
				st = Complete
			} else {
				return queryErr
			}
		}
		return s.withWritableRoot(func() error {
			switch st {
			case Pending:
				if err := os.RemoveAll(s.pendingPath(h)); err != nil {
					return fmt.Errorf("castore: removing pending directory for %s: %w", h, err)
				}
			case Complete:
				if err := os.Remove(s.completePath(h)); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("castore: removing complete link for %s: %w", h, err)
				}
			}
			return nil
		})
	})
}

// RemoveItemForcibly deletes an item directory outright, regardless
// of whether any complete-<hash> symlink still points at it. Callers
// are responsible for knowing no live key references item before
// calling this; the store does not track reverse references.
func (s *Store) RemoveItemForcibly(item Item) error {
	return s.withLock(func() error {
		return s.withWritableRoot(func() error {
			if err := os.RemoveAll(s.itemPath(item.OutputHash)); err != nil {
				return fmt.Errorf("castore: removing item %s: %w", item.OutputHash, err)
			}
			return nil
		})
	})
}

// ConstructResult reports the outcome of ConstructIfMissing or
// ConstructOrWait.
type ConstructResult struct {
	// State is the key's state as of this call: Complete if the item
	// already existed, or Pending either because it already was or
	// because this call just created it.
	State State

	// Item is populated when State is Complete.
	Item Item

	// BuildDir is populated only when this call itself transitioned
	// h from Missing to Pending. An empty BuildDir with State ==
	// Pending means some other caller already owns the build.
	BuildDir string
}

// ConstructIfMissing atomically ensures h is at least Pending: if it
// is Missing, this call creates the pending directory and returns it
// as BuildDir; if it is already Pending or Complete, this call
// reports that state without side effects.
func (s *Store) ConstructIfMissing(h ContentHash) (ConstructResult, error) {
	var result ConstructResult
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		switch st {
		case Complete:
			it, err := s.resolveCompleteLink(h)
			if err != nil {
				return err
			}
			result = ConstructResult{State: Complete, Item: it}
		case Pending:
			result = ConstructResult{State: Pending}
		default:
			dir, err := s.createPendingLocked(h)
			if err != nil {
				return err
			}
			result = ConstructResult{State: Pending, BuildDir: dir}
		}
		return nil
	})
	return result, err
}

// ConstructOrWait behaves like ConstructIfMissing, except that when
// the key is already Pending (owned by someone else), it also
// returns a live [Subscription] that resolves once the build
// finishes or fails.
func (s *Store) ConstructOrWait(h ContentHash) (ConstructResult, *Subscription, error) {
	var result ConstructResult
	var sub *Subscription
	err := s.withLock(func() error {
		st, err := s.queryLocked(h)
		if err != nil {
			return err
		}
		switch st {
		case Complete:
			it, err := s.resolveCompleteLink(h)
			if err != nil {
				return err
			}
			result = ConstructResult{State: Complete, Item: it}
		case Pending:
			result = ConstructResult{State: Pending}
			sub = s.notifier.subscribe(h)
		default:
			dir, err := s.createPendingLocked(h)
			if err != nil {
				return err
			}
			result = ConstructResult{State: Pending, BuildDir: dir}
		}
		return nil
	})
	return result, sub, err
}
