// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"path/filepath"
	"strings"
)

const (
	pendingPrefix  = "pending-"
	completePrefix = "complete-"
	itemPrefix     = "item-"
	lockFileName   = "lock"

	// leaseFileName names the provenance sidecar written inside each
	// pending-<hash>/ directory. It starts with a dot so it never
	// collides with build output written by the caller.
	leaseFileName = ".castore-lease"
)

// State is a key's position in the Missing/Pending/Complete lifecycle.
type State int

const (
	Missing State = iota
	Pending
	Complete
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Item identifies a sealed, content-addressed output directory.
// Two different build keys that produce byte-identical output share
// the same Item.
type Item struct {
	OutputHash ContentHash
}

func (s *Store) pendingPath(h ContentHash) string {
	return filepath.Join(s.root, pendingPrefix+h.String())
}

func (s *Store) completePath(h ContentHash) string {
	return filepath.Join(s.root, completePrefix+h.String())
}

func (s *Store) itemPath(h ContentHash) string {
	return filepath.Join(s.root, itemPrefix+h.String())
}

// ItemPath returns the absolute path to item's sealed output
// directory. The directory and everything beneath it is read-only.
func (s *Store) ItemPath(item Item) string {
	return s.itemPath(item.OutputHash)
}

// parseItemLinkTarget parses a complete-<hash> symlink target,
// returning the item hash it names. Only the base name is
// examined, since a well-formed target is always a sibling entry
// within the store root.
func parseItemLinkTarget(target string) (ContentHash, bool) {
	base := filepath.Base(target)
	if !strings.HasPrefix(base, itemPrefix) {
		return ContentHash{}, false
	}
	h, err := ParseContentHash(strings.TrimPrefix(base, itemPrefix))
	if err != nil {
		return ContentHash{}, false
	}
	return h, true
}
