// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
)

// Snapshot is a point-in-time listing of every top-level entry in a
// store root, grouped by kind.
type Snapshot struct {
	Pending  []ContentHash
	Complete []ContentHash
	Items    []ContentHash
}

// ListAll enumerates every pending, complete, and item entry
// currently in the store root. The result is a snapshot: nothing
// prevents another operation from changing the store the moment this
// call returns.
func (s *Store) ListAll() (Snapshot, error) {
	var snap Snapshot
	err := s.withLock(func() error {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return fmt.Errorf("castore: reading store root: %w", err)
		}

		for _, entry := range entries {
			name := entry.Name()
			switch {
			case name == lockFileName:
				continue
			case strings.HasPrefix(name, pendingPrefix):
				if h, err := ParseContentHash(strings.TrimPrefix(name, pendingPrefix)); err == nil {
					snap.Pending = append(snap.Pending, h)
				}
			case strings.HasPrefix(name, completePrefix):
				if h, err := ParseContentHash(strings.TrimPrefix(name, completePrefix)); err == nil {
					snap.Complete = append(snap.Complete, h)
				}
			case strings.HasPrefix(name, itemPrefix):
				if h, err := ParseContentHash(strings.TrimPrefix(name, itemPrefix)); err == nil {
					snap.Items = append(snap.Items, h)
				}
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	s.logger.Debug("enumerated store",
		"root", s.root,
		"pending", humanize.Comma(int64(len(snap.Pending))),
		"complete", humanize.Comma(int64(len(snap.Complete))),
		"items", humanize.Comma(int64(len(snap.Items))),
	)
	return snap, nil
}
