// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basinlabs/castore/lib/codec"
)

// LeaseInfo is the provenance record written into a pending
// directory when it is created. It exists purely for operators
// diagnosing a stuck or abandoned build; no store operation reads it.
type LeaseInfo struct {
	OwnerPID  int    `cbor:"owner_pid"`
	OwnerHost string `cbor:"owner_host,omitempty"`
	StartedAt string `cbor:"started_at"`
}

// writeLease atomically writes a lease record into pendingDir,
// following the same temp-file-plus-rename-plus-fsync pattern used
// everywhere else this store needs a write to be durable and
// all-or-nothing.
func (s *Store) writeLease(pendingDir string) error {
	record := LeaseInfo{
		OwnerPID:  os.Getpid(),
		OwnerHost: s.hostname,
		StartedAt: s.cfg.Clock.Now().UTC().Format(time.RFC3339Nano),
	}

	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding lease: %w", err)
	}

	path := filepath.Join(pendingDir, leaseFileName)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating lease file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing lease file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing lease file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing lease file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming lease file into place: %w", err)
	}

	dir, err := os.Open(pendingDir)
	if err != nil {
		return fmt.Errorf("opening %s for durability sync: %w", pendingDir, err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", pendingDir, err)
	}
	return nil
}

// ReadLease reads the provenance lease for a key that is (or recently
// was) Pending. Returns an error wrapping os.ErrNotExist if no lease
// is present — either because h is not Pending, or because
// writeLease failed when the build started (it logs a warning rather
// than failing mark_pending, since the lease cannot affect
// correctness).
func (s *Store) ReadLease(h ContentHash) (LeaseInfo, error) {
	path := filepath.Join(s.pendingPath(h), leaseFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return LeaseInfo{}, fmt.Errorf("castore: reading lease for %s: %w", h, err)
	}
	var info LeaseInfo
	if err := codec.Unmarshal(data, &info); err != nil {
		return LeaseInfo{}, fmt.Errorf("castore: decoding lease for %s: %w", h, err)
	}
	return info, nil
}
