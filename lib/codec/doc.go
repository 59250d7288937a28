// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides castore's standard CBOR encoding configuration.
//
// The store's correctness never depends on this package — every
// invariant in lib/castore is expressed as directory existence, a
// symlink target, or a permission bit, not as bytes on disk. This
// package exists for the one piece of state that is genuinely a
// document: the provenance lease sidecar that lib/castore writes into
// each pending-<hash>/ directory (see lease.go) so an operator can tell
// which process is building it.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every lease record encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which matters for a file whose whole purpose is to be diffed
// and read by a human during an incident.
//
// For buffer-oriented operations (files):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec
