// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// ContentHash identifies an item directory by the hash of its
// contents. The zero value never names a real item.
type ContentHash [32]byte

// String returns the canonical encoding of h: unpadded, URL-safe
// base64 (RFC 4648 §5). The encoding is case-preserving, unlike hex,
// which matters for the mixed-case alphabet base64 uses.
func (h ContentHash) String() string {
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash parses the canonical encoding produced by
// [ContentHash.String].
func ParseContentHash(s string) (ContentHash, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ContentHash{}, fmt.Errorf("castore: parsing content hash %q: %w", s, err)
	}
	if len(decoded) != len(ContentHash{}) {
		return ContentHash{}, fmt.Errorf("castore: content hash %q decodes to %d bytes, want %d", s, len(decoded), len(ContentHash{}))
	}
	var h ContentHash
	copy(h[:], decoded)
	return h, nil
}

// Hasher computes the content identity of a sealed directory tree.
// The store calls HashDir exactly once per mark_complete, after
// sealing and before the dedup check, so the hash must be a pure
// function of the tree's final, read-only contents.
//
// Implementations must be deterministic: the same tree contents must
// always produce the same hash, regardless of which process or
// machine computed it, since dedup across independent producers
// depends on that property.
type Hasher interface {
	HashDir(path string) (ContentHash, error)
}

// directoryDomainKey separates castore's directory hash from any other
// use of BLAKE3 keyed hashing elsewhere in the process. It has no
// significance beyond being a fixed, unique 32-byte value.
var directoryDomainKey = [32]byte{
	'c', 'a', 's', 't', 'o', 'r', 'e', '.', 'd', 'i', 'r', 'e', 'c', 't', 'o', 'r',
	'y', '.', 'v', '1', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// BLAKE3Hasher is the default [Hasher]. It walks the tree in sorted
// relative-path order and folds each entry's path, kind, and contents
// into a single keyed BLAKE3 digest, so the result depends only on
// the tree's structure and bytes, not on directory traversal order or
// filesystem timestamps.
//
// Regular file contents are hashed; directories contribute only their
// path; symlinks contribute their path and target text, not whatever
// they point at. Executable permission bits are not folded in unless
// IncludeExecuteBit is set, matching the store's default treatment of
// the execute bit as metadata rather than content.
type BLAKE3Hasher struct {
	IncludeExecuteBit bool
}

const (
	entryKindDir     = 'd'
	entryKindFile    = 'f'
	entryKindSymlink = 'l'
)

func (h BLAKE3Hasher) HashDir(root string) (ContentHash, error) {
	hasher, err := blake3.NewKeyed(directoryDomainKey[:])
	if err != nil {
		return ContentHash{}, fmt.Errorf("castore: initializing hasher: %w", err)
	}

	var relPaths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return ContentHash{}, fmt.Errorf("castore: walking %s: %w", root, err)
	}
	sort.Strings(relPaths)

	for _, rel := range relPaths {
		full := filepath.Join(root, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return ContentHash{}, fmt.Errorf("castore: stating %s: %w", full, err)
		}

		writeEntryHeader(hasher, rel)

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return ContentHash{}, fmt.Errorf("castore: reading symlink %s: %w", full, err)
			}
			hasher.Write([]byte{entryKindSymlink})
			writeLengthPrefixed(hasher, []byte(target))

		case info.IsDir():
			hasher.Write([]byte{entryKindDir})

		default:
			hasher.Write([]byte{entryKindFile})
			if h.IncludeExecuteBit && info.Mode()&0o100 != 0 {
				hasher.Write([]byte{1})
			} else {
				hasher.Write([]byte{0})
			}
			var sizeBytes [8]byte
			size := uint64(info.Size())
			for i := range sizeBytes {
				sizeBytes[i] = byte(size >> (8 * i))
			}
			hasher.Write(sizeBytes[:])
			f, err := os.Open(full)
			if err != nil {
				return ContentHash{}, fmt.Errorf("castore: opening %s: %w", full, err)
			}
			_, err = io.Copy(hasher, f)
			closeErr := f.Close()
			if err != nil {
				return ContentHash{}, fmt.Errorf("castore: hashing %s: %w", full, err)
			}
			if closeErr != nil {
				return ContentHash{}, fmt.Errorf("castore: closing %s: %w", full, closeErr)
			}
		}
	}

	var out ContentHash
	copy(out[:], hasher.Sum(nil))
	return out, nil
}

// writeEntryHeader writes a length-prefixed relative path so that no
// sequence of (path, kind, content) triples admits two distinct
// parses.
func writeEntryHeader(w io.Writer, rel string) {
	writeLengthPrefixed(w, []byte(rel))
}

func writeLengthPrefixed(w io.Writer, b []byte) {
	var lengthBytes [8]byte
	length := uint64(len(b))
	for i := range lengthBytes {
		lengthBytes[i] = byte(length >> (8 * i))
	}
	w.Write(lengthBytes[:])
	w.Write(b)
}
