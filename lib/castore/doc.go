// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package castore implements a content-addressed filesystem store: a
// directory tree that tracks build artifacts through a three-state
// lifecycle — Missing, Pending, Complete — using nothing but directory
// names, symlinks, and permission bits as the source of truth.
//
// A key enters the store by being marked pending, which hands the
// caller a private build directory (pending-<hash>/) to populate.
// Once the build finishes, marking it complete seals the directory
// (clears write permission bottom-up), hashes its contents, and
// either links it to an existing identical item (dedup) or moves it
// into place as a new item-<hash>/ directory. A symlink named
// complete-<hash> then points at whichever item directory holds the
// result, so two different build keys that happen to produce
// byte-identical output end up sharing one item directory on disk.
//
// Every top-level mutation — creating or removing a pending-<hash>/
// entry, creating or removing a complete-<hash> symlink, renaming a
// sealed build into item-<hash>/ — is serialized by a nested lock: an
// in-process sync.Mutex guarding a whole-file advisory flock on
// root/lock, so both goroutines within one process and cooperating
// processes across a shared filesystem see a consistent view. The
// store's root directory itself carries no owner-write permission at
// rest; it is toggled on only for the duration of a locked mutation
// and restored immediately afterward, so a crash between operations
// leaves the root visibly read-only rather than silently writable.
//
// Callers that need to wait for a key to leave the Pending state
// without polling subscribe through the notifier (notify.go), which
// multiplexes any number of waiters for the same key onto one
// filesystem watch (inotify on Linux, kqueue on BSD and Darwin) backed
// by a slow poll fallback everywhere else.
//
// None of this depends on what a "build" produces. The Hasher
// interface (hash.go) is the only place content semantics enter the
// picture, and the store accepts any implementation — the shipped
// BLAKE3Hasher is a reasonable default, not a requirement.
package castore
