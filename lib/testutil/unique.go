// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// a test runs several goroutines concurrently and needs a label for
// each one that stays distinguishable in failure output — for example
// naming the competing owners in a concurrent lease-acquisition test.
//
//	owner := testutil.UniqueID("owner")  // "owner-1", "owner-2", ...
//	worker := testutil.UniqueID("build") // "build-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
