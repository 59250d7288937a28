// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"context"
	"errors"
	"sync"
)

// Resolution is what a [Subscription] eventually delivers: either the
// item a Pending key resolved to, or notice that it resolved to
// Missing instead (the build failed, or was removed out from under
// the waiter).
type Resolution struct {
	Item   Item
	Failed bool
}

// Subscription is a handle on one waiter's interest in a Pending
// key's eventual resolution. Any number of Subscriptions for the
// same key share one underlying filesystem watch; the first
// subscriber pays to set it up, the last one's resolution tears it
// down.
type Subscription struct {
	ch <-chan Resolution
}

// Resolution returns the channel the waiter's result arrives on. It
// delivers exactly one value and is then closed.
func (sub *Subscription) Resolution() <-chan Resolution {
	return sub.ch
}

// Wait blocks until the subscription resolves or ctx is done,
// whichever happens first.
func (sub *Subscription) Wait(ctx context.Context) (Resolution, error) {
	select {
	case res, ok := <-sub.ch:
		if !ok {
			return Resolution{Failed: true}, nil
		}
		return res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// notifier multiplexes any number of waiters for the same pending
// key onto one filesystem watch plus a slow poll fallback, so a
// store with a thousand callers waiting on the same build does not
// open a thousand inotify watches.
type notifier struct {
	store *Store

	mu      sync.Mutex
	watches map[ContentHash]*watchEntry
}

// watchEntry tracks the state shared by every waiter on one key.
type watchEntry struct {
	waiters []chan Resolution

	// dirty is signaled (non-blocking, coalesced) by the platform
	// watch backend whenever it observes an event on the pending
	// directory. The poll loop treats it identically to a ticker
	// tick: both just mean "requery now."
	dirty chan struct{}

	// stop is closed exactly once to tear down this entry's pump
	// goroutine, by whichever of finish or closeAll gets there first.
	stop     chan struct{}
	stopOnce sync.Once

	// cancel tears down the platform-specific watch. Nil if the
	// platform backend failed to set up (the poll fallback alone
	// still applies in that case).
	cancel func()
}

func (e *watchEntry) requestStop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func newNotifier(s *Store) *notifier {
	return &notifier{
		store:   s,
		watches: make(map[ContentHash]*watchEntry),
	}
}

// subscribe registers a new waiter for h, starting a watch if none is
// active yet for this key. Callers must hold the store lock (this is
// only ever called from within withLock).
func (n *notifier) subscribe(h ContentHash) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Resolution, 1)

	entry, ok := n.watches[h]
	if !ok {
		entry = &watchEntry{
			dirty: make(chan struct{}, 1),
			stop:  make(chan struct{}),
		}
		cancel, err := watchPendingDir(n.store.pendingPath(h), entry.dirty)
		if err != nil {
			n.store.logger.Warn("starting filesystem watch failed, falling back to polling only",
				"hash", h.String(), "error", err)
		} else {
			entry.cancel = cancel
		}
		n.watches[h] = entry
		go n.pump(h, entry)
	}

	entry.waiters = append(entry.waiters, ch)
	return &Subscription{ch: ch}
}

// pump drives one key's watch entry: it wakes on either a dirty
// signal from the platform watch or the poll-fallback ticker, requeries
// the key's state, and either loops (still Pending) or resolves every
// waiter and exits (no longer Pending, or a query error it cannot
// recover from).
func (n *notifier) pump(h ContentHash, entry *watchEntry) {
	ticker := n.store.cfg.Clock.NewTicker(n.store.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-entry.stop:
			return
		case <-entry.dirty:
		case <-ticker.C:
		}

		done, err := n.requery(h, entry)
		if err != nil {
			n.store.logger.Error("notifier requery failed", "hash", h.String(), "error", err)
			return
		}
		if done {
			return
		}
	}
}

// requery takes the store lock to check h's current state. If it is
// still Pending, it reports not-done so pump keeps waiting. Otherwise
// it resolves every waiter and reports done.
func (n *notifier) requery(h ContentHash, entry *watchEntry) (done bool, err error) {
	state, item, lookupErr := n.store.Lookup(h)
	if lookupErr != nil {
		var corrupted *CorruptedLinkError
		if errors.As(lookupErr, &corrupted) {
			n.finish(h, entry, Resolution{Failed: true})
			return true, nil
		}
		return false, lookupErr
	}

	switch state {
	case Pending:
		return false, nil
	case Complete:
		n.finish(h, entry, Resolution{Item: item})
		return true, nil
	default: // Missing: the build failed or was removed.
		n.finish(h, entry, Resolution{Failed: true})
		return true, nil
	}
}

// finish delivers res to every waiter on entry, removes entry from
// the watch table, and tears down its watch and pump goroutine.
func (n *notifier) finish(h ContentHash, entry *watchEntry, res Resolution) {
	n.mu.Lock()
	if n.watches[h] == entry {
		delete(n.watches, h)
	}
	n.mu.Unlock()

	entry.requestStop()
	if entry.cancel != nil {
		entry.cancel()
	}

	for _, ch := range entry.waiters {
		ch <- res
		close(ch)
	}
}

// closeAll tears down every outstanding watch, resolving their
// waiters with Resolution{Failed: true} since the store handle they
// were waiting on is going away. Called from Store.Close.
func (n *notifier) closeAll() {
	n.mu.Lock()
	watches := n.watches
	n.watches = make(map[ContentHash]*watchEntry)
	n.mu.Unlock()

	for _, entry := range watches {
		entry.requestStop()
		if entry.cancel != nil {
			entry.cancel()
		}
		for _, ch := range entry.waiters {
			select {
			case ch <- Resolution{Failed: true}:
			default:
			}
			close(ch)
		}
	}
}

// signal performs a non-blocking, coalescing send: if dirty already
// has a pending signal buffered, this is a no-op. Platform watch
// backends call this from their own read loop.
func signal(dirty chan<- struct{}) {
	select {
	case dirty <- struct{}{}:
	default:
	}
}
