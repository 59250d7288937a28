// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package castore

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// watchPendingDir watches path using kqueue's EVFILT_VNODE filter for
// the BSD/Darwin equivalent of the inotify events notify_linux.go
// watches for: attribute changes, renames, and deletes of the watched
// path itself.
func watchPendingDir(path string, dirty chan<- struct{}) (func(), error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}

	watchFd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		unix.Close(kq)
		return nil, fmt.Errorf("opening %s for watch: %w", path, err)
	}

	event := unix.Kevent_t{
		Ident:  uint64(watchFd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
		Fflags: unix.NOTE_ATTRIB | unix.NOTE_RENAME | unix.NOTE_DELETE,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{event}, nil, nil); err != nil {
		unix.Close(watchFd)
		unix.Close(kq)
		return nil, fmt.Errorf("registering kevent on %s: %w", path, err)
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	go kqueueReadLoop(kq, dirty, stopCh)

	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			unix.Close(watchFd)
			unix.Close(kq)
		})
	}
	return stop, nil
}

func kqueueReadLoop(kq int, dirty chan<- struct{}, stopCh <-chan struct{}) {
	events := make([]unix.Kevent_t, 4)
	timeout := unix.NsecToTimespec(100 * 1_000_000) // 100ms

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := unix.Kevent(kq, nil, events, &timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		signal(dirty)
	}
}
