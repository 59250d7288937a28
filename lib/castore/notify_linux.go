// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package castore

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// watchPendingDir watches path for the events that matter to a
// pending directory's lifecycle: permission changes (sealing),
// self-rename (the dedup/rename-into-place step of mark_complete),
// and self-delete (remove_failed, remove_forcibly). It never inspects
// event payloads — any one of these events just means "requery."
func watchPendingDir(path string, dirty chan<- struct{}) (func(), error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init1: %w", err)
	}

	_, err = unix.InotifyAddWatch(fd, path, unix.IN_ATTRIB|unix.IN_MOVE_SELF|unix.IN_DELETE_SELF)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("inotify_add_watch on %s: %w", path, err)
	}

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	go inotifyReadLoop(fd, dirty, stopCh)

	stop := func() {
		stopOnce.Do(func() { close(stopCh) })
	}
	return stop, nil
}

// inotifyReadLoop polls fd with a short timeout so it notices stopCh
// closing promptly, then drains and discards whatever inotify_event
// records arrived — the event kind doesn't matter, only the fact
// that something happened.
func inotifyReadLoop(fd int, dirty chan<- struct{}, stopCh <-chan struct{}) {
	defer unix.Close(fd)

	buffer := make([]byte, 4096)
	pollFds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := unix.Poll(pollFds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		_, err = unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}
		signal(dirty)
	}
}
