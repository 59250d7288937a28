// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package castorefuse exposes a content-addressed store as a
// read-only FUSE filesystem: mountpoint/<output-hash>/... passes
// through to the store's item-<output-hash>/ directory on disk.
// Pending builds are never exposed — only item directories, reached
// by the hash a caller already holds from a completed MarkComplete
// or Lookup call.
package castorefuse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/basinlabs/castore/lib/castore"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// Created if it does not exist.
	Mountpoint string

	// Store is the content-addressed store whose item directories
	// this filesystem exposes.
	Store *castore.Store

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. Defaults to a discard
	// logger.
	Logger *slog.Logger
}

// Mount mounts the read-only item view at options.Mountpoint. The
// caller must call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("castorefuse: mountpoint is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("castorefuse: store is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("castorefuse: creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{options: &options}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "castore",
			Name:       "castore",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("castorefuse: mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("castore FUSE view mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// rootNode is the filesystem root. Its children are item hashes; each
// one resolves directly to the store's item-<hash>/ directory.
type rootNode struct {
	gofuse.Inode
	options *Options
}

var (
	_ gofuse.InodeEmbedder = (*rootNode)(nil)
	_ gofuse.NodeLookuper  = (*rootNode)(nil)
	_ gofuse.NodeReaddirer = (*rootNode)(nil)
)

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	hash, err := castore.ParseContentHash(name)
	if err != nil {
		return nil, syscall.ENOENT
	}

	realPath := r.options.Store.ItemPath(castore.Item{OutputHash: hash})
	info, err := os.Stat(realPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		r.options.Logger.Error("stat failed for item lookup", "hash", name, "error", err)
		return nil, syscall.EIO
	}
	if !info.IsDir() {
		r.options.Logger.Error("item path is not a directory", "hash", name, "path", realPath)
		return nil, syscall.EIO
	}

	child := r.NewPersistentInode(ctx, &passthroughDirNode{options: r.options, realPath: realPath}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	out.Mode = syscall.S_IFDIR | 0o555
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	snapshot, err := r.options.Store.ListAll()
	if err != nil {
		r.options.Logger.Error("listing store for readdir failed", "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(snapshot.Items))
	for _, h := range snapshot.Items {
		entries = append(entries, fuse.DirEntry{Name: h.String(), Mode: syscall.S_IFDIR})
	}
	return &sliceDirStream{entries: entries}, 0
}

// passthroughDirNode mirrors one real directory inside an item's
// sealed tree (the item root, or any subdirectory of it).
type passthroughDirNode struct {
	gofuse.Inode
	options  *Options
	realPath string
}

var (
	_ gofuse.InodeEmbedder = (*passthroughDirNode)(nil)
	_ gofuse.NodeLookuper  = (*passthroughDirNode)(nil)
	_ gofuse.NodeReaddirer = (*passthroughDirNode)(nil)
)

func (d *passthroughDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	childPath := filepath.Join(d.realPath, name)
	info, err := os.Lstat(childPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		d.options.Logger.Error("lstat failed", "path", childPath, "error", err)
		return nil, syscall.EIO
	}

	switch {
	case info.IsDir():
		child := d.NewPersistentInode(ctx, &passthroughDirNode{options: d.options, realPath: childPath}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
		out.Mode = syscall.S_IFDIR | 0o555
		return child, 0

	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(childPath)
		if err != nil {
			return nil, syscall.EIO
		}
		child := d.NewPersistentInode(ctx, &gofuse.MemSymlink{Data: []byte(target)}, gofuse.StableAttr{Mode: syscall.S_IFLNK})
		out.Mode = syscall.S_IFLNK | 0o444
		return child, 0

	default:
		child := d.NewPersistentInode(ctx, &passthroughFileNode{options: d.options, realPath: childPath}, gofuse.StableAttr{Mode: syscall.S_IFREG})
		out.Mode = syscall.S_IFREG | 0o444
		out.Size = uint64(info.Size())
		return child, 0
	}
}

func (d *passthroughDirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	dirEntries, err := os.ReadDir(d.realPath)
	if err != nil {
		d.options.Logger.Error("readdir failed", "path", d.realPath, "error", err)
		return nil, syscall.EIO
	}

	entries := make([]fuse.DirEntry, 0, len(dirEntries))
	for _, entry := range dirEntries {
		mode := uint32(syscall.S_IFREG)
		if info, err := entry.Info(); err == nil {
			switch {
			case info.IsDir():
				mode = syscall.S_IFDIR
			case info.Mode()&os.ModeSymlink != 0:
				mode = syscall.S_IFLNK
			}
		}
		entries = append(entries, fuse.DirEntry{Name: entry.Name(), Mode: mode})
	}
	return &sliceDirStream{entries: entries}, 0
}

// passthroughFileNode mirrors one real regular file inside an item's
// sealed tree. Reads are served by a plain pread on the underlying
// file; there is no chunking or reconstruction to do since item
// directories hold their content verbatim.
type passthroughFileNode struct {
	gofuse.Inode
	options  *Options
	realPath string
}

var (
	_ gofuse.InodeEmbedder = (*passthroughFileNode)(nil)
	_ gofuse.NodeGetattrer = (*passthroughFileNode)(nil)
	_ gofuse.NodeOpener    = (*passthroughFileNode)(nil)
	_ gofuse.NodeReader    = (*passthroughFileNode)(nil)
	_ gofuse.NodeReleaser  = (*passthroughFileNode)(nil)
)

func (f *passthroughFileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := os.Stat(f.realPath)
	if err != nil {
		return syscall.EIO
	}
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(info.Size())
	out.Blocks = (out.Size + 511) / 512
	return 0
}

func (f *passthroughFileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}

	file, err := os.Open(f.realPath)
	if err != nil {
		f.options.Logger.Error("open failed", "path", f.realPath, "error", err)
		return nil, 0, syscall.EIO
	}

	// Item contents never change once sealed, so the kernel page
	// cache is always valid.
	return &passthroughFileHandle{file: file}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *passthroughFileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	handle, ok := fh.(*passthroughFileHandle)
	if !ok {
		return nil, syscall.EIO
	}
	n, err := handle.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		f.options.Logger.Error("read failed", "path", f.realPath, "offset", off, "error", err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (f *passthroughFileNode) Release(ctx context.Context, fh gofuse.FileHandle) syscall.Errno {
	if handle, ok := fh.(*passthroughFileHandle); ok {
		handle.file.Close()
	}
	return 0
}

type passthroughFileHandle struct {
	file *os.File
}

// sliceDirStream implements gofuse.DirStream from a fixed slice of
// entries computed up front.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
