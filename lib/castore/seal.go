// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package castore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sealTree clears write permission from every file and directory
// under root, bottom-up: children are sealed before their parent, so
// a build directory is never left in a state where some of its
// children carry write permission but the directory itself does not.
//
// Symlinks are left untouched — chmod follows a symlink to its
// target, which may live outside the tree being sealed.
func sealTree(root string) error {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", root, err)
	}

	for i := len(paths) - 1; i >= 0; i-- {
		path := paths[i]
		info, err := os.Lstat(path)
		if err != nil {
			return fmt.Errorf("stating %s: %w", path, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			continue
		}
		sealedMode := info.Mode().Perm() &^ 0o222
		if err := os.Chmod(path, sealedMode); err != nil {
			return fmt.Errorf("clearing write permission on %s: %w", path, err)
		}
	}
	return nil
}
