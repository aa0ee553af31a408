// Package localfs serves a directory through the same list/fetch/put
// contract as a remote drive, for bulk edits of a local checkout.
package localfs

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dgallion1/mdbulk/internal/drive"
)

// DriveID is the drive ID of every item served from a directory.
const DriveID = "local"

// Store exposes the directory tree under its root. Item IDs are the
// URL-escaped slash paths of items relative to the root; the root is ".".
type Store struct {
	root string
}

// New returns a store rooted at dir, which must exist and be a directory.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &Store{root: abs}, nil
}

// Root returns the ref of the root directory.
func (s *Store) Root() drive.ItemRef {
	return drive.ItemRef{DriveID: DriveID, ID: ".", Kind: drive.KindFolder}
}

// Ref returns the ref of a slash path relative to the root.
func (s *Store) Ref(rel string) drive.ItemRef {
	return drive.ItemRef{DriveID: DriveID, ID: url.PathEscape(path.Clean(rel))}
}

// ListChildren lists a directory in name order. Symlinks are followed;
// entries that cannot be stat'ed or are neither files nor directories have
// KindUnknown.
func (s *Store) ListChildren(ctx context.Context, ref drive.ItemRef) ([]drive.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]drive.Item, 0, len(entries))
	for _, e := range entries {
		child := s.Ref(path.Join(rel, e.Name()))
		if info, err := os.Stat(filepath.Join(full, e.Name())); err == nil {
			switch {
			case info.IsDir():
				child.Kind = drive.KindFolder
			case info.Mode().IsRegular():
				child.Kind = drive.KindFile
			}
		}
		items = append(items, drive.Item{Name: e.Name(), Ref: child})
	}
	return items, nil
}

// Download reads a file.
func (s *Store) Download(ctx context.Context, ref drive.ItemRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, full, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// Upload overwrites an existing file in place, keeping its mode.
func (s *Store) Upload(ctx context.Context, ref drive.ItemRef, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, full, err := s.resolve(ref)
	if err != nil {
		return err
	}
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("write %s: not a regular file", rel)
	}
	if err := os.WriteFile(full, content, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// resolve maps ref to its relative slash path and absolute file path,
// rejecting refs of other drives.
func (s *Store) resolve(ref drive.ItemRef) (string, string, error) {
	if ref.DriveID != DriveID {
		return "", "", fmt.Errorf("item %s is not on the local drive", ref.Path())
	}
	rel, err := url.PathUnescape(ref.ID)
	if err != nil {
		return "", "", fmt.Errorf("item %s: %w", ref.Path(), err)
	}
	// Cleaning against "/" drops any ".." that would climb above the root.
	rel = path.Clean("/" + rel)[1:]
	if rel == "" {
		rel = "."
	}
	return rel, filepath.Join(s.root, filepath.FromSlash(rel)), nil
}
