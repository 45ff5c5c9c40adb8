package gofat32

import (
	"fmt"
	"strings"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

// VFS is the path-resolving shell (C7): it walks absolute and relative
// paths through vnodes and funnels create/remove/rename/link requests to a
// vnode's parent.
type VFS struct {
	fs *FileSystem
}

// NewVFS wraps fs with path resolution.
func NewVFS(fs *FileSystem) *VFS {
	return &VFS{fs: fs}
}

// skipElem returns the first "/"-delimited path component and the
// remainder of the path after it, skipping repeated and leading slashes.
func skipElem(path string) (elem, rest string) {
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return "", ""
	}
	i := strings.IndexByte(path, '/')
	if i < 0 {
		return path, ""
	}
	return path[:i], strings.TrimLeft(path[i:], "/")
}

// Resolve walks path, starting from base if relative or from the root if
// path begins with "/". It returns a referenced vnode, or an error
// wrapping ErrNotFound if any element is missing.
func (v *VFS) Resolve(base *Vnode, path string) (*Vnode, error) {
	var cur *Vnode
	if strings.HasPrefix(path, "/") {
		cur = v.fs.Root()
	} else {
		cur = base.Ref()
	}

	elem, rest := skipElem(path)
	for elem != "" {
		var next *Vnode
		var err error
		switch elem {
		case ".":
			next = cur.Ref()
		case "..":
			next = cur.RefParent()
		default:
			next, err = cur.refChild(elem)
		}
		cur.Unref()
		if err != nil {
			return nil, err
		}
		cur = next
		elem, rest = skipElem(rest)
	}
	return cur, nil
}

// ResolveParent walks path up to, but not including, its final component,
// returning the parent vnode and the final component's name. It fails if
// path has zero components.
func (v *VFS) ResolveParent(base *Vnode, path string) (*Vnode, string, error) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	var dir, last string
	if i < 0 {
		dir, last = "", path
	} else {
		dir, last = path[:i], path[i+1:]
	}
	if last == "" {
		return nil, "", checkpoint.Wrap(fmt.Errorf("fat32: empty path"), ErrInvalid)
	}
	if dir == "" && !strings.HasPrefix(path, "/") {
		dir = "."
	} else if dir == "" {
		dir = "/"
	}
	parent, err := v.Resolve(base, dir)
	if err != nil {
		return nil, "", err
	}
	return parent, last, nil
}

// CreateFile resolves path's parent and creates a regular file there.
func (v *VFS) CreateFile(base *Vnode, path string, excl bool) (*Vnode, error) {
	parent, name, err := v.ResolveParent(base, path)
	if err != nil {
		return nil, err
	}
	defer parent.Unref()
	return parent.CreateFile(name, excl)
}

// CreateDir resolves path's parent and creates a subdirectory there.
func (v *VFS) CreateDir(base *Vnode, path string) (*Vnode, error) {
	parent, name, err := v.ResolveParent(base, path)
	if err != nil {
		return nil, err
	}
	defer parent.Unref()
	return parent.CreateDir(name)
}

// CreateDevice and CreateSocket always fail: FAT32 has no special files.
func (v *VFS) CreateDevice(base *Vnode, path string) (*Vnode, error) {
	parent, name, err := v.ResolveParent(base, path)
	if err != nil {
		return nil, err
	}
	defer parent.Unref()
	return parent.CreateDevice(name)
}

func (v *VFS) CreateSocket(base *Vnode, path string) (*Vnode, error) {
	parent, name, err := v.ResolveParent(base, path)
	if err != nil {
		return nil, err
	}
	defer parent.Unref()
	return parent.CreateSocket(name)
}

// Remove resolves path's parent and removes the named entry.
func (v *VFS) Remove(base *Vnode, path string) error {
	parent, name, err := v.ResolveParent(base, path)
	if err != nil {
		return err
	}
	defer parent.Unref()
	return parent.Remove(name)
}

// Hardlink always fails: FAT32 has no hardlinks.
func (v *VFS) Hardlink(base *Vnode, oldpath, newpath string) error {
	old, err := v.Resolve(base, oldpath)
	if err != nil {
		return err
	}
	old.Unref()
	return checkpoint.Wrap(fmt.Errorf("fat32: hardlinks are not supported"), ErrInvalid)
}

// Rename always fails: this filesystem does not implement rename (the
// source kernel's fat32_vnode::rename is an unconditional stub as well).
func (v *VFS) Rename(base *Vnode, oldpath, newpath string) error {
	old, err := v.Resolve(base, oldpath)
	if err != nil {
		return err
	}
	old.Unref()
	if existing, err := v.Resolve(base, newpath); err == nil {
		existing.Unref()
		return checkpoint.Wrap(fmt.Errorf("fat32: %q exists", newpath), ErrExists)
	}
	return checkpoint.Wrap(fmt.Errorf("fat32: rename is not supported"), ErrInvalid)
}
