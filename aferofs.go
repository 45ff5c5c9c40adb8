package gofat32

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

// AferoFS adapts a mounted FileSystem to afero.Fs.
type AferoFS struct {
	vfs  *VFS
	root *Vnode
}

// NewAferoFS wraps fs as an afero.Fs rooted at fs.Root().
func NewAferoFS(fs *FileSystem) *AferoFS {
	return &AferoFS{vfs: NewVFS(fs), root: fs.Root()}
}

func (a *AferoFS) Create(name string) (afero.File, error) {
	v, err := a.vfs.CreateFile(a.root, name, false)
	if err != nil {
		return nil, err
	}
	return NewFile(v, name), nil
}

func (a *AferoFS) Mkdir(name string, _ os.FileMode) error {
	v, err := a.vfs.CreateDir(a.root, name)
	if err != nil {
		return err
	}
	v.Unref()
	return nil
}

func (a *AferoFS) MkdirAll(path string, perm os.FileMode) error {
	elem, rest := skipElem(path)
	cur := a.root.Ref()
	built := ""
	for elem != "" {
		built += "/" + elem
		child, err := cur.refChild(elem)
		if err != nil {
			child, err = a.vfs.CreateDir(cur, elem)
			if err != nil {
				cur.Unref()
				return err
			}
		}
		cur.Unref()
		cur = child
		elem, rest = skipElem(rest)
	}
	cur.Unref()
	return nil
}

func (a *AferoFS) Open(name string) (afero.File, error) {
	return a.OpenFile(name, os.O_RDONLY, 0)
}

func (a *AferoFS) OpenFile(name string, flag int, _ os.FileMode) (afero.File, error) {
	v, err := a.vfs.Resolve(a.root, name)
	if err == nil {
		if flag&os.O_EXCL != 0 {
			v.Unref()
			return nil, checkpoint.Wrap(fmt.Errorf("fat32: %q exists", name), ErrExists)
		}
		if flag&os.O_TRUNC != 0 {
			if err := v.Truncate(); err != nil {
				v.Unref()
				return nil, err
			}
		}
		return NewFile(v, name), nil
	}
	if flag&os.O_CREATE == 0 {
		return nil, err
	}
	v, err = a.vfs.CreateFile(a.root, name, flag&os.O_EXCL != 0)
	if err != nil {
		return nil, err
	}
	return NewFile(v, name), nil
}

func (a *AferoFS) Remove(name string) error {
	return a.vfs.Remove(a.root, name)
}

func (a *AferoFS) RemoveAll(path string) error {
	v, err := a.vfs.Resolve(a.root, path)
	if err != nil {
		return nil // afero.RemoveAll treats a missing path as success
	}
	isDir := v.IsDirectory()
	v.Unref()
	if isDir {
		f, err := a.Open(path)
		if err != nil {
			return err
		}
		names, _ := f.Readdirnames(0)
		f.Close()
		for _, n := range names {
			if n == "." || n == ".." {
				continue
			}
			if err := a.RemoveAll(path + "/" + n); err != nil {
				return err
			}
		}
	}
	return a.vfs.Remove(a.root, path)
}

func (a *AferoFS) Rename(oldname, newname string) error {
	return a.vfs.Rename(a.root, oldname, newname)
}

func (a *AferoFS) Stat(name string) (os.FileInfo, error) {
	v, err := a.vfs.Resolve(a.root, name)
	if err != nil {
		return nil, err
	}
	defer v.Unref()
	return vnodeFileInfo{v}, nil
}

func (a *AferoFS) Name() string { return "fat32" }

// Chmod, Chtimes, and Chown are not supported: this filesystem carries no
// permission bits or timestamps worth mutating.
func (a *AferoFS) Chmod(string, os.FileMode) error { return nil }
func (a *AferoFS) Chtimes(string, time.Time, time.Time) error { return nil }
func (a *AferoFS) Chown(string, int, int) error { return nil }
