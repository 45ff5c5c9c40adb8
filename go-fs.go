package gofat32

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
)

// GoDirEntry adapts an os.FileInfo to fs.DirEntry.
type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode { return g.FileInfo.Mode().Type() }

func (g GoDirEntry) Info() (fs.FileInfo, error) { return g.FileInfo, nil }

// GoFile adapts a *File to fs.ReadDirFile.
type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) { return g.File.Stat() }

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)
	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = GoDirEntry{e}
	}
	return goEntries, err
}

// GoFs wraps an AferoFS to be compatible with fs.FS.
type GoFs struct {
	*AferoFS
}

// NewGoFS mounts dev and wraps it as an fs.FS-compatible filesystem.
func NewGoFS(dev BlockDevice, opts ...Option) (*GoFs, error) {
	fsys, err := Mount(dev, opts...)
	if err != nil {
		return nil, err
	}
	return &GoFs{NewAferoFS(fsys)}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	f, err := g.AferoFS.Open(name)
	if err != nil {
		return nil, err
	}
	file, ok := f.(*File)
	if !ok {
		return nil, errors.New("fat32: invalid File implementation")
	}
	return GoFile{file}, nil
}

// NewIOFS mounts dev and wraps it using afero's built-in io/fs adapter,
// which additionally supports fs.Glob and fs.ReadFile via afero.IOFS.
func NewIOFS(dev BlockDevice, opts ...Option) (afero.IOFS, error) {
	fsys, err := Mount(dev, opts...)
	if err != nil {
		return afero.IOFS{}, err
	}
	return afero.IOFS{Fs: NewAferoFS(fsys)}, nil
}
