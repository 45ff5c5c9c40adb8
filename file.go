package gofat32

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/afero"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

// These errors decorate I/O failures surfaced through the afero.File
// adapter.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write file completely")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// File adapts a *Vnode to afero.File.
type File struct {
	v      *Vnode
	path   string
	offset int64

	lastDirentName string
}

// NewFile wraps v, opened under path, as an afero.File.
func NewFile(v *Vnode, path string) *File {
	return &File{v: v, path: path}
}

func (f *File) Close() error {
	f.v.Unref()
	f.v = nil
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.v.IsDirectory() {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if int64(f.v.Size()) <= f.offset {
		return 0, io.EOF
	}
	n, err := f.v.ReadAt(p, uint32(f.offset))
	f.offset += int64(n)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.v.IsDirectory() {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if int64(f.v.Size()) <= off {
		return 0, io.EOF
	}
	n, err := f.v.ReadAt(p, uint32(off))
	if err != nil {
		return n, checkpoint.Wrap(err, ErrReadFile)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek jumps to a specific offset in the file, affecting Read but not
// ReadAt.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = int64(f.v.Size()) + offset
	default:
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrSeekFile)
	}
	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, ErrSeekFile)
	}
	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (int, error) {
	n, err := f.v.WriteAt(p, uint32(f.offset), false)
	f.offset += int64(n)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.v.WriteAt(p, uint32(off), false)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

func (f *File) Name() string { return f.path }

// Readdir reads up to count directory entries, or all of them if count <= 0.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.v.IsDirectory() {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}
	var result []os.FileInfo
	for count <= 0 || len(result) < count {
		name, child, err := f.v.NextDirent(f.lastDirentName)
		if err != nil {
			return result, checkpoint.Wrap(err, ErrReadDir)
		}
		if child == nil {
			if count > 0 {
				return result, io.EOF
			}
			break
		}
		result = append(result, direntFileInfo{vnodeFileInfo{child}, name})
		f.lastDirentName = name
		child.Unref()
	}
	return result, nil
}

// direntFileInfo reports a vnode under the name its directory entry was
// listed by, so "." and ".." keep those names.
type direntFileInfo struct {
	vnodeFileInfo
	name string
}

func (i direntFileInfo) Name() string { return i.name }

func (f *File) Readdirnames(count int) ([]string, error) {
	entries, err := f.Readdir(count)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, err
}

func (f *File) Stat() (os.FileInfo, error) {
	return vnodeFileInfo{f.v}, nil
}

func (f *File) Sync() error {
	return nil // writes are synchronous all the way to the cache; nothing to flush early
}

func (f *File) Truncate(size int64) error {
	if size != 0 {
		return checkpoint.Wrap(fmt.Errorf("fat32: truncate to nonzero length is not supported"), ErrInvalid)
	}
	return f.v.Truncate()
}

func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}
