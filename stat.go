package gofat32

import (
	"os"
	"time"
)

// vnodeFileInfo adapts a *Vnode to os.FileInfo. On-disk timestamps are not
// parsed by this package, so ModTime always reports the zero time.
type vnodeFileInfo struct {
	v *Vnode
}

func (i vnodeFileInfo) Name() string { return i.v.Name() }

func (i vnodeFileInfo) Size() int64 { return int64(i.v.Size()) }

func (i vnodeFileInfo) Mode() os.FileMode {
	if i.v.IsDirectory() {
		return os.ModeDir | 0755
	}
	return 0644
}

func (i vnodeFileInfo) ModTime() time.Time { return time.Time{} }

func (i vnodeFileInfo) IsDir() bool { return i.v.IsDirectory() }

func (i vnodeFileInfo) Sys() interface{} { return i.v }
