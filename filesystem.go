package gofat32

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

var devnoCounter atomic.Uint32

// fsWeakLink is a non-owning indirection every vnode holds back to its
// filesystem. Unmount nulls it out, after which any vnode operation that
// needs the filesystem fails instead of keeping it alive.
type fsWeakLink struct {
	mu sync.Mutex
	fs *FileSystem
}

// Get resolves the weak link to the live filesystem, or nil if it has been
// unmounted.
func (l *fsWeakLink) Get() *FileSystem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fs
}

func (l *fsWeakLink) clear() {
	l.mu.Lock()
	l.fs = nil
	l.mu.Unlock()
}

// FileSystem is a mounted FAT32 volume (C6): the boot sector, the cluster
// cache, the allocation table, and the root vnode.
type FileSystem struct {
	boot  *bootSector
	cache *ClusterCache
	fat   *AllocTable
	devno uint32

	weaklink *fsWeakLink
	root     *Vnode
}

// Mount reads the boot sector from dev, validates it (unless
// SkipSignatureCheck is given), and constructs the cluster cache,
// allocation table, and root vnode.
func Mount(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	raw := make([]byte, sectorSize)
	if _, err := dev.ReadAt(raw, 0); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	boot, err := parseBootSector(raw, o.skipSignatureCheck)
	if err != nil {
		return nil, err
	}

	clusterSize := boot.clusterSize()
	pageSize := uint32(os.Getpagesize())
	if !o.skipSignatureCheck && (clusterSize == 0 || clusterSize%pageSize != 0) {
		return nil, checkpoint.Wrap(fmt.Errorf("cluster size %d is not a nonzero multiple of the system page size %d", clusterSize, pageSize), ErrInvalid)
	}
	logMount("fat32: mounting volume with cluster size %d", clusterSize)

	maxClusters := int(o.cacheBudgetBytes / uint64(clusterSize))
	if maxClusters < 1 {
		maxClusters = 1
	}

	devno := devnoCounter.Add(1)
	dataOffset := uint64(boot.firstDataSector()) * sectorSize
	cache := NewClusterCache(dev, maxClusters, clusterSize, dataOffset, devno)
	cache.maxEvictionWaits = o.maxEvictionWaits

	fatOffset := uint64(boot.firstFATSector()) * sectorSize
	fatLen := boot.numDataClusters() + firstValidClusterID
	fat := NewAllocTable(cache, fatOffset, fatLen)

	fs := &FileSystem{boot: boot, cache: cache, fat: fat, devno: devno}
	fs.weaklink = &fsWeakLink{fs: fs}

	root, err := newVnode(fs.weaklink, boot.rootDirCluster(), true, nil, "/", 0, false, 0)
	if err != nil {
		return nil, err
	}
	fs.root = root

	if o.enableWriteback {
		fs.EnableWriteback()
	}
	return fs, nil
}

// MountAuto mounts dev and additionally probes the root directory for a
// file named "writeok"; if present, writeback is enabled automatically.
func MountAuto(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	fs, err := Mount(dev, opts...)
	if err != nil {
		return nil, err
	}
	child, err := fs.root.refChild("writeok")
	if err == nil {
		child.Unref()
		fs.EnableWriteback()
	}
	return fs, nil
}

// EnableWriteback flips the filesystem's cache into read/write mode.
func (fs *FileSystem) EnableWriteback() {
	fs.cache.EnableWriteback()
}

// Root returns a referenced handle to the root vnode.
func (fs *FileSystem) Root() *Vnode {
	return fs.root.Ref()
}

// Devno returns the filesystem's cache device number, used as stat's dev
// field.
func (fs *FileSystem) Devno() uint32 { return fs.devno }

// Unmount flushes every dirty cluster and severs the weak link every
// vnode holds back to this filesystem; vnode trees already referenced by
// callers remain valid to read/close but can no longer reach the cache.
func (fs *FileSystem) Unmount() error {
	err := fs.cache.FlushAll(context.Background())
	fs.weaklink.clear()
	return err
}
