package gofat32

import (
	"context"
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

// BlockDevice is the synchronous sector-granular disk adapter (C1). The
// cluster cache only ever issues whole-cluster I/O through it, at offsets
// on the data area's cluster grid (data-area start plus a multiple of the
// cluster size).
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
}

// ClusterCache is the bounded, write-back, reference-counted cache shared
// by every vnode and by the allocation table (C2). It is keyed internally
// by an absolute whole-disk block index (byte offset / cluster size) so
// that both data-cluster access (GetCluster) and FAT-region access
// (GetClusterForDiskByteOffset) share one cache and one eviction policy.
type ClusterCache struct {
	dev         BlockDevice
	clusterSize uint32
	devno       uint32
	dataOffset  uint64 // byte offset of data-cluster index 0

	maxClusters      int
	maxEvictionWaits  int

	mu       sync.Mutex
	cond     *sync.Cond
	entries  map[uint32]*ClusterRef
	order    *lru.Cache[uint32, struct{}] // recency index; capacity sized so its own eviction never fires
	sf       singleflight.Group
	writeback bool
}

// NewClusterCache constructs a cache over dev. dataOffset is the byte
// offset of the start of the data area (used by GetCluster); clusterSize
// must be a nonzero multiple of the device's natural block alignment.
func NewClusterCache(dev BlockDevice, maxClusters int, clusterSize uint32, dataOffset uint64, devno uint32) *ClusterCache {
	if maxClusters < 1 {
		maxClusters = 1
	}
	// Oversize the library's own capacity well beyond maxClusters: we rely
	// on it purely for oldest-to-newest Keys() ordering and perform every
	// real eviction decision ourselves, since golang-lru cannot skip a
	// referenced entry.
	order, _ := lru.New[uint32, struct{}](maxClusters * 4)
	cc := &ClusterCache{
		dev:              dev,
		clusterSize:      clusterSize,
		devno:            devno,
		dataOffset:       dataOffset,
		maxClusters:      maxClusters,
		maxEvictionWaits: 64,
		entries:          make(map[uint32]*ClusterRef),
		order:            order,
	}
	cc.cond = sync.NewCond(&cc.mu)
	return cc
}

// ClusterRef is a reference-counted handle to one cached cluster buffer.
type ClusterRef struct {
	cache *ClusterCache
	key   uint32

	buf   []byte
	dirty bool

	refCount int

	freeOnDelete    bool
	freeOnDeleteFAT *AllocTable
	freeOnDeleteID  uint32
}

// Bytes returns the cluster's backing buffer. Callers must hold a
// reference (i.e. must not call Bytes after Release).
func (r *ClusterRef) Bytes() []byte { return r.buf }

// MarkDirty records that the buffer has been modified since it was last
// flushed.
func (r *ClusterRef) MarkDirty() {
	r.cache.mu.Lock()
	r.dirty = true
	r.cache.mu.Unlock()
}

// MarkFreeOnDelete arranges for clusterID to be marked free in fat once
// this reference's final drop completes (and, if writeback is enabled,
// after the buffer's last flush). Used by retireOneCluster to preserve the
// "evict, flush, then free" ordering invariant.
func (r *ClusterRef) MarkFreeOnDelete(fat *AllocTable, clusterID uint32) {
	r.cache.mu.Lock()
	r.freeOnDelete = true
	r.freeOnDeleteFAT = fat
	r.freeOnDeleteID = clusterID
	r.cache.mu.Unlock()
}

// Release drops one reference. On the last drop of an evicted cluster, the
// buffer is flushed (if dirty and writeback is enabled) and, if
// MarkFreeOnDelete was called, the cluster is freed in the FAT.
func (r *ClusterRef) Release() {
	cc := r.cache
	cc.mu.Lock()
	r.refCount--
	stillCached := cc.entries[r.key] == r
	rc := r.refCount
	cc.mu.Unlock()

	if rc > 0 {
		cc.cond.Broadcast()
		return
	}
	if !stillCached {
		// Already evicted; this is the owning final reference.
		r.finalize()
	}
	cc.cond.Broadcast()
}

func (r *ClusterRef) finalize() {
	cc := r.cache
	if r.dirty && cc.writeback {
		if err := cc.flushOne(r); err != nil {
			logWarn("fat32: flush of cluster %d failed on drop: %v", r.key, err)
			// Leave dirty set so a later flush retries; the free below
			// still proceeds.
		}
	}
	if r.freeOnDelete {
		if err := r.freeOnDeleteFAT.MarkFree(r.freeOnDeleteID); err != nil {
			logWarn("fat32: mark-free of cluster %d failed: %v", r.freeOnDeleteID, err)
		}
	}
}

// GetCluster returns a referenced handle for data-cluster d (d >= 0,
// cluster-id = d+2).
func (cc *ClusterCache) GetCluster(d uint32) (*ClusterRef, error) {
	off := cc.dataOffset + uint64(d)*uint64(cc.clusterSize)
	ref, _, err := cc.getByByteOffset(off)
	return ref, err
}

// TryGetCluster performs a non-fetching lookup of data-cluster d.
func (cc *ClusterCache) TryGetCluster(d uint32) (*ClusterRef, bool) {
	off := cc.dataOffset + uint64(d)*uint64(cc.clusterSize)
	key := uint32(off / uint64(cc.clusterSize))
	cc.mu.Lock()
	defer cc.mu.Unlock()
	ref, ok := cc.entries[key]
	if ok {
		ref.refCount++
		cc.order.Add(key, struct{}{})
	}
	return ref, ok
}

// GetClusterForDiskByteOffset returns the cluster covering an arbitrary
// on-disk byte offset, along with the offset within that cluster. Used by
// the allocation table to read FAT entries, which live before the data
// area. Blocks lie on the data area's cluster grid, so a FAT-region block
// never overlaps a data cluster; an offset before the first grid block
// (byte offset dataOffset % clusterSize) is rejected with ErrInvalid.
func (cc *ClusterCache) GetClusterForDiskByteOffset(byteOff uint64) (*ClusterRef, uint32, error) {
	cs := uint64(cc.clusterSize)
	phase := cc.dataOffset % cs
	if byteOff < phase {
		return nil, 0, checkpoint.Wrap(fmt.Errorf("fat32: disk offset %d precedes the first cache block at %d", byteOff, phase), ErrInvalid)
	}
	aligned := (byteOff-phase)/cs*cs + phase
	ref, _, err := cc.getByByteOffset(aligned)
	if err != nil {
		return nil, 0, err
	}
	return ref, uint32(byteOff - aligned), nil
}

func (cc *ClusterCache) getByByteOffset(alignedOff uint64) (*ClusterRef, uint32, error) {
	key := uint32(alignedOff / uint64(cc.clusterSize))

	cc.mu.Lock()
	if e, ok := cc.entries[key]; ok {
		e.refCount++
		cc.order.Add(key, struct{}{})
		cc.mu.Unlock()
		return e, key, nil
	}
	cc.mu.Unlock()

	v, err, _ := cc.sf.Do(fmt.Sprint(key), func() (interface{}, error) {
		buf := make([]byte, cc.clusterSize)
		if _, err := cc.dev.ReadAt(buf, int64(alignedOff)); err != nil && err != io.EOF {
			return nil, checkpoint.Wrap(err, ErrIO)
		}
		return buf, nil
	})
	if err != nil {
		return nil, 0, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if e, ok := cc.entries[key]; ok {
		// Another caller's fill raced ours and won; use theirs, discard ours.
		e.refCount++
		cc.order.Add(key, struct{}{})
		return e, key, nil
	}

	for len(cc.entries) >= cc.maxClusters {
		if cc.evictOneLocked() {
			continue
		}
		waited := 0
		for len(cc.entries) >= cc.maxClusters {
			if waited >= cc.maxEvictionWaits {
				return nil, 0, checkpoint.Wrap(fmt.Errorf("no unreferenced cache slot after %d waits", waited), ErrExhausted)
			}
			cc.cond.Wait()
			waited++
			if cc.evictOneLocked() {
				break
			}
		}
	}

	ref := &ClusterRef{cache: cc, key: key, buf: v.([]byte), refCount: 1}
	cc.entries[key] = ref
	cc.order.Add(key, struct{}{})
	return ref, key, nil
}

// evictOneLocked evicts the oldest unreferenced entry, if any, flushing it
// first when dirty and writeback is enabled. Must be called with cc.mu
// held. Returns false if every entry is currently referenced.
func (cc *ClusterCache) evictOneLocked() bool {
	for _, key := range cc.order.Keys() {
		e, ok := cc.entries[key]
		if !ok || e.refCount > 0 {
			continue
		}
		if e.dirty && cc.writeback {
			if err := cc.flushOne(e); err != nil {
				logWarn("fat32: flush of cluster %d failed during eviction: %v", key, err)
				continue
			}
		}
		delete(cc.entries, key)
		cc.order.Remove(key)
		if e.freeOnDelete {
			if err := e.freeOnDeleteFAT.MarkFree(e.freeOnDeleteID); err != nil {
				logWarn("fat32: mark-free of cluster %d failed: %v", e.freeOnDeleteID, err)
			}
		}
		return true
	}
	return false
}

// EvictCluster removes data-cluster d's cache entry unconditionally,
// returning the live reference (if one existed) to the caller instead of
// flushing/freeing it. Used by retireOneCluster so writeback and the FAT
// free can be ordered explicitly by the vnode layer.
func (cc *ClusterCache) EvictCluster(d uint32) *ClusterRef {
	off := cc.dataOffset + uint64(d)*uint64(cc.clusterSize)
	key := uint32(off / uint64(cc.clusterSize))

	cc.mu.Lock()
	defer cc.mu.Unlock()
	e, ok := cc.entries[key]
	if !ok {
		return nil
	}
	delete(cc.entries, key)
	cc.order.Remove(key)
	e.refCount++ // transfer ownership of one reference to the caller
	return e
}

// EnableWriteback switches the cache from read-only to write-back mode.
func (cc *ClusterCache) EnableWriteback() {
	cc.mu.Lock()
	cc.writeback = true
	cc.mu.Unlock()
}

func (cc *ClusterCache) flushOne(r *ClusterRef) error {
	off := int64(uint64(r.key)*uint64(cc.clusterSize) + cc.dataOffset%uint64(cc.clusterSize))
	if _, err := cc.dev.WriteAt(r.buf, off); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	r.dirty = false
	return nil
}

// FlushAll synchronously writes back every dirty cluster currently cached,
// aggregating any failures. Each flush runs in its own goroutine but holds
// the cache mutex, so the writes happen one at a time.
func (cc *ClusterCache) FlushAll(ctx context.Context) error {
	cc.mu.Lock()
	dirty := make([]*ClusterRef, 0)
	for _, e := range cc.entries {
		if e.dirty {
			dirty = append(dirty, e)
		}
	}
	cc.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var errs error
	for _, e := range dirty {
		e := e
		g.Go(func() error {
			cc.mu.Lock()
			err := cc.flushOne(e)
			cc.mu.Unlock()
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
