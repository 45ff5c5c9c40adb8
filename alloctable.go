package gofat32

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

const (
	fatEntryMask   = 0x0FFFFFFF
	fatFree        = 0x00000000
	fatBad         = 0x0FFFFFF7
	fatEndOfChain  = 0x0FFFFFFF
	fatHighNibble  = 0xF0000000
	fatEntrySize   = 4
	firstValidClusterID = 2
)

// AllocTable is the allocation-table manager (C3): FAT next-pointer
// read/write with sentinel handling, free-cluster search, and claim.
type AllocTable struct {
	cache           *ClusterCache
	tableBaseOffset uint64
	tableLen        uint32 // number of FAT entries covered (>= num_data_clusters+2)

	allocationLock sync.Mutex
}

// NewAllocTable constructs an allocation table backed by cache, starting
// at tableBaseOffset bytes from the start of the disk (first_fat_sector *
// 512) and spanning tableLen 32-bit entries.
func NewAllocTable(cache *ClusterCache, tableBaseOffset uint64, tableLen uint32) *AllocTable {
	return &AllocTable{cache: cache, tableBaseOffset: tableBaseOffset, tableLen: tableLen}
}

func (t *AllocTable) entryOffset(clusterID uint32) uint64 {
	return t.tableBaseOffset + uint64(clusterID)*fatEntrySize
}

func (t *AllocTable) readEntry(clusterID uint32) (uint32, error) {
	ref, inner, err := t.cache.GetClusterForDiskByteOffset(t.entryOffset(clusterID))
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	return binary.LittleEndian.Uint32(ref.Bytes()[inner : inner+4]), nil
}

func (t *AllocTable) writeEntry(clusterID, value uint32) error {
	ref, inner, err := t.cache.GetClusterForDiskByteOffset(t.entryOffset(clusterID))
	if err != nil {
		return err
	}
	defer ref.Release()
	binary.LittleEndian.PutUint32(ref.Bytes()[inner:inner+4], value)
	ref.MarkDirty()
	return nil
}

// GetNext reads the FAT entry at clusterID. A free or bad entry
// encountered while walking a live chain is an unrecoverable corruption
// and panics, matching the source's invariant.
func (t *AllocTable) GetNext(clusterID uint32) (next uint32, end bool, err error) {
	raw, err := t.readEntry(clusterID)
	if err != nil {
		return 0, false, err
	}
	v := raw & fatEntryMask
	switch {
	case v == fatFree:
		panic(fmt.Sprintf("fat32: free cluster %d reached while walking a live chain", clusterID))
	case v == fatBad:
		panic(fmt.Sprintf("fat32: bad cluster %d reached while walking a live chain", clusterID))
	case v > fatBad:
		return 0, true, nil
	default:
		if v < firstValidClusterID || v >= t.tableLen {
			panic(fmt.Sprintf("fat32: chain entry %d points out of range cluster %d", clusterID, v))
		}
		return v, false, nil
	}
}

// SetNext requires the current entry at from to encode end-of-chain; it
// rewrites the low 28 bits to point at to, preserving the high nibble.
func (t *AllocTable) SetNext(from, to uint32) error {
	raw, err := t.readEntry(from)
	if err != nil {
		return err
	}
	if raw&fatEntryMask <= fatBad {
		return checkpoint.Wrap(fmt.Errorf("fat32: set-next on cluster %d that is not end-of-chain", from), ErrInvalid)
	}
	newRaw := (raw & fatHighNibble) | (to & fatEntryMask)
	return t.writeEntry(from, newRaw)
}

// MarkFinal writes the end-of-chain sentinel at clusterID, preserving the
// high nibble.
func (t *AllocTable) MarkFinal(clusterID uint32) error {
	raw, err := t.readEntry(clusterID)
	if err != nil {
		return err
	}
	newRaw := (raw & fatHighNibble) | fatEndOfChain
	return t.writeEntry(clusterID, newRaw)
}

// MarkFree writes the free sentinel at clusterID. Must only be called
// after the corresponding data cluster has been evicted from the cache.
func (t *AllocTable) MarkFree(clusterID uint32) error {
	raw, err := t.readEntry(clusterID)
	if err != nil {
		return err
	}
	newRaw := raw & fatHighNibble
	return t.writeEntry(clusterID, newRaw)
}

// FindFirstFree scans entries [2, tableLen) cluster-by-cluster and returns
// the first whose low 28 bits are zero.
func (t *AllocTable) FindFirstFree() (uint32, bool, error) {
	for c := uint32(firstValidClusterID); c < t.tableLen; c++ {
		raw, err := t.readEntry(c)
		if err != nil {
			return 0, false, err
		}
		if raw&fatEntryMask == fatFree {
			return c, true, nil
		}
	}
	return 0, false, nil
}

// RequisitionFreeCluster finds and claims one free cluster as a new
// one-cluster chain (end-of-chain), serialized by allocationLock so two
// callers never claim the same entry.
func (t *AllocTable) RequisitionFreeCluster() (uint32, error) {
	t.allocationLock.Lock()
	defer t.allocationLock.Unlock()

	c, ok, err := t.FindFirstFree()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, checkpoint.Wrap(fmt.Errorf("fat32: no free cluster available"), ErrExhausted)
	}
	if err := t.writeEntry(c, fatEndOfChain); err != nil {
		return 0, err
	}
	return c, nil
}
