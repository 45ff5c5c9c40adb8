package gofat32

import (
	"encoding/binary"
	"fmt"
)

// memDevice is an in-memory BlockDevice backing the synthetic FAT32 images
// built by newImage, used throughout this package's tests in place of a
// real disk.
type memDevice struct {
	buf []byte
}

func (d *memDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || int(off) > len(d.buf) {
		return 0, fmt.Errorf("memDevice: read out of range at %d", off)
	}
	n := copy(p, d.buf[off:])
	return n, nil
}

func (d *memDevice) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(d.buf) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	return copy(d.buf[off:end], p), nil
}

// imageParams describes the shape of a synthetic FAT32 image.
type imageParams struct {
	clusterSize  uint32 // must be a multiple of 512
	dataClusters uint32
}

const (
	reservedSectors = 32
	numFATs         = 1
)

// imageLayout reports the byte offsets a test needs to poke an image's FAT
// or data area directly, mirroring what Mount derives internally.
type imageLayout struct {
	clusterSize uint32
	fatOffset   uint64
	dataOffset  uint64
	rootCluster uint32
}

func (l imageLayout) clusterOffset(clusterID uint32) uint64 {
	return l.dataOffset + uint64(dataIndex(clusterID))*uint64(l.clusterSize)
}

func (l imageLayout) fatEntryOffset(clusterID uint32) uint64 {
	return l.fatOffset + uint64(clusterID)*fatEntrySize
}

// newImage constructs a minimal, valid FAT32 image: a boot sector, one FAT
// copy with only the root directory's end-of-chain entry populated, and a
// zeroed data area. The root directory occupies cluster 2.
func newImage(p imageParams) (*memDevice, imageLayout) {
	sectorsPerCluster := byte(p.clusterSize / sectorSize)
	entriesNeeded := p.dataClusters + firstValidClusterID
	fatBytes := entriesNeeded * fatEntrySize
	fatSectors := (fatBytes + sectorSize - 1) / sectorSize
	dataSectors := p.dataClusters * uint32(sectorsPerCluster)
	totalSectors := reservedSectors + numFATs*fatSectors + dataSectors

	buf := make([]byte, uint64(totalSectors)*sectorSize)
	dev := &memDevice{buf: buf}

	b := bpb{
		BytesPerSector:      sectorSize,
		SectorsPerCluster:   sectorsPerCluster,
		ReservedSectorCount: reservedSectors,
		NumFATs:             numFATs,
		TotalSectors32:      totalSectors,
	}
	f := fat32SpecificData{
		FATSize32:    fatSectors,
		RootCluster:  firstValidClusterID,
	}

	var hdr [sectorSize]byte
	putBPB(hdr[:], b)
	putFAT32Specific(hdr[36:], f)
	binary.LittleEndian.PutUint16(hdr[bootSignatureOffset:], bootSignature)
	copy(buf[0:sectorSize], hdr[:])

	// Root directory: a single cluster, end-of-chain.
	fatOffset := uint64(reservedSectors) * sectorSize
	binary.LittleEndian.PutUint32(buf[fatOffset+firstValidClusterID*4:], fatEndOfChain)

	layout := imageLayout{
		clusterSize: p.clusterSize,
		fatOffset:   fatOffset,
		dataOffset:  uint64(reservedSectors+numFATs*fatSectors) * sectorSize,
		rootCluster: firstValidClusterID,
	}
	return dev, layout
}

func (l imageLayout) setFATEntry(dev *memDevice, clusterID, value uint32) {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, value)
	dev.WriteAt(raw, int64(l.fatEntryOffset(clusterID)))
}

func (l imageLayout) setShortDirent(dev *memDevice, dirClusterID uint32, index int, e shortDirent) {
	off := l.clusterOffset(dirClusterID) + uint64(index)*direntSize
	buf := make([]byte, direntSize)
	encodeShort(buf, e)
	dev.WriteAt(buf, int64(off))
}

func (l imageLayout) writeClusterData(dev *memDevice, clusterID uint32, data []byte) {
	dev.WriteAt(data, int64(l.clusterOffset(clusterID)))
}

func putBPB(b []byte, v bpb) {
	copy(b[0:3], v.BSJumpBoot[:])
	copy(b[3:11], v.BSOEMName[:])
	binary.LittleEndian.PutUint16(b[11:13], v.BytesPerSector)
	b[13] = v.SectorsPerCluster
	binary.LittleEndian.PutUint16(b[14:16], v.ReservedSectorCount)
	b[16] = v.NumFATs
	binary.LittleEndian.PutUint16(b[17:19], v.RootEntryCount)
	binary.LittleEndian.PutUint16(b[19:21], v.TotalSectors16)
	b[21] = v.Media
	binary.LittleEndian.PutUint16(b[22:24], v.FATSize16)
	binary.LittleEndian.PutUint16(b[24:26], v.SectorsPerTrack)
	binary.LittleEndian.PutUint16(b[26:28], v.NumberOfHeads)
	binary.LittleEndian.PutUint32(b[28:32], v.HiddenSectors)
	binary.LittleEndian.PutUint32(b[32:36], v.TotalSectors32)
}

func putFAT32Specific(b []byte, v fat32SpecificData) {
	binary.LittleEndian.PutUint32(b[0:4], v.FATSize32)
	binary.LittleEndian.PutUint16(b[4:6], v.ExtFlags)
	binary.LittleEndian.PutUint16(b[6:8], v.FSVersion)
	binary.LittleEndian.PutUint32(b[8:12], v.RootCluster)
	binary.LittleEndian.PutUint16(b[12:14], v.FSInfo)
	binary.LittleEndian.PutUint16(b[14:16], v.BkBootSector)
}

