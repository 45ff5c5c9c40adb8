package gofat32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kelvinfs/fat32vfs/checkpoint"
)

const (
	sectorSize = 512
	bootSignatureOffset = 510
	bootSignature       = 0xAA55
)

// bootSector is the on-disk FAT32 boot sector, decoded from the BPB and its
// FAT32-specific extension. Field names and layout follow the published
// Microsoft FAT32 BPB.
type bootSector struct {
	bpb     bpb
	fat32   fat32SpecificData
	volume  [11]byte
}

type bpb struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
}

type fat32SpecificData struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// parseBootSector decodes a 512-byte boot sector image. When skipChecks is
// false it also validates the 0x55AA signature and the sector/cluster size
// constraints the cluster cache depends on.
func parseBootSector(raw []byte, skipChecks bool) (*bootSector, error) {
	if len(raw) < sectorSize {
		return nil, checkpoint.Wrap(fmt.Errorf("boot sector short read: got %d bytes", len(raw)), ErrIO)
	}

	r := bytes.NewReader(raw)
	var b bpb
	if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	var f fat32SpecificData
	if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	bs := &bootSector{bpb: b, fat32: f, volume: f.BSVolumeLabel}

	if skipChecks {
		return bs, nil
	}

	sig := binary.LittleEndian.Uint16(raw[bootSignatureOffset:])
	if sig != bootSignature {
		return nil, checkpoint.Wrap(fmt.Errorf("bad boot signature 0x%04x", sig), ErrInvalid)
	}
	if b.BytesPerSector != sectorSize {
		return nil, checkpoint.Wrap(fmt.Errorf("unsupported bytes-per-sector %d", b.BytesPerSector), ErrInvalid)
	}
	if b.SectorsPerCluster == 0 || (b.SectorsPerCluster&(b.SectorsPerCluster-1)) != 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("sectors-per-cluster %d is not a power of two", b.SectorsPerCluster), ErrInvalid)
	}
	if f.FATSize32 == 0 {
		return nil, checkpoint.Wrap(fmt.Errorf("not a FAT32 volume (FATSz32 is zero)"), ErrInvalid)
	}
	return bs, nil
}

func (b *bootSector) clusterSize() uint32 {
	return uint32(b.bpb.SectorsPerCluster) * sectorSize
}

func (b *bootSector) firstFATSector() uint32 {
	return uint32(b.bpb.ReservedSectorCount)
}

func (b *bootSector) sectorsPerFAT() uint32 {
	return b.fat32.FATSize32
}

func (b *bootSector) firstDataSector() uint32 {
	return b.firstFATSector() + uint32(b.bpb.NumFATs)*b.sectorsPerFAT()
}

func (b *bootSector) totalSectors() uint32 {
	if b.bpb.TotalSectors32 != 0 {
		return b.bpb.TotalSectors32
	}
	return uint32(b.bpb.TotalSectors16)
}

func (b *bootSector) numDataClusters() uint32 {
	dataSectors := b.totalSectors() - b.firstDataSector()
	return dataSectors / uint32(b.bpb.SectorsPerCluster)
}

func (b *bootSector) rootDirCluster() uint32 {
	return b.fat32.RootCluster
}
