package gofat32

import (
	"strings"
	"unicode/utf16"
)

// shortDirent is the 32-byte 8.3 directory entry, laid out exactly as it
// appears on disk.
type shortDirent struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// lfnDirent is the 32-byte long-filename fragment, attribute 0x0F.
type lfnDirent struct {
	Sequence  byte
	First     [5]uint16
	Attribute byte
	EntryType byte
	Checksum  byte
	Second    [6]uint16
	Zero      [2]byte
	Third     [2]uint16
}

const (
	dirFree       = 0x00 // first byte: no more entries ever follow in this directory
	dirDeleted    = 0xE5 // first byte: unused, skip
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLFN       = attrReadOnly | attrHidden | attrSystem | attrVolumeID

	lfnLast         = 0x40 // set on the fragment with the highest index
	lfnCharsPerEntry = 13
	lfnMaxFragments  = 20
)

func (e shortDirent) firstCluster() uint32 {
	return uint32(e.FirstClusterHI)<<16 | uint32(e.FirstClusterLO)
}

func setCluster(e *shortDirent, cluster uint32) {
	e.FirstClusterHI = uint16(cluster >> 16)
	e.FirstClusterLO = uint16(cluster & 0xFFFF)
}

func (e shortDirent) isFree() bool     { return e.Name[0] == dirFree }
func (e shortDirent) isDeleted() bool  { return e.Name[0] == dirDeleted }
func (e shortDirent) isLFN() bool      { return e.Attribute == attrLFN }
func (e shortDirent) isDirectory() bool { return e.Attribute&attrDirectory != 0 }

// lfnChecksum implements `for b in short_name { c = rol8(c,1) + b }` over
// the 11-byte short name.
func lfnChecksum(shortName [11]byte) byte {
	var c byte
	for _, b := range shortName {
		c = rol8(c, 1) + b
	}
	return c
}

func rol8(c byte, n uint) byte {
	return (c << n) | (c >> (8 - n))
}

// countFilenameEntries returns 1 if name fits a short entry unmodified,
// otherwise the number of LFN fragments plus one guard short entry.
func countFilenameEntries(name string) int {
	if fitsShortName(name) {
		return 1
	}
	n := len(utf16.Encode([]rune(name)))
	return 1 + ceilDiv(n, lfnCharsPerEntry)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// fitsShortName reports whether name is representable as an unmodified 8.3
// entry: <=8 base chars, <=3 extension chars, no lowercase, no illegal
// characters, and at most one dot.
func fitsShortName(name string) bool {
	if name == "" || len(name) > 12 {
		return false
	}
	base, ext, ok := splitExt(name)
	if !ok || len(base) > 8 || len(ext) > 3 {
		return false
	}
	for _, r := range name {
		if r == '.' {
			continue
		}
		if !isValidShortNameRune(r) {
			return false
		}
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}

func splitExt(name string) (base, ext string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return name, "", true
	}
	if i == 0 {
		return "", "", false // leading dot is reserved for "." / ".."
	}
	return name[:i], name[i+1:], true
}

func isValidShortNameRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case strings.ContainsRune("$%'-_@~`!(){}^#&", r):
		return true
	}
	return false
}

// shortFilename builds the short entry's 11-byte Name field from an already
// short-name-eligible name. Callers must check fitsShortName first.
func shortFilename(name string) shortDirent {
	var e shortDirent
	base, ext, _ := splitExt(name)
	copy8Padded(e.Name[0:8], strings.ToUpper(base))
	copy8Padded(e.Name[8:11], strings.ToUpper(ext))
	return e
}

// guardFilename derives a synthetic, guaranteed-unique-enough 8.3 name used
// as the primary entry when LFN fragments are present, following the
// "~1"-suffix convention.
func guardFilename(name string) shortDirent {
	base, ext, ok := splitExt(name)
	if !ok {
		base, ext = name, ""
	}
	base = stripIllegal(strings.ToUpper(base))
	ext = stripIllegal(strings.ToUpper(ext))
	if len(ext) > 3 {
		ext = ext[:3]
	}
	suffix := "~1"
	maxBase := 8 - len(suffix)
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	var e shortDirent
	copy8Padded(e.Name[0:8], base+suffix)
	copy8Padded(e.Name[8:11], ext)
	return e
}

func stripIllegal(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isValidShortNameRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func copy8Padded(dst []byte, s string) {
	for i := range dst {
		dst[i] = ' '
	}
	copy(dst, s)
}

// filenameFragment builds the i'th (1-based, counted from the tail) LFN
// fragment of name, carrying the short-entry checksum.
func filenameFragment(name string, i int, total int, checksum byte) lfnDirent {
	units := utf16.Encode([]rune(name))
	start := (i - 1) * lfnCharsPerEntry
	var frag [lfnCharsPerEntry]uint16
	for j := 0; j < lfnCharsPerEntry; j++ {
		pos := start + j
		switch {
		case pos < len(units):
			frag[j] = units[pos]
		case pos == len(units):
			frag[j] = 0x0000
		default:
			frag[j] = 0xFFFF
		}
	}
	var l lfnDirent
	seq := byte(i)
	if i == total {
		seq |= lfnLast
	}
	l.Sequence = seq
	l.Attribute = attrLFN
	l.Checksum = checksum
	copy(l.First[:], frag[0:5])
	copy(l.Second[:], frag[5:11])
	copy(l.Third[:], frag[11:13])
	return l
}

func (l lfnDirent) index() int      { return int(l.Sequence &^ lfnLast) }
func (l lfnDirent) isLast() bool    { return l.Sequence&lfnLast != 0 }
func (l lfnDirent) isContinuation(expectIndex int) bool {
	return l.Attribute == attrLFN && l.index() == expectIndex
}

// extractNameSegment decodes one LFN fragment back to a string, dropping
// the non-terminator padding/fill units and replacing any non-ASCII code
// unit with '?' — a foreign FAT32 driver may have written LFN fragments
// this package's encoder never produces.
func extractNameSegment(l lfnDirent) string {
	units := make([]uint16, 0, 13)
	units = append(units, l.First[:]...)
	units = append(units, l.Second[:]...)
	units = append(units, l.Third[:]...)
	end := len(units)
	for i, u := range units {
		if u == 0x0000 || u == 0xFFFF {
			end = i
			break
		}
	}
	units = units[:end]
	for i, u := range units {
		if u > 127 {
			units[i] = '?'
		}
	}
	return string(utf16.Decode(units))
}

// extractFilename decodes a short entry's 11-byte name into a conventional
// "base.ext" (or "base") string, lower-cased so short-name lookups stay
// case-insensitive without storing case information on disk.
func extractFilename(e shortDirent) string {
	base := strings.TrimRight(string(e.Name[0:8]), " ")
	ext := strings.TrimRight(string(e.Name[8:11]), " ")
	base = strings.ToLower(base)
	ext = strings.ToLower(ext)
	if ext == "" {
		return base
	}
	return base + "." + ext
}
