package binary

import "fmt"

const (
	magicValue = 0x42505345 // "ESPB" little-endian

	headerSize        = 4 + 4 + 4 + 4 + 2 // magic, version, flags, feature, section count
	sectionDirEntrySize = 12
)

// header is the decoded fixed-size file header (spec §4.1).
type header struct {
	Version       uint32
	Flags         uint32
	Feature       uint32
	SectionCount  uint16
}

func parseHeader(c *cursor) (header, error) {
	var h header
	magic, err := c.u32()
	if err != nil {
		return h, err
	}
	if magic != magicValue {
		return h, &FormatError{Err: ErrInvalidMagic, Offset: 0}
	}
	if h.Version, err = c.u32(); err != nil {
		return h, err
	}
	if h.Version != 0x00000106 && h.Version != 0x00000107 {
		return h, &FormatError{Err: fmt.Errorf("%w: %#x", ErrUnsupportedVersion, h.Version), Offset: 4}
	}
	if h.Flags, err = c.u32(); err != nil {
		return h, err
	}
	if h.Feature, err = c.u32(); err != nil {
		return h, err
	}
	if h.SectionCount, err = c.u16(); err != nil {
		return h, err
	}
	return h, nil
}

// sectionDirEntry is one 12-byte section directory record.
type sectionDirEntry struct {
	ID     uint8
	Offset uint32
	Size   uint32
}

// parseSectionDirectory reads SectionCount directory entries and, per spec
// §4.1, drops any entry whose offset is out of range and clamps any entry
// whose size would overflow the buffer. Dropped/clamped entries do not fail
// parsing; they are reported as warnings by the caller.
func parseSectionDirectory(c *cursor, count uint16, bufLen int) ([]sectionDirEntry, []string, error) {
	entries := make([]sectionDirEntry, 0, count)
	var warnings []string
	for i := uint16(0); i < count; i++ {
		id, err := c.u8()
		if err != nil {
			return nil, nil, err
		}
		if _, err := c.u8(); err != nil { // reserved
			return nil, nil, err
		}
		if _, err := c.u16(); err != nil { // reserved
			return nil, nil, err
		}
		off, err := c.u32()
		if err != nil {
			return nil, nil, err
		}
		size, err := c.u32()
		if err != nil {
			return nil, nil, err
		}
		if int(off) > bufLen || off > uint32(bufLen) {
			warnings = append(warnings, fmt.Sprintf("section %d: offset %d out of range, dropped", id, off))
			continue
		}
		if uint64(off)+uint64(size) > uint64(bufLen) {
			clamped := uint32(bufLen) - off
			warnings = append(warnings, fmt.Sprintf("section %d: size %d clamped to %d", id, size, clamped))
			size = clamped
		}
		entries = append(entries, sectionDirEntry{ID: id, Offset: off, Size: size})
	}
	return entries, warnings, nil
}

// overlaps reports whether any two section directory entries overlap, a
// property spec §8 requires every successfully parsed module to satisfy.
func overlaps(entries []sectionDirEntry) bool {
	for i := range entries {
		a := entries[i]
		aEnd := a.Offset + a.Size
		for j := i + 1; j < len(entries); j++ {
			b := entries[j]
			bEnd := b.Offset + b.Size
			if a.Offset < bEnd && b.Offset < aEnd {
				return true
			}
		}
	}
	return false
}
