package binary

import (
	"sort"

	"github.com/espb-vm/espb/internal/module"
)

// decodeFuncPtrMap decodes the Function-Pointer Map section: a u32 count,
// then count*6 bytes (u32 data-offset, u16 function-index). The result is
// sorted by DataOffset to enable binary search (spec §4.1 "Function-Pointer
// Map").
func decodeFuncPtrMap(body []byte) ([]module.FuncPtrMapEntry, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	entries := make([]module.FuncPtrMapEntry, count)
	for i := range entries {
		off, err := c.u32()
		if err != nil {
			return nil, err
		}
		idx, err := c.u16()
		if err != nil {
			return nil, err
		}
		entries[i] = module.FuncPtrMapEntry{DataOffset: off, FuncIndex: idx}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].DataOffset < entries[j].DataOffset })
	return entries, nil
}
