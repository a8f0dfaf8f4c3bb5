package binary

import "github.com/espb-vm/espb/internal/module"

// decodeExports decodes the Exports section: u32 count, then per entry a
// length-prefixed name, a u8 kind, and a u32 index.
func decodeExports(body []byte) ([]module.Export, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	exports := make([]module.Export, count)
	for i := range exports {
		name, err := c.lenPrefixedString()
		if err != nil {
			return nil, err
		}
		kind, err := c.u8()
		if err != nil {
			return nil, err
		}
		idx, err := c.u32()
		if err != nil {
			return nil, err
		}
		exports[i] = module.Export{Name: name, Kind: module.ExportKind(kind), Index: idx}
	}
	return exports, nil
}

// decodeStart decodes the Start section: a single u32 function index.
func decodeStart(body []byte) (uint32, error) {
	c := newCursor(body)
	return c.u32()
}
