package binary

import "github.com/espb-vm/espb/internal/module"

// decodeCbMeta decodes the cbmeta section (spec §4.1 "cbmeta", §4.6
// "Callback metadata"): a reserved u8 signature count, a u16
// import-with-callbacks count, then per import a u16 import index, a u8
// callback count, and callback_count*3 raw bytes.
func decodeCbMeta(body []byte) ([]module.ImportCallbacks, error) {
	c := newCursor(body)
	if _, err := c.u8(); err != nil { // reserved signature count
		return nil, err
	}
	importCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	out := make([]module.ImportCallbacks, importCount)
	for i := range out {
		importIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		cbCount, err := c.u8()
		if err != nil {
			return nil, err
		}
		cbs := make([]module.CallbackEntry, cbCount)
		for j := range cbs {
			b0, err := c.u8()
			if err != nil {
				return nil, err
			}
			b1, err := c.u8()
			if err != nil {
				return nil, err
			}
			b2, err := c.u8()
			if err != nil {
				return nil, err
			}
			// 14 bits of function index packed little-endian across b1/b2;
			// the top 2 bits of b2 are reserved (spec §4.1 "cbmeta").
			funcIdx := (uint16(b1) | uint16(b2)<<8) & 0x3FFF
			cbs[j] = module.CallbackEntry{
				CallbackParamIdx: b0 & 0x0F,
				UserDataParamIdx: b0 >> 4,
				ModuleFuncIdx:    funcIdx,
			}
		}
		out[i] = module.ImportCallbacks{ImportIndex: importIdx, Callbacks: cbs}
	}
	return out, nil
}
