package binary

import "github.com/espb-vm/espb/internal/module"

// decodeImMeta decodes the immeta section (spec §4.1 "immeta", §4.6
// "Marshalling metadata"): a u16 import-with-marshalling count, then per
// import a u16 import index, a u8 marshalled-arg count, and 5 bytes per
// argument.
func decodeImMeta(body []byte) ([]module.ImportMarshal, error) {
	c := newCursor(body)
	importCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	out := make([]module.ImportMarshal, importCount)
	for i := range out {
		importIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		argCount, err := c.u8()
		if err != nil {
			return nil, err
		}
		args := make([]module.MarshalArg, argCount)
		for j := range args {
			argIdx, err := c.u8()
			if err != nil {
				return nil, err
			}
			dir, err := c.u8()
			if err != nil {
				return nil, err
			}
			sizeKind, err := c.u8()
			if err != nil {
				return nil, err
			}
			sizeVal, err := c.u8()
			if err != nil {
				return nil, err
			}
			handler, err := c.u8()
			if err != nil {
				return nil, err
			}
			args[j] = module.MarshalArg{
				ArgIndex:     argIdx,
				Direction:    module.MarshalDirection(dir),
				SizeKind:     module.MarshalSizeKind(sizeKind),
				SizeValue:    sizeVal,
				HandlerIndex: module.MarshalHandler(handler),
			}
		}
		out[i] = module.ImportMarshal{ImportIndex: importIdx, Args: args}
	}
	return out, nil
}
