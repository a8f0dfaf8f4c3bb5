package binary

import "fmt"

// decodeFunctions decodes the Functions section: u32 count, then that many
// u16 signature indices (spec §4.1 "Functions").
func decodeFunctions(body []byte, numSignatures int) ([]uint16, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	sigIdxs := make([]uint16, count)
	for i := range sigIdxs {
		idx, err := c.u16()
		if err != nil {
			return nil, err
		}
		if int(idx) >= numSignatures {
			return nil, &FormatError{Err: fmt.Errorf("%w: function %d signature index %d", ErrIndexOutOfRange, i, idx), Offset: c.off}
		}
		sigIdxs[i] = idx
	}
	return sigIdxs, nil
}
