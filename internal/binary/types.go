package binary

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/module"
)

// decodeTypes decodes the Types section: u32 count, then per signature a u8
// param count, the params, a u8 return count, and the returns (spec §4.1).
func decodeTypes(body []byte) ([]module.Signature, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	sigs := make([]module.Signature, count)
	for i := range sigs {
		pc, err := c.u8()
		if err != nil {
			return nil, err
		}
		params := make([]api.ValueType, pc)
		for j := range params {
			t, err := c.u8()
			if err != nil {
				return nil, err
			}
			if t == api.ValueTypeVoid {
				return nil, &FormatError{Err: fmt.Errorf("%w: VOID is not a legal param", ErrInvalidSectionBody), Offset: c.off}
			}
			params[j] = t
		}
		rc, err := c.u8()
		if err != nil {
			return nil, err
		}
		results := make([]api.ValueType, rc)
		for j := range results {
			t, err := c.u8()
			if err != nil {
				return nil, err
			}
			if t == api.ValueTypeVoid {
				return nil, &FormatError{Err: fmt.Errorf("%w: VOID is not a legal return", ErrInvalidSectionBody), Offset: c.off}
			}
			results[j] = t
		}
		sigs[i] = module.Signature{Params: params, Results: results}
	}
	return sigs, nil
}
