package binary

import (
	"fmt"

	"github.com/espb-vm/espb/api"
	"github.com/espb-vm/espb/internal/module"
)

// decodeGlobals decodes the Globals section (spec §4.1 "Globals").
func decodeGlobals(body []byte) ([]module.Global, error) {
	c := newCursor(body)
	count, err := c.u32()
	if err != nil {
		return nil, err
	}
	globals := make([]module.Global, count)
	for i := range globals {
		t, err := c.u8()
		if err != nil {
			return nil, err
		}
		mut, err := c.u8()
		if err != nil {
			return nil, err
		}
		shared, err := c.u8()
		if err != nil {
			return nil, err
		}
		initKind, err := c.u8()
		if err != nil {
			return nil, err
		}
		g := module.Global{Type: t, Mutable: mut != 0, Shared: shared != 0, InitKind: module.GlobalInitKind(initKind)}
		switch g.InitKind {
		case module.GlobalInitConst:
			lo, err := c.scalarValue(t)
			if err != nil {
				return nil, err
			}
			g.InitConst = api.Value{Type: t, Lo: lo}
		case module.GlobalInitDataOffset:
			off, err := c.u32()
			if err != nil {
				return nil, err
			}
			g.InitData = off
		case module.GlobalInitZero:
			// nothing follows
		default:
			return nil, &FormatError{Err: fmt.Errorf("%w: unknown global init kind %d", ErrInvalidSectionBody, initKind), Offset: c.off}
		}
		globals[i] = g
	}
	return globals, nil
}
