package machine

import (
	"fmt"

	"github.com/tinyrange/bios/internal/component"
)

// eepromDataSize is the size of an EEPROM's data area.
const eepromDataSize = 256

// EEPROM is the machine's boot configuration store. Its data area
// conventionally holds the 16-byte address of the configured boot device,
// but may contain anything; the firmware has to cope.
type EEPROM struct {
	addr component.Address
	data []byte
}

// NewEEPROM creates an EEPROM whose data area holds data.
func NewEEPROM(addr component.Address, data []byte) (*EEPROM, error) {
	if len(data) > eepromDataSize {
		return nil, fmt.Errorf("machine: EEPROM data is %d bytes, limit is %d", len(data), eepromDataSize)
	}
	return &EEPROM{addr: addr, data: append([]byte(nil), data...)}, nil
}

// Address implements Component.
func (e *EEPROM) Address() component.Address { return e.addr }

// Type implements Component.
func (e *EEPROM) Type() string { return "eeprom" }

// Call implements Component.
func (e *EEPROM) Call(method string, args []byte) ([]byte, error) {
	switch method {
	case "getData":
		return encodeBytesResult(e.data)
	default:
		return nil, fmt.Errorf("%w: eeprom has no method %q", component.ErrBadParameters, method)
	}
}

var _ Component = (*EEPROM)(nil)
