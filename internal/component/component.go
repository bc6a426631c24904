// Package component defines the boundary between the boot firmware and the
// host's component bus: addresses, enumeration, method invocation, and the
// error codes the bus reports. It carries no behavior of its own.
package component

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Address identifies a component on the bus. It is a 16-byte UUID, copied
// freely and compared with ==.
type Address [16]byte

// ParseAddress parses the canonical textual UUID form of an address.
func ParseAddress(s string) (Address, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Address{}, fmt.Errorf("component: bad address %q: %w", s, err)
	}
	return Address(u), nil
}

// AddressFromBytes converts a raw byte slice into an Address. ok is false
// when b is not exactly 16 bytes long.
func AddressFromBytes(b []byte) (Address, bool) {
	var a Address
	if len(b) != len(a) {
		return Address{}, false
	}
	copy(a[:], b)
	return a, true
}

func (a Address) String() string {
	return uuid.UUID(a).String()
}

// Descriptor is an opaque handle to a host-side resource, such as an open
// file. A descriptor is owned by exactly one holder at a time and must be
// either read to completion or closed; the bus rejects reuse after close.
type Descriptor uint32

// Entry is one result of a bus enumeration.
type Entry struct {
	Address Address
	Type    string
}

// Listing is a cursor over enumerated components. The order is stable but
// implementation defined.
type Listing interface {
	// Next yields the next matching component. ok is false once the listing
	// is exhausted.
	Next() (entry Entry, ok bool)
}

// Bus call errors.
var (
	// ErrNoSuchComponent reports that the addressed component has vanished.
	ErrNoSuchComponent = errors.New("component: no such component")

	// ErrBufferTooShort reports a result buffer too small for the result.
	ErrBufferTooShort = errors.New("component: buffer too short")

	// ErrBadParameters reports a malformed call: unknown method, invalid
	// argument encoding, or a protocol violation such as invoking while a
	// result is still pending. It always indicates a caller bug.
	ErrBadParameters = errors.New("component: bad parameters")

	// ErrOperationFailed reports that a well-formed call failed, such as
	// opening a file that does not exist. It is the only code the firmware
	// treats as recoverable, and only when opening the boot file.
	ErrOperationFailed = errors.New("component: operation failed")
)

// Bus is the host call surface the firmware drives. Calls are strictly
// serialized: every Invoke must be followed by exactly one CollectResult
// before the next Invoke.
type Bus interface {
	// List starts an enumeration of components whose declared type equals
	// filter. An empty filter matches every component.
	List(filter string) Listing

	// ComponentType queries a component's declared type. It fails if the
	// component has vanished from the bus.
	ComponentType(addr Address) (string, error)

	// Invoke starts a method call. done reports whether the result is
	// available immediately; when false the caller must return control to
	// the host and collect on a later quantum.
	Invoke(addr Address, method string, args []byte) (done bool, err error)

	// CollectResult copies the pending invocation's CBOR-encoded result
	// into buf and returns the number of bytes written. A call that failed
	// reports its failure here rather than from Invoke.
	CollectResult(buf []byte) (int, error)

	// Close releases a descriptor.
	Close(d Descriptor) error
}
