// Package firmware implements the boot firmware for a component-bus virtual
// computer. On power-on it reads the configured boot device address from the
// machine's EEPROM, falls back to scanning for any filesystem component, then
// loads /init.wasm in chunks and hands the accumulated image to the
// execution engine.
//
// The firmware is cooperatively scheduled: the host invokes Run once per
// quantum, and Run advances the state machine until a host call has to
// complete asynchronously or the boot reaches a terminal condition. At most
// one host call is outstanding at any time.
package firmware

import (
	"errors"
	"fmt"

	"github.com/tinyrange/bios/internal/component"
)

const (
	// BootPath is the file the firmware loads from the boot filesystem.
	BootPath = "/init.wasm"

	// ChunkSize is the number of bytes requested per read call. Large
	// enough to amortize call overhead, small enough to fit comfortably in
	// a result buffer.
	ChunkSize = 16384
)

// Component type literals used when filtering the bus.
const (
	eepromType   = "eeprom"
	bootableType = "filesystem"
)

// Fatal diagnostics.
const (
	msgInternal   = "BIOS: internal error"
	msgNoEEPROM   = "BIOS: no EEPROM"
	msgNoMedium   = "BIOS: no bootable medium"
	msgEEPROMData = "BIOS: eeprom.getData bad"
	msgOpenBad    = "BIOS: filesystem.open bad"
	msgIOError    = "BIOS: I/O error reading " + BootPath
)

// ErrCrashed is wrapped by every error Run returns after the firmware has
// reported a fatal diagnostic.
var ErrCrashed = errors.New("firmware: crashed")

// Executor accumulates the boot image and eventually takes over execution.
// It is the firmware's hand-off collaborator: once Execute succeeds, the
// boot is finished and the firmware never runs again.
type Executor interface {
	// Add appends a run of image bytes.
	Add(chunk []byte) error

	// Execute validates the accumulated image and begins executing it.
	Execute() error
}

// Reporter receives fatal firmware diagnostics before the machine halts.
type Reporter interface {
	Crash(msg string)
}

// Machine is the firmware instance for one virtual computer. It owns the
// single persisted state slot that survives across scheduling quanta.
type Machine struct {
	bus  component.Bus
	exec Executor
	rep  Reporter

	state  state
	booted bool
	failed error
}

// New creates firmware attached to a bus, an execution engine, and a crash
// reporter.
func New(bus component.Bus, exec Executor, rep Reporter) *Machine {
	return &Machine{bus: bus, exec: exec, rep: rep, state: stateInit{}}
}

// crash reports a fatal diagnostic and returns the terminal error for it.
func (m *Machine) crash(msg string) error {
	m.rep.Crash(msg)
	return fmt.Errorf("%w: %s", ErrCrashed, msg)
}

// Run advances the state machine, executing consecutive steps for as long as
// each completes immediately. It returns as soon as a step must wait for an
// outstanding host call (done=false), or on a terminal condition: the image
// was handed to the executor (done=true, err=nil) or the firmware crashed
// (done=true, err wraps ErrCrashed). The host invokes Run once per
// scheduling quantum; after a terminal result further calls are no-ops.
func (m *Machine) Run() (done bool, err error) {
	if m.failed != nil {
		return true, m.failed
	}
	if m.booted {
		return true, nil
	}

	for {
		// Take exclusive ownership of the state for the duration of the
		// step. Each step consumes the old state by value and produces the
		// next one; the slot is never partially mutated.
		cur := m.state
		m.state = stateInit{}
		res, next, err := m.step(cur)
		if err != nil {
			if !errors.Is(err, ErrCrashed) {
				// Decode errors indicate a host/firmware protocol
				// mismatch, never a transient condition.
				err = m.crash(msgInternal)
			}
			m.failed = err
			return true, err
		}
		m.state = next

		switch res {
		case runNext:
		case yieldToHost:
			return false, nil
		case handoff:
			m.booted = true
			return true, nil
		}
	}
}
