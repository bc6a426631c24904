// Package machine implements an in-memory virtual computer for the boot
// firmware to run against: a component bus with EEPROM and filesystem
// components, serialized call completion, and the execution hand-off.
//
// The bus follows the host contract exactly: one outstanding invocation at a
// time, results collected exactly once, call failures delivered at collect
// time. A deferred mode forces every invocation to complete asynchronously
// so the firmware's yield path gets exercised.
package machine

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/bios/internal/component"
)

// Component is a device attached to the bus. Call executes a method and
// returns its CBOR-encoded result; a returned error is delivered to the
// firmware when it collects the result.
type Component interface {
	Address() component.Address
	Type() string
	Call(method string, args []byte) ([]byte, error)
}

// pendingCall holds a completed invocation until it is collected.
type pendingCall struct {
	result []byte
	err    error
}

// Machine is the host side of one simulated computer. It implements
// component.Bus for the firmware and firmware.Reporter for its crashes.
type Machine struct {
	log      *slog.Logger
	deferred bool

	// components in insertion order; enumeration order is stable.
	components []Component
	byAddr     map[component.Address]Component

	descriptors *descriptorTable
	pending     *pendingCall

	crashed  bool
	crashMsg string
}

// New creates an empty machine. A nil logger uses slog.Default.
func New(log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		log:         log,
		byAddr:      make(map[component.Address]Component),
		descriptors: newDescriptorTable(),
	}
}

// SetDeferred controls whether invocations complete asynchronously. When
// set, every Invoke reports done=false and the firmware must yield before
// collecting.
func (m *Machine) SetDeferred(v bool) {
	m.deferred = v
}

// Add attaches a component to the bus.
func (m *Machine) Add(c Component) error {
	addr := c.Address()
	if _, ok := m.byAddr[addr]; ok {
		return fmt.Errorf("machine: duplicate component address %s", addr)
	}
	if b, ok := c.(interface{ bind(*descriptorTable) }); ok {
		b.bind(m.descriptors)
	}
	m.components = append(m.components, c)
	m.byAddr[addr] = c
	return nil
}

// listing is a snapshot cursor over matching components.
type listing struct {
	entries []component.Entry
}

func (l *listing) Next() (component.Entry, bool) {
	if len(l.entries) == 0 {
		return component.Entry{}, false
	}
	e := l.entries[0]
	l.entries = l.entries[1:]
	return e, true
}

// List implements component.Bus.
func (m *Machine) List(filter string) component.Listing {
	var entries []component.Entry
	for _, c := range m.components {
		if filter == "" || c.Type() == filter {
			entries = append(entries, component.Entry{Address: c.Address(), Type: c.Type()})
		}
	}
	return &listing{entries: entries}
}

// ComponentType implements component.Bus.
func (m *Machine) ComponentType(addr component.Address) (string, error) {
	c, ok := m.byAddr[addr]
	if !ok {
		return "", component.ErrNoSuchComponent
	}
	return c.Type(), nil
}

// Invoke implements component.Bus. The component method runs immediately;
// deferred mode only delays when the result may be collected, matching a
// host that finishes calls between quanta.
func (m *Machine) Invoke(addr component.Address, method string, args []byte) (bool, error) {
	if m.pending != nil {
		return false, fmt.Errorf("%w: invoke while a result is pending", component.ErrBadParameters)
	}
	c, ok := m.byAddr[addr]
	if !ok {
		return false, component.ErrNoSuchComponent
	}

	result, err := c.Call(method, args)
	m.pending = &pendingCall{result: result, err: err}
	m.log.Debug("invoke", "addr", addr, "method", method, "args", len(args), "deferred", m.deferred)
	return !m.deferred, nil
}

// CollectResult implements component.Bus.
func (m *Machine) CollectResult(buf []byte) (int, error) {
	p := m.pending
	if p == nil {
		return 0, fmt.Errorf("%w: no pending result", component.ErrBadParameters)
	}
	m.pending = nil
	if p.err != nil {
		return 0, p.err
	}
	if len(buf) < len(p.result) {
		return 0, component.ErrBufferTooShort
	}
	return copy(buf, p.result), nil
}

// Close implements component.Bus.
func (m *Machine) Close(d component.Descriptor) error {
	return m.descriptors.close(d)
}

// Crash implements firmware.Reporter: it records the diagnostic and halts
// the machine.
func (m *Machine) Crash(msg string) {
	m.crashed = true
	m.crashMsg = msg
	m.log.Error("firmware crashed", "msg", msg)
}

// CrashMessage returns the firmware's fatal diagnostic, if any.
func (m *Machine) CrashMessage() (string, bool) {
	return m.crashMsg, m.crashed
}

var _ component.Bus = (*Machine)(nil)
