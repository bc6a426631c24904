package machine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/tinyrange/bios/internal/cbor"
	"github.com/tinyrange/bios/internal/component"
)

// maxReadCount caps a single read request. The firmware asks for 16 KiB;
// anything far beyond that is a malformed call.
const maxReadCount = 1 << 20

// openFile is one entry in the descriptor table.
type openFile struct {
	file fs.File
}

// descriptorTable tracks open descriptors machine-wide. Each descriptor has
// exactly one owner; closing it twice or using it after close fails.
type descriptorTable struct {
	next uint32
	open map[component.Descriptor]*openFile
}

func newDescriptorTable() *descriptorTable {
	return &descriptorTable{next: 1, open: make(map[component.Descriptor]*openFile)}
}

func (t *descriptorTable) alloc(f *openFile) component.Descriptor {
	d := component.Descriptor(t.next)
	t.next++
	t.open[d] = f
	return d
}

func (t *descriptorTable) get(d component.Descriptor) (*openFile, bool) {
	f, ok := t.open[d]
	return f, ok
}

func (t *descriptorTable) close(d component.Descriptor) error {
	f, ok := t.open[d]
	if !ok {
		return fmt.Errorf("%w: descriptor %d is not open", component.ErrBadParameters, d)
	}
	delete(t.open, d)
	return f.file.Close()
}

// Filesystem exposes an fs.FS as a bus component speaking the boot wire
// protocol: open returns an identifier-tagged descriptor, read returns byte
// string chunks and null at end of file.
type Filesystem struct {
	addr  component.Address
	fsys  fs.FS
	table *descriptorTable
}

// NewFilesystem creates a filesystem component backed by fsys.
func NewFilesystem(addr component.Address, fsys fs.FS) *Filesystem {
	return &Filesystem{addr: addr, fsys: fsys}
}

// bind attaches the machine's descriptor table when the component is added.
func (s *Filesystem) bind(t *descriptorTable) { s.table = t }

// Address implements Component.
func (s *Filesystem) Address() component.Address { return s.addr }

// Type implements Component.
func (s *Filesystem) Type() string { return "filesystem" }

// Call implements Component.
func (s *Filesystem) Call(method string, args []byte) ([]byte, error) {
	switch method {
	case "open":
		return s.openCall(args)
	case "read":
		return s.readCall(args)
	default:
		return nil, fmt.Errorf("%w: filesystem has no method %q", component.ErrBadParameters, method)
	}
}

func (s *Filesystem) openCall(args []byte) ([]byte, error) {
	name, err := decodeOpenArgs(args)
	if err != nil {
		return nil, err
	}

	path := strings.TrimPrefix(name, "/")
	if !fs.ValidPath(path) {
		return nil, fmt.Errorf("%w: open %q", component.ErrOperationFailed, name)
	}
	f, err := s.fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %q", component.ErrOperationFailed, name)
	}

	fd := s.table.alloc(&openFile{file: f})
	return encodeDescriptorResult(uint32(fd))
}

func (s *Filesystem) readCall(args []byte) ([]byte, error) {
	fd, count, err := decodeReadArgs(args)
	if err != nil {
		return nil, err
	}
	if count == 0 || count > maxReadCount {
		return nil, fmt.Errorf("%w: read count %d", component.ErrBadParameters, count)
	}

	f, ok := s.table.get(fd)
	if !ok {
		return nil, fmt.Errorf("%w: descriptor %d is not open", component.ErrBadParameters, fd)
	}

	chunk := make([]byte, count)
	n, err := io.ReadFull(f.file, chunk)
	if n > 0 {
		// Frame the chunk directly rather than routing the data through
		// the reflection encoder.
		out := cbor.AppendHeader(nil, cbor.Array, 1)
		out = cbor.AppendHeader(out, cbor.Bytes, uint64(n))
		return append(out, chunk[:n]...), nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return encodeNullResult()
	}
	return nil, fmt.Errorf("%w: read descriptor %d: %v", component.ErrOperationFailed, fd, err)
}

// decodeOpenArgs parses an open argument list: an array whose first element
// is the path as a text string.
func decodeOpenArgs(args []byte) (string, error) {
	major, count, rest, err := cbor.DecodeHeader(args)
	if err != nil || major != cbor.Array || count < 1 {
		return "", fmt.Errorf("%w: open arguments", component.ErrBadParameters)
	}
	major, count, rest, err = cbor.DecodeHeader(rest)
	if err != nil || major != cbor.Text || uint64(len(rest)) < count {
		return "", fmt.Errorf("%w: open arguments", component.ErrBadParameters)
	}
	return string(rest[:count]), nil
}

// decodeReadArgs parses a read argument list: an array holding an
// identifier-tagged descriptor and the requested byte count.
func decodeReadArgs(args []byte) (component.Descriptor, uint64, error) {
	bad := func() (component.Descriptor, uint64, error) {
		return 0, 0, fmt.Errorf("%w: read arguments", component.ErrBadParameters)
	}

	major, count, rest, err := cbor.DecodeHeader(args)
	if err != nil || major != cbor.Array || count < 2 {
		return bad()
	}
	major, count, rest, err = cbor.DecodeHeader(rest)
	if err != nil || major != cbor.Tag || count != cbor.TagIdentifier {
		return bad()
	}
	major, fdValue, rest, err := cbor.DecodeHeader(rest)
	if err != nil || major != cbor.UnsignedInteger {
		return bad()
	}
	major, readCount, _, err := cbor.DecodeHeader(rest)
	if err != nil || major != cbor.UnsignedInteger {
		return bad()
	}
	return component.Descriptor(fdValue), readCount, nil
}

var _ Component = (*Filesystem)(nil)
