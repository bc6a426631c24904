package firmware

import (
	"encoding/binary"
	"errors"

	"github.com/tinyrange/bios/internal/cbor"
	"github.com/tinyrange/bios/internal/component"
)

// invokeOpen starts opening the boot file on the filesystem at addr. The
// returned flag reports whether the call completed synchronously.
//
// The argument buffer is a 1-element CBOR array holding the filename as a
// text string, laid out into a fixed-size buffer.
func (m *Machine) invokeOpen(addr component.Address) (bool, error) {
	var buf [3 + len(BootPath)]byte
	buf[0] = byte(cbor.Array)<<5 | 1
	buf[1] = byte(cbor.Text)<<5 | 24
	buf[2] = byte(len(BootPath))
	copy(buf[3:], BootPath)

	done, err := m.bus.Invoke(addr, "open", buf[:])
	if err != nil {
		// A rejected invocation is a firmware bug, not a problem with the
		// machine's configuration.
		return false, m.crash(msgInternal)
	}
	return done, nil
}

// invokeRead starts reading the next chunk from the open boot file. The
// argument buffer is a 2-element CBOR array: the descriptor wrapped in the
// identifier tag, then the requested byte count. Both integers use the
// fixed 4-byte width so the buffer size is static.
func (m *Machine) invokeRead(addr component.Address, fd component.Descriptor) (bool, error) {
	var buf [13]byte
	buf[0] = byte(cbor.Array)<<5 | 2
	buf[1] = byte(cbor.Tag)<<5 | 24
	buf[2] = cbor.TagIdentifier
	buf[3] = byte(cbor.UnsignedInteger)<<5 | 26
	binary.BigEndian.PutUint32(buf[4:8], uint32(fd))
	buf[8] = byte(cbor.UnsignedInteger)<<5 | 26
	binary.BigEndian.PutUint32(buf[9:13], ChunkSize)

	done, err := m.bus.Invoke(addr, "read", buf[:])
	if err != nil {
		return false, m.crash(msgInternal)
	}
	return done, nil
}

// step runs one state machine step: it collects the prior call's result if
// the state has one pending, decides the transition, and issues at most one
// new call. A returned error is always terminal.
func (m *Machine) step(cur state) (runResult, state, error) {
	switch cur := cur.(type) {
	case stateInit:
		// Find the EEPROM and ask it for the configured boot device.
		listing := m.bus.List(eepromType)
		eeprom, ok := listing.Next()
		if !ok {
			return 0, nil, m.crash(msgNoEEPROM)
		}
		done, err := m.bus.Invoke(eeprom.Address, "getData", nil)
		if err != nil {
			return 0, nil, m.crash(msgInternal)
		}
		return resume(done), stateReadingBootDeviceUUID{}, nil

	case stateReadingBootDeviceUUID:
		// An EEPROM data area is 256 bytes; 300 leaves room for the CBOR
		// framing.
		var buf [300]byte
		n, err := m.bus.CollectResult(buf[:])
		if err != nil {
			return 0, nil, m.crash(msgInternal)
		}
		result := buf[:n]

		// Expect a 1-element array holding a byte string.
		major, count, rest, err := cbor.DecodeHeader(result)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.Array || count != 1 {
			return 0, nil, m.crash(msgEEPROMData)
		}
		major, count, rest, err = cbor.DecodeHeader(rest)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.Bytes {
			return 0, nil, m.crash(msgEEPROMData)
		}
		if uint64(len(rest)) != count {
			return 0, nil, m.crash(msgEEPROMData)
		}

		// If the data area holds a binary address, try it, but only when
		// the component it names is still present and is a filesystem.
		// Anything else means the configured boot device is unusable, and
		// the firmware scans for a bootable medium instead.
		if boot, ok := component.AddressFromBytes(rest); ok {
			if typ, err := m.bus.ComponentType(boot); err == nil && typ == bootableType {
				done, err := m.invokeOpen(boot)
				if err != nil {
					return 0, nil, err
				}
				return resume(done), stateOpeningFile{addr: boot, source: uuidSource{}}, nil
			}
		}
		return runNext, stateStartScan{}, nil

	case stateStartScan:
		return runNext, stateScanning{listing: m.bus.List(bootableType)}, nil

	case stateScanning:
		entry, ok := cur.listing.Next()
		if !ok {
			return 0, nil, m.crash(msgNoMedium)
		}
		done, err := m.invokeOpen(entry.Address)
		if err != nil {
			return 0, nil, err
		}
		next := stateOpeningFile{
			addr:   entry.Address,
			source: uuidSource{listing: cur.listing},
		}
		return resume(done), next, nil

	case stateOpeningFile:
		// An open call returns either a tagged descriptor or null plus the
		// filename that failed; the buffer is sized for both.
		var buf [32 + len(BootPath)]byte
		n, err := m.bus.CollectResult(buf[:])
		if err != nil {
			if errors.Is(err, component.ErrOperationFailed) {
				// The boot file is missing on this candidate. Fall back to
				// scanning, resuming an in-progress scan where it left off.
				if cur.source.listing == nil {
					return runNext, stateStartScan{}, nil
				}
				return runNext, stateScanning{listing: cur.source.listing}, nil
			}
			return 0, nil, m.crash(msgOpenBad)
		}
		result := buf[:n]

		// Expect a 1-element array holding an identifier-tagged unsigned
		// integer: the fresh file descriptor.
		major, count, rest, err := cbor.DecodeHeader(result)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.Array || count != 1 {
			return 0, nil, m.crash(msgOpenBad)
		}
		major, count, rest, err = cbor.DecodeHeader(rest)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.Tag || count != cbor.TagIdentifier {
			return 0, nil, m.crash(msgOpenBad)
		}
		major, count, _, err = cbor.DecodeHeader(rest)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.UnsignedInteger {
			return 0, nil, m.crash(msgOpenBad)
		}

		// Descriptors are small; the truncation is safe.
		fd := component.Descriptor(count)
		done, err := m.invokeRead(cur.addr, fd)
		if err != nil {
			return 0, nil, err
		}
		return resume(done), stateReadingFile{addr: cur.addr, fd: fd}, nil

	case stateReadingFile:
		var buf [32 + ChunkSize]byte
		n, err := m.bus.CollectResult(buf[:])
		if err != nil {
			return 0, nil, m.crash(msgInternal)
		}
		result := buf[:n]

		// Expect a 1-element array holding either a byte string (a chunk
		// of file data) or null (end of file).
		major, count, rest, err := cbor.DecodeHeader(result)
		if err != nil {
			return 0, nil, err
		}
		if major != cbor.Array || count != 1 {
			return 0, nil, m.crash(msgIOError)
		}
		major, count, rest, err = cbor.DecodeHeader(rest)
		if err != nil {
			return 0, nil, err
		}

		switch {
		case major == cbor.Bytes && count <= uint64(len(rest)):
			if err := m.exec.Add(rest[:count]); err != nil {
				return 0, nil, m.crash(msgInternal)
			}
			done, err := m.invokeRead(cur.addr, cur.fd)
			if err != nil {
				return 0, nil, err
			}
			return resume(done), cur, nil

		case major == cbor.Special && count == cbor.SpecialNull:
			// End of file: the image is complete. Release the descriptor
			// and hand over to the execution engine.
			if err := m.bus.Close(cur.fd); err != nil {
				return 0, nil, m.crash(msgInternal)
			}
			if err := m.exec.Execute(); err != nil {
				return 0, nil, m.crash(msgInternal)
			}
			return handoff, stateInit{}, nil

		default:
			return 0, nil, m.crash(msgIOError)
		}

	default:
		return 0, nil, m.crash(msgInternal)
	}
}
