// Package cbor implements the small subset of RFC 8949 framing spoken on the
// component bus: data item headers. Every host call result starts with one,
// and the firmware's argument buffers are built out of them. Interpretation
// of payload bytes is left entirely to the caller.
package cbor

import (
	"encoding/binary"
	"errors"
)

// MajorType identifies the shape of a CBOR data item.
type MajorType uint8

const (
	// UnsignedInteger is an unsigned integer whose value is the count.
	UnsignedInteger MajorType = iota

	// NegativeInteger is a negative integer whose value is -1-count.
	NegativeInteger

	// Bytes is a byte string; the count is the payload length in bytes.
	Bytes

	// Text is a UTF-8 string; the count is the payload length in bytes.
	Text

	// Array is an array of data items; the count is the number of items.
	Array

	// Map is an array of key/value pairs; the count is the number of pairs.
	Map

	// Tag is a semantic tag; the count is the tag number and the tagged
	// item follows as the payload.
	Tag

	// Special is a simple value; the count is the value itself.
	Special

	// Float is reported for major type 7 with count selectors 25-27. It is
	// never a wire value of its own; the count carries the encoded float.
	Float
)

func (m MajorType) String() string {
	switch m {
	case UnsignedInteger:
		return "unsigned integer"
	case NegativeInteger:
		return "negative integer"
	case Bytes:
		return "byte string"
	case Text:
		return "text string"
	case Array:
		return "array"
	case Map:
		return "map"
	case Tag:
		return "tag"
	case Special:
		return "special"
	case Float:
		return "float"
	default:
		return "invalid"
	}
}

// Wire constants used by the boot protocol.
const (
	// TagIdentifier wraps a freshly issued resource descriptor.
	TagIdentifier = 39

	// SpecialNull is the null simple value, used by filesystem.read to
	// signal end of file.
	SpecialNull = 22
)

var (
	// ErrBufferTooShort is returned when decoding from an empty slice.
	ErrBufferTooShort = errors.New("cbor: buffer too short")

	// ErrDecode is returned for a truncated or invalid header.
	ErrDecode = errors.New("cbor: invalid header")
)

// DecodeHeader reads one data item header from b.
//
// On success it returns the major type, the raw count value (prior to
// interpretation according to major type), and the remainder of b starting
// immediately after the header, i.e. at the payload if the major type has
// one, otherwise at the next data item. DecodeHeader does not check that a
// payload implied by the major type is actually present; callers compare the
// count against the remaining length themselves.
func DecodeHeader(b []byte) (MajorType, uint64, []byte, error) {
	if len(b) == 0 {
		return 0, 0, nil, ErrBufferTooShort
	}
	first := b[0]
	b = b[1:]

	major := MajorType(first >> 5)
	sel := first & 31
	if major == Special && sel >= 25 && sel <= 27 {
		major = Float
	}

	if sel <= 23 {
		return major, uint64(sel), b, nil
	}

	var width int
	switch sel {
	case 24:
		width = 1
	case 25:
		width = 2
	case 26:
		width = 4
	case 27:
		width = 8
	default:
		// Selectors 28-31 are reserved.
		return 0, 0, nil, ErrDecode
	}
	if len(b) < width {
		return 0, 0, nil, ErrDecode
	}

	var count uint64
	for _, c := range b[:width] {
		count = count<<8 | uint64(c)
	}
	return major, count, b[width:], nil
}

// AppendHeader appends the minimal-width encoding of a data item header to
// dst and returns the extended slice. m must be one of the eight wire major
// types, not Float.
func AppendHeader(dst []byte, m MajorType, count uint64) []byte {
	hi := byte(m) << 5
	switch {
	case count <= 23:
		return append(dst, hi|byte(count))
	case count <= 0xff:
		return append(dst, hi|24, byte(count))
	case count <= 0xffff:
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(count))
		return append(append(dst, hi|25), buf[:]...)
	case count <= 0xffffffff:
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(count))
		return append(append(dst, hi|26), buf[:]...)
	default:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], count)
		return append(append(dst, hi|27), buf[:]...)
	}
}
