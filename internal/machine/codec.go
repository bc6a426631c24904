package machine

import (
	"github.com/fxamacker/cbor/v2"

	wire "github.com/tinyrange/bios/internal/cbor"
)

// encMode encodes host call results with Core Deterministic Encoding so the
// same logical result always produces identical bytes.
var encMode cbor.EncMode

func init() {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("machine: CBOR encoder initialization failed: " + err.Error())
	}
	encMode = m
}

// encodeBytesResult encodes a 1-element array holding data as a byte string.
func encodeBytesResult(data []byte) ([]byte, error) {
	if data == nil {
		// nil would encode as null, which the wire protocol reserves for
		// end of file.
		data = []byte{}
	}
	return encMode.Marshal([1]any{data})
}

// encodeDescriptorResult encodes a 1-element array holding fd wrapped in the
// identifier tag, the shape a successful open returns.
func encodeDescriptorResult(fd uint32) ([]byte, error) {
	return encMode.Marshal([1]any{cbor.Tag{Number: wire.TagIdentifier, Content: uint64(fd)}})
}

// encodeNullResult encodes a 1-element array holding null.
func encodeNullResult() ([]byte, error) {
	return encMode.Marshal([1]any{nil})
}
