package rtp

import (
	"encoding/binary"
	"fmt"
)

// extensionHeaderSize is the byte length of the extension id and length
// fields that precede the extension words.
const extensionHeaderSize = 4

// HeaderExtension is the profile-generic extension block from RFC 3550
// section 5.3.1: a 16-bit profile-defined identifier, a declared count of
// 32-bit words, and the words themselves in wire order.
//
// The identifier and the word count are opaque here. A zero Length is legal
// and leaves Words empty.
type HeaderExtension struct {
	ID     uint16
	Length uint16
	Words  []uint32
}

// ParseHeaderExtension decodes one extension block from the front of buf.
// The buffer must hold the 4-byte extension header and the number of words
// it declares; otherwise the matching sentinel error is returned.
func ParseHeaderExtension(buf []byte) (HeaderExtension, error) {
	if len(buf) < extensionHeaderSize {
		return HeaderExtension{}, fmt.Errorf("%w: have %d bytes, need %d", ErrExtensionHeaderMissing, len(buf), extensionHeaderSize)
	}
	extension := HeaderExtension{
		ID:     binary.BigEndian.Uint16(buf[0:2]),
		Length: binary.BigEndian.Uint16(buf[2:4]),
	}
	need := int(extension.Length) * 4
	if len(buf)-extensionHeaderSize < need {
		return HeaderExtension{}, fmt.Errorf("%w: have %d bytes after extension header, need %d for %d words",
			ErrInsufficientExtensionData, len(buf)-extensionHeaderSize, need, extension.Length)
	}
	if extension.Length > 0 {
		extension.Words = make([]uint32, extension.Length)
		for i := range extension.Words {
			offset := extensionHeaderSize + i*4
			extension.Words[i] = binary.BigEndian.Uint32(buf[offset : offset+4])
		}
	}
	return extension, nil
}

// Size returns the number of bytes the extension block occupies on the wire.
func (e HeaderExtension) Size() int {
	return extensionHeaderSize + 4*len(e.Words)
}

// String renders the extension as a key=value summary.
func (e HeaderExtension) String() string {
	return fmt.Sprintf("ext_id=0x%04x ext_words=%d", e.ID, len(e.Words))
}
