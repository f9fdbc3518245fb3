package rtp

// HeaderInfo is the first 16-bit word of an RTP header:
//
//	 0                   1
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|X|  CC   |M|     PT      |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// The word is stored verbatim and the accessors mask the packed bits on
// demand. Any value is representable, including a version other than 2;
// callers that care about the version check it themselves.
type HeaderInfo uint16

// Version returns the two-bit protocol version.
func (i HeaderInfo) Version() uint8 {
	return uint8(i >> 14)
}

// HasPadding reports whether the payload ends with padding octets.
func (i HeaderInfo) HasPadding() bool {
	return i&0x2000 != 0
}

// HasExtension reports whether an extension block follows the CSRC list.
func (i HeaderInfo) HasExtension() bool {
	return i&0x1000 != 0
}

// CSRCCount returns the number of contributing source identifiers, 0 to 15.
func (i HeaderInfo) CSRCCount() uint8 {
	return uint8(i >> 8 & 0x0f)
}

// HasMarker reports whether the profile-defined marker bit is set.
func (i HeaderInfo) HasMarker() bool {
	return i&0x0080 != 0
}

// PayloadType returns the seven-bit payload type.
func (i HeaderInfo) PayloadType() uint8 {
	return uint8(i & 0x7f)
}
