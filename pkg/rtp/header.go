// Package rtp decodes RTP packet headers as laid out in RFC 3550 section 5.1.
//
// The package is a decoder only: it reads the fixed header, the CSRC list,
// and the single profile-generic extension block out of a big-endian buffer
// and returns detached values that no longer reference the input. Callers
// locate the payload with Header.Size. Nothing here serializes headers back
// to bytes or interprets payload content.
package rtp

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// fixedHeaderSize is the byte length of the mandatory header prefix.
const fixedHeaderSize = 12

// Header is one decoded RTP packet header.
//
// ParseHeader produces headers whole: either every field below is populated
// from the buffer or an error is returned and no Header exists. CSRC keeps
// wire order. Extension is nil exactly when the extension flag in Info is
// clear.
type Header struct {
	Info      HeaderInfo
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	CSRC      []uint32
	Extension *HeaderExtension
}

// ParseHeader decodes one RTP header from the front of buf.
//
// The buffer must hold the 12 fixed bytes, the CSRC identifiers the info
// word declares, and, when the extension flag is set, a complete extension
// block; otherwise the matching sentinel error is returned. Bytes past the
// decoded header are payload and are never read. The returned Header shares
// no memory with buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < fixedHeaderSize {
		return Header{}, fmt.Errorf("%w: have %d bytes, need %d", ErrHeaderTooSmall, len(buf), fixedHeaderSize)
	}
	header := Header{
		Info:      HeaderInfo(binary.BigEndian.Uint16(buf[0:2])),
		Sequence:  binary.BigEndian.Uint16(buf[2:4]),
		Timestamp: binary.BigEndian.Uint32(buf[4:8]),
		SSRC:      binary.BigEndian.Uint32(buf[8:12]),
	}
	count := int(header.Info.CSRCCount())
	end := fixedHeaderSize + count*4
	if len(buf) < end {
		return Header{}, fmt.Errorf("%w: have %d bytes after fixed header, need %d for %d entries",
			ErrInsufficientCSRCData, len(buf)-fixedHeaderSize, count*4, count)
	}
	if count > 0 {
		header.CSRC = make([]uint32, count)
		for i := range header.CSRC {
			offset := fixedHeaderSize + i*4
			header.CSRC[i] = binary.BigEndian.Uint32(buf[offset : offset+4])
		}
	}
	if header.Info.HasExtension() {
		extension, err := ParseHeaderExtension(buf[end:])
		if err != nil {
			return Header{}, err
		}
		header.Extension = &extension
	}
	return header, nil
}

// Size returns the number of bytes the header occupies on the wire. For a
// parsed packet the payload starts at this offset in the original buffer.
func (h Header) Size() int {
	size := fixedHeaderSize + 4*len(h.CSRC)
	if h.Extension != nil {
		size += h.Extension.Size()
	}
	return size
}

// String renders the header as a one-line key=value summary.
func (h Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v=%d pt=%d seq=%d ts=%d ssrc=0x%08x",
		h.Info.Version(), h.Info.PayloadType(), h.Sequence, h.Timestamp, h.SSRC)
	if h.Info.HasMarker() {
		b.WriteString(" marker")
	}
	if h.Info.HasPadding() {
		b.WriteString(" padding")
	}
	if len(h.CSRC) > 0 {
		fmt.Fprintf(&b, " csrc=%d", len(h.CSRC))
	}
	if h.Extension != nil {
		fmt.Fprintf(&b, " %s", h.Extension)
	}
	return b.String()
}
