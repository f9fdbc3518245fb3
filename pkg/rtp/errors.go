package rtp

import "errors"

// Every parse failure wraps exactly one of the sentinels below, so callers
// can branch with errors.Is while still seeing the measured sizes in the
// message.
var (
	// ErrHeaderTooSmall means the buffer cannot hold the 12-byte fixed header.
	ErrHeaderTooSmall = errors.New("rtp header too small")

	// ErrInsufficientCSRCData means the header declares more contributing
	// sources than the buffer has bytes for.
	ErrInsufficientCSRCData = errors.New("insufficient csrc data")

	// ErrExtensionHeaderMissing means the extension flag is set but the
	// 4-byte extension header is absent.
	ErrExtensionHeaderMissing = errors.New("rtp extension header missing")

	// ErrInsufficientExtensionData means the extension declares more 32-bit
	// words than the buffer has bytes for.
	ErrInsufficientExtensionData = errors.New("insufficient extension data")
)
