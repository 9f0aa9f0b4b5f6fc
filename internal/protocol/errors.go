package protocol

import "errors"

var (
	ErrConnectionFailure     = errors.New("protocol: connection failure")
	ErrWriteFailure          = errors.New("protocol: request write failure")
	ErrTimeout               = errors.New("protocol: deadline elapsed")
	ErrMalformedFrame        = errors.New("protocol: malformed frame")
	ErrExcessiveGapCount     = errors.New("protocol: missing sequence count exceeds single-byte addressing")
	ErrInvalidSequenceNumber = errors.New("protocol: sequence number not addressable")
	ErrInvalidCallType       = errors.New("protocol: invalid call type")
	ErrShortRequest          = errors.New("protocol: short request frame")
)
