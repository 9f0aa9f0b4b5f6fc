package protocol

import "fmt"

// CallType is byte 0 of every request frame.
type CallType uint8

const (
	StreamAllPackets CallType = 1
	ResendPackets    CallType = 2
)

const (
	// RequestLen is the fixed client->server frame length.
	RequestLen = 2
	// MaxResendSequence is the largest sequence a resend request can address.
	MaxResendSequence = 255
)

func (c CallType) String() string {
	switch c {
	case StreamAllPackets:
		return "stream_all_packets"
	case ResendPackets:
		return "resend_packets"
	default:
		return fmt.Sprintf("call_type(%d)", uint8(c))
	}
}

func (c CallType) Valid() bool {
	return c == StreamAllPackets || c == ResendPackets
}
