package protocol

import (
	"fmt"
	"io"
)

// Request is the 2-byte client->server frame.
type Request struct {
	Call    CallType
	Payload uint8
}

// StreamAllRequest asks the server to stream every packet and close.
func StreamAllRequest() Request {
	return Request{Call: StreamAllPackets, Payload: 0x00}
}

// ResendRequest asks the server for the single packet with the given sequence.
func ResendRequest(sequence int32) (Request, error) {
	if sequence < 0 || sequence > MaxResendSequence {
		return Request{}, fmt.Errorf("%w: %d must be within [0, %d]", ErrInvalidSequenceNumber, sequence, MaxResendSequence)
	}
	return Request{Call: ResendPackets, Payload: uint8(sequence)}, nil
}

func (r Request) Bytes() []byte {
	return []byte{byte(r.Call), r.Payload}
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%d", r.Call, r.Payload)
}

// WriteRequest writes exactly RequestLen bytes.
func WriteRequest(w io.Writer, r Request) error {
	n, err := w.Write(r.Bytes())
	if err != nil {
		return err
	}
	if n != RequestLen {
		return io.ErrShortWrite
	}
	return nil
}

// ReadRequest reads one request frame. Used by test endpoints.
func ReadRequest(rd io.Reader) (Request, error) {
	var buf [RequestLen]byte
	if _, err := io.ReadFull(rd, buf[:]); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrShortRequest, err)
	}
	return ParseRequest(buf[:])
}

func ParseRequest(b []byte) (Request, error) {
	if len(b) != RequestLen {
		return Request{}, fmt.Errorf("%w: got %d bytes", ErrShortRequest, len(b))
	}
	r := Request{Call: CallType(b[0]), Payload: b[1]}
	if !r.Call.Valid() {
		return Request{}, fmt.Errorf("%w: %d", ErrInvalidCallType, b[0])
	}
	return r, nil
}
