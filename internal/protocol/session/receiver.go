package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/danmuck/abxctl/internal/observability"
	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/danmuck/abxctl/internal/protocol/packet"
	"github.com/rs/zerolog"
)

// Mode selects when a receive loop stops.
type Mode int

const (
	// ModeBulk reads until the peer closes the connection.
	ModeBulk Mode = iota
	// ModeSingle stops after the first full frame.
	ModeSingle
)

func (m Mode) String() string {
	if m == ModeSingle {
		return "single"
	}
	return "bulk"
}

// Accumulator collects decoded packets. Add reports whether p was new.
type Accumulator interface {
	Add(p packet.Packet) bool
}

// Receiver reads successive packet frames from one stream.
type Receiver struct {
	r    io.Reader
	mode Mode
	call protocol.CallType
	log  zerolog.Logger
}

func NewReceiver(r io.Reader, mode Mode, call protocol.CallType, log zerolog.Logger) *Receiver {
	return &Receiver{r: r, mode: mode, call: call, log: log}
}

// Receive reads frames into acc until the stop condition for the mode and
// returns how many new packets were added. Reads shorter than a frame are
// logged and skipped. Packets already added stay in acc on error.
func (rc *Receiver) Receive(ctx context.Context, acc Accumulator) (int, error) {
	var buf [packet.FrameLen]byte
	added := 0
	for {
		if err := ctx.Err(); err != nil {
			return added, rc.timeout(err)
		}
		n, err := rc.r.Read(buf[:])
		if n == packet.FrameLen {
			p := packet.DecodeFrame(buf)
			accepted := acc.Add(p)
			observability.RecordPacket(rc.call.String(), accepted)
			if accepted {
				added++
				rc.log.Info().
					Str("symbol", p.Symbol).
					Str("side", string(rune(p.Side))).
					Int32("quantity", p.Quantity).
					Int32("price", p.Price).
					Int32("sequence", p.Sequence).
					Msg("parsed packet")
			} else {
				rc.log.Debug().Int32("sequence", p.Sequence).Msg("duplicate packet discarded")
			}
			if rc.mode == ModeSingle {
				return added, nil
			}
		} else if n > 0 {
			observability.RecordMalformedFrame()
			rc.log.Warn().
				Int("bytes", n).
				Str("data", hex.EncodeToString(buf[:n])).
				Msg("received incomplete packet")
		}

		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			rc.log.Debug().Str("mode", rc.mode.String()).Int("added", added).Msg("server closed connection")
			return added, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return added, rc.timeout(ctxErr)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return added, rc.timeout(err)
		}
		return added, fmt.Errorf("%w: read: %w", protocol.ErrConnectionFailure, err)
	}
}

func (rc *Receiver) timeout(cause error) error {
	rc.log.Warn().Err(cause).Msg("timed out waiting for data from server")
	return fmt.Errorf("%w: read: %w", protocol.ErrTimeout, cause)
}
