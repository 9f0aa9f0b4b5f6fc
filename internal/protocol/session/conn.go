package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/rs/zerolog"
)

var ErrConnClosed = errors.New("session: connection closed")

// Conn owns one TCP connection for one logical request.
type Conn struct {
	conn net.Conn
	log  zerolog.Logger
	stop func() bool
}

// Open dials host:port. The dial, and every later write and read on the
// returned Conn, is bounded by ctx.
func Open(ctx context.Context, host string, port int, log zerolog.Logger) (*Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log = log.With().Str("addr", addr).Logger()
	log.Info().Msg("connecting to server")

	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrConnectionFailure, addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	c := &Conn{conn: raw, log: log}
	// Cancellation without a deadline still has to unblock reads and writes.
	c.stop = context.AfterFunc(ctx, func() {
		_ = raw.SetDeadline(time.Unix(1, 0))
	})
	log.Info().Msg("connected to server")
	return c, nil
}

// SendRequest writes the 2-byte request frame.
func (c *Conn) SendRequest(req protocol.Request) error {
	if c.conn == nil {
		return ErrConnClosed
	}
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return fmt.Errorf("%w: %s: %w", protocol.ErrWriteFailure, req, err)
	}
	c.log.Debug().Stringer("request", req).Msg("request sent")
	return nil
}

// Receive drains response frames into acc according to mode.
func (c *Conn) Receive(ctx context.Context, mode Mode, call protocol.CallType, acc Accumulator) (int, error) {
	if c.conn == nil {
		return 0, ErrConnClosed
	}
	return NewReceiver(c.conn, mode, call, c.log).Receive(ctx, acc)
}

func (c *Conn) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.stop != nil {
		c.stop()
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Exchange runs one full request: open, send, receive, close. The connection
// is closed on every return path.
func Exchange(ctx context.Context, host string, port int, req protocol.Request, acc Accumulator, log zerolog.Logger) (int, error) {
	c, err := Open(ctx, host, port, log)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	if err := c.SendRequest(req); err != nil {
		return 0, err
	}
	mode := ModeBulk
	if req.Call == protocol.ResendPackets {
		mode = ModeSingle
	}
	return c.Receive(ctx, mode, req.Call, acc)
}
