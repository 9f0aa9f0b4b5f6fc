// Package abxserver is a scripted loopback ABX endpoint for tests.
package abxserver

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/danmuck/abxctl/internal/protocol/packet"
)

type Option func(*Server)

// WithPackets sets the packets the server knows about.
func WithPackets(ps ...packet.Packet) Option {
	return func(s *Server) { s.packets = append(s.packets, ps...) }
}

// WithDropped omits the given sequences from the bulk stream. They stay
// available for resend unless also listed in WithoutResend.
func WithDropped(seqs ...int32) Option {
	return func(s *Server) {
		for _, q := range seqs {
			s.dropped[q] = true
		}
	}
}

// WithoutResend makes the server close resend requests for seqs with no frame.
func WithoutResend(seqs ...int32) Option {
	return func(s *Server) {
		for _, q := range seqs {
			s.noResend[q] = true
		}
	}
}

// WithResendReply answers a resend for seq with p instead of the stored packet.
func WithResendReply(seq int32, p packet.Packet) Option {
	return func(s *Server) { s.resendReply[seq] = p }
}

// WithStall holds the first n connections open without replying.
func WithStall(n int) Option {
	return func(s *Server) { s.stall = n }
}

// WithReset aborts the first n connections with a TCP reset after reading
// the request.
func WithReset(n int) Option {
	return func(s *Server) { s.reset = n }
}

// WithRawBulk replaces the bulk response with raw bytes.
func WithRawBulk(b []byte) Option {
	return func(s *Server) { s.rawBulk = b }
}

// Server answers ABX requests on 127.0.0.1.
type Server struct {
	ln          net.Listener
	packets     []packet.Packet
	dropped     map[int32]bool
	noResend    map[int32]bool
	resendReply map[int32]packet.Packet
	stall       int
	reset       int
	rawBulk     []byte

	mu       sync.Mutex
	conns    int
	requests []protocol.Request
	wg       sync.WaitGroup
	done     chan struct{}
}

func Start(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &Server{
		ln:          ln,
		dropped:     make(map[int32]bool),
		noResend:    make(map[int32]bool),
		resendReply: make(map[int32]packet.Packet),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Requests returns the request frames received so far.
func (s *Server) Requests() []protocol.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.ln.Close()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		stall := s.conns <= s.stall
		reset := s.conns <= s.reset
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn, stall, reset)
		}()
	}
}

func (s *Server) handle(conn net.Conn, stall, reset bool) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	req, err := protocol.ReadRequest(conn)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if reset {
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetLinger(0)
		}
		return
	}
	if stall {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
		}
		return
	}

	switch req.Call {
	case protocol.StreamAllPackets:
		if s.rawBulk != nil {
			_, _ = conn.Write(s.rawBulk)
			return
		}
		for _, p := range s.packets {
			if s.dropped[p.Sequence] {
				continue
			}
			if _, err := conn.Write(packet.Encode(p)); err != nil {
				return
			}
		}
	case protocol.ResendPackets:
		seq := int32(req.Payload)
		if s.noResend[seq] {
			return
		}
		if p, ok := s.resendReply[seq]; ok {
			_, _ = conn.Write(packet.Encode(p))
			return
		}
		for _, p := range s.packets {
			if p.Sequence == seq {
				_, _ = conn.Write(packet.Encode(p))
				return
			}
		}
	}
}

// Packets builds count packets with sequences 1..count.
func Packets(count int) []packet.Packet {
	symbols := []string{"MSFT", "AAPL", "AMZN", "META"}
	out := make([]packet.Packet, 0, count)
	for i := 1; i <= count; i++ {
		side := byte('B')
		if i%2 == 0 {
			side = 'S'
		}
		out = append(out, packet.Packet{
			Symbol:   symbols[i%len(symbols)],
			Side:     side,
			Quantity: int32(10 * i),
			Price:    int32(100 + i),
			Sequence: int32(i),
		})
	}
	return out
}
