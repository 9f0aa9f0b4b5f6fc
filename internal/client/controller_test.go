package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/danmuck/abxctl/internal/protocol/packet"
	"github.com/danmuck/abxctl/internal/protocol/session"
	"github.com/danmuck/abxctl/internal/testutil/abxserver"
	"github.com/danmuck/abxctl/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

type recordSink struct {
	calls   int
	packets []packet.Packet
}

func (s *recordSink) Write(_ context.Context, packets []packet.Packet) error {
	s.calls++
	s.packets = packets
	return nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func testConfig(srv *abxserver.Server) Config {
	cfg := DefaultConfig()
	cfg.Host = srv.Host()
	cfg.Port = srv.Port()
	cfg.Session.Deadline = 3 * time.Second
	return cfg
}

func sequences(ps []packet.Packet) []int32 {
	out := make([]int32, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Sequence)
	}
	return out
}

func equalSeqs(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRunReconstructsMissingPackets(t *testing.T) {
	testlog.Start(t)
	all := abxserver.Packets(10)
	srv := abxserver.Start(t, abxserver.WithPackets(all...), abxserver.WithDropped(3, 5, 6))
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("unexpected state=%s", c.State())
	}
	if sink.calls != 1 {
		t.Fatalf("expected one sink write, got %d", sink.calls)
	}
	want := []int32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := sequences(sink.packets); !equalSeqs(got, want) {
		t.Fatalf("unexpected sequences=%v", got)
	}
	for i, p := range sink.packets {
		if p != all[i] {
			t.Fatalf("packet %d mismatch: got=%+v want=%+v", i, p, all[i])
		}
	}
	if !equalSeqs(res.Requested, []int32{3, 5, 6}) {
		t.Fatalf("unexpected requested=%v", res.Requested)
	}
	if len(res.Unresolved) != 0 {
		t.Fatalf("unexpected unresolved=%v", res.Unresolved)
	}
	if res.Attempts != 4 {
		t.Fatalf("unexpected attempts=%d", res.Attempts)
	}
	if res.RunID == "" {
		t.Fatalf("expected run id")
	}

	reqs := srv.Requests()
	if len(reqs) != 4 || reqs[0] != protocol.StreamAllRequest() {
		t.Fatalf("unexpected requests=%v", reqs)
	}
	for i, seq := range []uint8{3, 5, 6} {
		if reqs[i+1].Call != protocol.ResendPackets || reqs[i+1].Payload != seq {
			t.Fatalf("unexpected resend request %d: %v", i, reqs[i+1])
		}
	}
}

func TestRunEmptyBulkResponseIsDone(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t)
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.State() != StateDone {
		t.Fatalf("unexpected state=%s", c.State())
	}
	if sink.calls != 0 {
		t.Fatalf("empty run must not write output, calls=%d", sink.calls)
	}
	if len(res.Packets) != 0 || len(res.Requested) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := len(srv.Requests()); got != 1 {
		t.Fatalf("expected only the bulk request, got %d", got)
	}
}

func TestRunAcceptsEmptyResend(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t,
		abxserver.WithPackets(abxserver.Packets(6)...),
		abxserver.WithDropped(2, 4),
		abxserver.WithoutResend(4),
	)
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sequences(sink.packets); !equalSeqs(got, []int32{1, 2, 3, 5, 6}) {
		t.Fatalf("unexpected sequences=%v", got)
	}
	if !equalSeqs(res.Unresolved, []int32{4}) {
		t.Fatalf("unexpected unresolved=%v", res.Unresolved)
	}
	if res.Attempts != 3 {
		t.Fatalf("empty resend must not be retried, attempts=%d", res.Attempts)
	}
}

func TestRunExcessiveGapCountIsFatal(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(packet.Packet{Symbol: "MSFT", Side: 'B', Sequence: 257}))
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if !errors.Is(err, protocol.ErrExcessiveGapCount) {
		t.Fatalf("expected ErrExcessiveGapCount, got %v", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("unexpected state=%s", c.State())
	}
	if sink.calls != 0 || res.Packets != nil {
		t.Fatalf("failed run must not produce output")
	}
	if got := len(srv.Requests()); got != 1 {
		t.Fatalf("no resend may be sent, requests=%d", got)
	}
}

func TestRunUnaddressableSequenceIsFatal(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(abxserver.Packets(300)...), abxserver.WithDropped(260))
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	_, err = c.Run(context.Background())
	if !errors.Is(err, protocol.ErrInvalidSequenceNumber) {
		t.Fatalf("expected ErrInvalidSequenceNumber, got %v", err)
	}
	if sink.calls != 0 {
		t.Fatalf("failed run must not produce output")
	}
	if got := len(srv.Requests()); got != 1 {
		t.Fatalf("no resend may be sent, requests=%d", got)
	}
}

func TestRunTimeoutFailsWithoutOutput(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(abxserver.Packets(3)...), abxserver.WithStall(10))
	sink := &recordSink{}

	cfg := testConfig(srv)
	cfg.Session.Deadline = 100 * time.Millisecond
	c, err := New(cfg, WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("unexpected state=%s", c.State())
	}
	if sink.calls != 0 {
		t.Fatalf("timed out run must not produce output")
	}
	// The backoff wait shares the expired deadline, so no second attempt starts.
	if res.Attempts != 1 {
		t.Fatalf("unexpected attempts=%d", res.Attempts)
	}
}

func TestRunRetriesResetConnection(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(abxserver.Packets(4)...), abxserver.WithReset(1))
	sink := &recordSink{}
	rec := &sleepRecorder{}

	c, err := New(testConfig(srv), WithSink(sink), WithSleep(rec.sleep))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("unexpected attempts=%d", res.Attempts)
	}
	if len(rec.waits) != 1 || rec.waits[0] != 500*time.Millisecond {
		t.Fatalf("unexpected backoff waits=%v", rec.waits)
	}
	if got := sequences(sink.packets); !equalSeqs(got, []int32{1, 2, 3, 4}) {
		t.Fatalf("unexpected sequences=%v", got)
	}
}

func TestRunExhaustedRetriesFail(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(abxserver.Packets(4)...), abxserver.WithReset(3))
	sink := &recordSink{}
	rec := &sleepRecorder{}

	c, err := New(testConfig(srv), WithSink(sink), WithSleep(rec.sleep))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if !errors.Is(err, protocol.ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", err)
	}
	if res.Attempts != 3 || srv.Connections() != 3 {
		t.Fatalf("unexpected attempts=%d connections=%d", res.Attempts, srv.Connections())
	}
	if len(rec.waits) != 2 || rec.waits[0] != 500*time.Millisecond || rec.waits[1] != time.Second {
		t.Fatalf("unexpected backoff waits=%v", rec.waits)
	}
	if sink.calls != 0 {
		t.Fatalf("failed run must not produce output")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = " "
	if _, err := New(cfg); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected ErrHostRequired, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.Port = 70000
	if _, err := New(cfg); !errors.Is(err, ErrInvalidPort) {
		t.Fatalf("expected ErrInvalidPort, got %v", err)
	}
	c, err := New(Config{Host: "localhost", Port: 3000})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.cfg.Session != session.DefaultConfig() {
		t.Fatalf("expected session defaults, got %+v", c.cfg.Session)
	}
	if c.State() != StateIdle {
		t.Fatalf("unexpected initial state=%s", c.State())
	}
}

func TestRunCapsUnresolvedReportForFarResendReply(t *testing.T) {
	testlog.Start(t)
	far := packet.Packet{Symbol: "MSFT", Side: 'S', Quantity: 1, Price: 1, Sequence: 20_000_000}
	srv := abxserver.Start(t,
		abxserver.WithPackets(abxserver.Packets(4)...),
		abxserver.WithDropped(3),
		abxserver.WithResendReply(3, far),
	)
	sink := &recordSink{}

	c, err := New(testConfig(srv), WithSink(sink))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sequences(sink.packets); !equalSeqs(got, []int32{1, 2, 4, 20_000_000}) {
		t.Fatalf("unexpected sequences=%v", got)
	}
	if len(res.Unresolved) != maxUnresolvedReport {
		t.Fatalf("unresolved report not capped, len=%d", len(res.Unresolved))
	}
	if res.Unresolved[0] != 3 || res.Unresolved[1] != 5 {
		t.Fatalf("unexpected unresolved head=%v", res.Unresolved[:2])
	}
}

func TestRunFailureLeavesReportingToCaller(t *testing.T) {
	testlog.Start(t)
	srv := abxserver.Start(t, abxserver.WithPackets(abxserver.Packets(2)...), abxserver.WithReset(3))
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	c, err := New(testConfig(srv), WithLogger(logger), WithSleep((&sleepRecorder{}).sleep))
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if _, err := c.Run(context.Background()); err == nil {
		t.Fatalf("expected run failure")
	}
	if strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("failed run should only surface the returned error, logs:\n%s", buf.String())
	}
}
