package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/abxctl/internal/observability"
	"github.com/danmuck/abxctl/internal/output"
	"github.com/danmuck/abxctl/internal/protocol"
	"github.com/danmuck/abxctl/internal/protocol/packet"
	"github.com/danmuck/abxctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxUnresolvedReport bounds the post gap-fill diagnostic. A resend reply can
// carry any sequence, so the range [1, max] is not bounded by the request.
const maxUnresolvedReport = protocol.MaxResendSequence + 1

var (
	ErrHostRequired = errors.New("client: host required")
	ErrInvalidPort  = errors.New("client: port must be within 1..65535")
)

// Config is everything a run needs from its caller.
type Config struct {
	Host    string
	Port    int
	Session session.Config
}

func DefaultConfig() Config {
	return Config{
		Host:    "localhost",
		Port:    3000,
		Session: session.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrHostRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	return nil
}

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Packets  []packet.Packet
	Attempts int
	// Requested lists the sequences asked for during gap fill.
	Requested []int32
	// Unresolved lists sequences still missing after gap fill, capped at
	// maxUnresolvedReport entries.
	Unresolved []int32
	Duration   time.Duration
}

type Option func(*Controller)

// WithSink sets where a successful run's packets go.
func WithSink(s output.Sink) Option {
	return func(c *Controller) { c.sink = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithSleep replaces the backoff wait.
func WithSleep(fn session.SleepFunc) Option {
	return func(c *Controller) { c.sleep = fn }
}

// Controller drives one reconstruction run: bulk fetch, gap analysis, gap
// fill and finalize.
type Controller struct {
	cfg   Config
	sink  output.Sink
	log   zerolog.Logger
	sleep session.SleepFunc
	state State
}

func New(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	c := &Controller{
		cfg:   cfg,
		sink:  output.Discard{},
		log:   log.Logger,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) setState(l zerolog.Logger, s State) {
	c.state = s
	l.Debug().Stringer("state", s).Msg("state")
}

// Run executes the state machine. The run deadline is taken once from
// Session.Deadline and shared by every connect, write, read and backoff wait.
// On error nothing is handed to the sink.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	res := Result{RunID: uuid.NewString()}
	l := c.log.With().Str("run_id", res.RunID).Logger()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.Deadline)
	defer cancel()

	retrier := session.NewRetrier(c.cfg.Session, l)
	if c.sleep != nil {
		retrier.Sleep = c.sleep
	}

	coll := NewCollection()
	err := c.run(ctx, runCtx, l, retrier, coll, &res)
	res.Duration = time.Since(started)
	if err != nil {
		c.setState(l, StateFailed)
		observability.RecordRun(StateFailed.String(), res.Duration)
		l.Debug().Err(err).Dur("elapsed", res.Duration).Msg("run failed")
		res.Packets = nil
		return res, err
	}
	c.setState(l, StateDone)
	observability.RecordRun(StateDone.String(), res.Duration)
	return res, nil
}

func (c *Controller) run(ctx, runCtx context.Context, l zerolog.Logger, retrier *session.Retrier, coll *Collection, res *Result) error {
	c.setState(l, StateBulkFetch)
	if err := c.fetch(runCtx, l, retrier, protocol.StreamAllRequest(), coll, res); err != nil {
		return fmt.Errorf("%s: %w", StateBulkFetch, err)
	}
	if coll.Len() == 0 {
		l.Info().Msg("no packets received")
		return nil
	}
	l.Info().Int("packets", coll.Len()).Msg("server closed connection after streaming all packets")

	c.setState(l, StateGapAnalysis)
	missing, err := missingSequences(coll, protocol.MaxResendSequence+1)
	if err != nil {
		return fmt.Errorf("%s: %w", StateGapAnalysis, err)
	}
	observability.RecordGaps("bulk", len(missing))
	if len(missing) > protocol.MaxResendSequence {
		return fmt.Errorf("%s: %w: more than %d missing", StateGapAnalysis, protocol.ErrExcessiveGapCount, protocol.MaxResendSequence)
	}
	l.Info().Int("missing", len(missing)).Msg("gap analysis complete")

	for _, seq := range missing {
		c.setState(l, StateGapFill)
		// The count guard above does not bound the values themselves.
		if seq > protocol.MaxResendSequence {
			return fmt.Errorf("%s: %w: %d", StateGapFill, protocol.ErrInvalidSequenceNumber, seq)
		}
		req, err := protocol.ResendRequest(seq)
		if err != nil {
			return fmt.Errorf("%s: %w", StateGapFill, err)
		}
		l.Info().Int32("sequence", seq).Msg("requesting missing packet")
		res.Requested = append(res.Requested, seq)
		if err := c.fetch(runCtx, l, retrier, req, coll, res); err != nil {
			return fmt.Errorf("%s: sequence %d: %w", StateGapFill, seq, err)
		}
	}

	c.setState(l, StateFinalize)
	res.Packets = coll.Sorted()
	res.Unresolved, _ = missingSequences(coll, maxUnresolvedReport)
	observability.RecordGaps("unresolved", len(res.Unresolved))
	if len(res.Unresolved) > 0 {
		l.Warn().
			Int("count", len(res.Unresolved)).
			Bool("capped", len(res.Unresolved) == maxUnresolvedReport).
			Int32("first", res.Unresolved[0]).
			Msg("gaps left unresolved")
	}
	l.Info().Int("packets", len(res.Packets)).Msg("finished processing packets")

	// The sink is an outside collaborator and is not bound by the run deadline.
	if err := c.sink.Write(ctx, res.Packets); err != nil {
		return fmt.Errorf("%s: %w", StateFinalize, err)
	}
	return nil
}

// fetch performs one request through the retrier. Packets gathered by a
// failed attempt stay in coll.
func (c *Controller) fetch(ctx context.Context, l zerolog.Logger, retrier *session.Retrier, req protocol.Request, coll *Collection, res *Result) error {
	desc := req.Call.String()
	if req.Call == protocol.ResendPackets {
		desc = fmt.Sprintf("%s seq=%d", desc, req.Payload)
	}
	return retrier.Do(ctx, desc, func(ctx context.Context, attempt int) error {
		res.Attempts++
		added, err := session.Exchange(ctx, c.cfg.Host, c.cfg.Port, req, coll, l)
		observability.RecordAttempt(req.Call.String(), err == nil)
		if err != nil {
			return err
		}
		if req.Call == protocol.ResendPackets && added == 0 {
			l.Info().Uint8("sequence", req.Payload).Msg("server had nothing to resend")
		}
		return nil
	})
}
