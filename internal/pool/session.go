package pool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/bardlex/gomp-miner/internal/framing"
	"github.com/bardlex/gomp-miner/pkg/errors"
	"github.com/bardlex/gomp-miner/pkg/log"
)

// DefaultConnectTimeout bounds the dial and the handshake
const DefaultConnectTimeout = 5 * time.Second

// State of a session
type State int

const (
	// StateDisconnected - no usable transport
	StateDisconnected State = iota
	// StateConnecting - dialing the pool
	StateConnecting
	// StateHandshaking - transport open, waiting for "ok"
	StateHandshaking
	// StateReady - fetch and exchange may be called
	StateReady
)

// String returns string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Dialer opens stream connections; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configure Connect
type Options struct {
	ClientVersion  string
	RewardIdentity string
	Format         HandshakeFormat
	ConnectTimeout time.Duration
	// ReadTimeout of zero leaves requests without a deadline
	ReadTimeout time.Duration
	Dialer      Dialer
	Logger      *log.Logger
}

// Session is one handshaken connection to a pool. Requests are strictly
// sequential; Close may be called from any goroutine.
type Session struct {
	addr        string
	identity    string
	version     string
	readTimeout time.Duration
	logger      *log.Logger

	mu        sync.Mutex
	state     State
	conn      net.Conn
	framer    *framing.Conn
	stopWatch func() bool
}

// Connect dials addr and performs the version handshake. On any failure the
// transport is closed and no session is returned; retrying is up to the caller.
func Connect(ctx context.Context, addr string, opts Options) (*Session, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.Format == "" {
		opts.Format = FormatFrames
	}

	s := &Session{
		addr:        addr,
		identity:    opts.RewardIdentity,
		version:     opts.ClientVersion,
		readTimeout: opts.ReadTimeout,
		logger:      opts.Logger,
		state:       StateConnecting,
	}

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	conn, err := opts.Dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		se := errors.Wrap(err, errors.ErrorTypeConnect, "connect", "failed to connect to pool").
			WithContext("addr", addr).
			WithContext("timeout", opts.ConnectTimeout.String())
		// A dial timeout is retryable; a cancelled caller is not
		se.Retryable = ctx.Err() == nil
		return nil, se
	}

	framer := framing.New(conn)

	s.mu.Lock()
	s.conn = conn
	s.framer = framer
	s.state = StateHandshaking
	// Closing the socket on cancellation unblocks any pending read
	s.stopWatch = context.AfterFunc(ctx, func() { s.Close() })
	s.mu.Unlock()

	if err := s.handshake(conn, framer, opts.Format, opts.ConnectTimeout); err != nil {
		s.Close()
		se := errors.Wrap(err, errors.ErrorTypeHandshake, "handshake", "pool rejected handshake").
			WithContext("addr", addr)
		se.Retryable = ctx.Err() == nil
		return nil, se
	}

	s.mu.Lock()
	if s.state != StateHandshaking {
		// Closed by cancellation between the reply and here
		s.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeHandshake, "handshake", "session closed during handshake").
			WithContext("addr", addr)
	}
	s.state = StateReady
	s.mu.Unlock()

	s.logger.LogConnection("connected", addr)
	return s, nil
}

func (s *Session) handshake(conn net.Conn, framer *framing.Conn, format HandshakeFormat, timeout time.Duration) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	if err := framer.Send(handshakeFrames(format, s.version, s.identity)...); err != nil {
		return err
	}

	reply, err := framer.ReceiveString()
	if err != nil {
		return err
	}
	if reply != ReplyOK {
		return errors.New(errors.ErrorTypeHandshake, "handshake", "protocol mismatch").
			WithContext("reply", reply)
	}

	return conn.SetDeadline(time.Time{})
}

// Fetch requests a job without submitting anything
func (s *Session) Fetch() (Job, error) {
	return s.request("fetch", MarkerFetch)
}

// Exchange submits result and receives the next job in the same round trip.
// A nil result is equivalent to Fetch.
func (s *Session) Exchange(result *Result) (Job, error) {
	if result == nil {
		return s.Fetch()
	}
	return s.request("exchange", result.frames()...)
}

func (s *Session) request(op string, frames ...any) (Job, error) {
	framer, conn, err := s.ready(op)
	if err != nil {
		return Job{}, err
	}

	job, err := s.roundTrip(conn, framer, frames)
	if err != nil {
		// Nothing on this connection can be trusted after a failure
		s.Close()
		return Job{}, errors.Wrap(err, errorTypeFor(err), op, "pool request failed").
			WithContext("addr", s.addr)
	}

	s.logger.LogJob(job.Difficulty, job.Address, job.Hash)
	return job, nil
}

func (s *Session) roundTrip(conn net.Conn, framer *framing.Conn, frames []any) (Job, error) {
	if s.readTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return Job{}, err
		}
	}

	if err := framer.Send(frames...); err != nil {
		return Job{}, err
	}

	var parts [3][]byte
	for i := range parts {
		payload, err := framer.Receive()
		if err != nil {
			return Job{}, err
		}
		parts[i] = payload
	}

	return parseJob(parts[0], parts[1], parts[2])
}

// errorTypeFor keeps protocol errors distinct and files everything else as a
// broken connection
func errorTypeFor(err error) errors.ErrorType {
	if errors.IsType(err, errors.ErrorTypeProtocol) {
		return errors.ErrorTypeProtocol
	}
	return errors.ErrorTypeConnection
}

func (s *Session) ready(op string) (*framing.Conn, net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil, nil, errors.New(errors.ErrorTypeState, op, "session is not ready").
			WithContext("state", s.state.String())
	}
	return s.framer, s.conn, nil
}

// Close releases the transport. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	stop := s.stopWatch
	wasReady := s.state == StateReady
	s.conn = nil
	s.framer = nil
	s.stopWatch = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		s.logger.WithError(err).Debug("failed to close connection")
	}
	if wasReady {
		s.logger.LogConnection("disconnected", s.addr)
	}
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the pool address this session was opened to
func (s *Session) RemoteAddr() string {
	return s.addr
}

// Identity returns the reward identity announced at handshake
func (s *Session) Identity() string {
	return s.identity
}
