package tunnel

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"wsproxy/internal/obs"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateAccepted State = iota
	StateAuthenticating
	StateConnecting
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAuthenticating:
		return "authenticating"
	case StateConnecting:
		return "connecting"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var errEmptyHandshake = errors.New("client sent no handshake")

// Session manages a single admitted client connection.
//
// It runs the handshake, connects to the requested target, relays bytes and
// finally tears itself down. Teardown closes both connections and releases
// the admission slot of the source IP exactly once, whichever phase failed
// and whether or not the server closed the session from outside.
type Session struct {
	id     string
	ip     string
	client *ownedConn
	server *Server
	start  time.Time

	mu     sync.Mutex
	target *ownedConn
	closed bool

	state    atomic.Int32
	teardown sync.Once
}

func newSession(srv *Server, c net.Conn, ip string) *Session {
	return &Session{
		id:     uuid.NewString(),
		ip:     ip,
		client: own(c),
		server: srv,
		start:  time.Now(),
	}
}

// ID returns the unique session identifier used in logs.
func (s *Session) ID() string { return s.id }

// IP returns the source IP the session was admitted for.
func (s *Session) IP() string { return s.ip }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// Handle drives the session from handshake to teardown. It returns once
// the session is closed.
func (s *Session) Handle() {
	outcome := "closed"
	defer func() { s.finish(outcome) }()

	obs.Debugf("[session %s] accepted from %s", s.id, s.client.RemoteAddr())

	s.setState(StateAuthenticating)
	h, err := s.readHandshake()
	if err != nil {
		if !isIgnorableError(err) && !errors.Is(err, errEmptyHandshake) {
			obs.Warnf("[session %s] handshake read failed: %v", s.id, err)
		}
		outcome = "handshake_failed"
		return
	}

	if err := s.server.opts.Policy.Check(h); err != nil {
		s.reject(err)
		outcome = "rejected"
		return
	}

	s.setState(StateConnecting)
	conn, err := s.connect(h)
	if err != nil {
		obs.Warnf("[session %s] %v", s.id, err)
		outcome = "unreachable"
		return
	}
	target, ok := s.attachTarget(conn)
	if !ok {
		outcome = "shutdown"
		return
	}

	if _, err := io.WriteString(s.client, SwitchingProtocolsResponse); err != nil {
		obs.Debugf("[session %s] writing upgrade response: %v", s.id, err)
		outcome = "client_gone"
		return
	}
	obs.TunnelsTotal.Inc()
	obs.Infof("[session %s] %s tunnel to %s", s.id, s.ip, h.Target)

	s.setState(StateRelaying)
	res := Relay(s.client, target, RelayOptions{
		BufferSize:    s.server.opts.BufferSize,
		PollInterval:  s.server.opts.PollInterval,
		IdleThreshold: s.server.opts.IdleThreshold,
	})
	obs.RelayEndTotal.WithLabelValues(res.Reason.String()).Inc()
	obs.RelayBytesTotal.WithLabelValues("upstream").Add(float64(res.Upstream))
	obs.RelayBytesTotal.WithLabelValues("downstream").Add(float64(res.Downstream))
	if res.Err != nil && !isIgnorableError(res.Err) {
		obs.Warnf("[session %s] relay error: %v", s.id, res.Err)
	}
	obs.Debugf("[session %s] relay ended (%s), %d bytes up, %d bytes down", s.id, res.Reason, res.Upstream, res.Downstream)
	outcome = res.Reason.String()
}

// readHandshake reads the first buffer from the client and, when the
// client announced X-Split, one more buffer which is discarded.
func (s *Session) readHandshake() (Handshake, error) {
	if t := s.server.opts.HandshakeTimeout; t > 0 {
		s.client.SetReadDeadline(time.Now().Add(t))
		defer s.client.SetReadDeadline(time.Time{})
	}

	bufPtr := getBuffer(s.server.opts.BufferSize)
	defer putBuffer(bufPtr)
	buf := *bufPtr

	n, err := s.client.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = errEmptyHandshake
		}
		return Handshake{}, err
	}
	h := ParseHandshake(buf[:n], s.server.opts.DefaultTarget)

	if h.Split {
		if _, err := s.client.Read(buf); err != nil {
			return Handshake{}, fmt.Errorf("reading split buffer: %w", err)
		}
	}
	return h, nil
}

func (s *Session) connect(h Handshake) (net.Conn, error) {
	host, port, err := h.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, h.Target, err)
	}
	return ConnectTarget(s.server.ctx, s.server.dialer, host, port, s.server.opts.ConnectTimeout)
}

func (s *Session) reject(err error) {
	resp, ok := rejectionFor(err)
	if !ok {
		return
	}
	obs.RejectedTotal.WithLabelValues(rejectLabel(err)).Inc()
	obs.Warnf("[session %s] %s rejected: %v", s.id, s.ip, err)
	s.client.SetWriteDeadline(time.Now().Add(rejectWriteTimeout))
	io.WriteString(s.client, resp)
}

// attachTarget records the target connection unless the session was closed
// meanwhile, in which case conn is closed and false is returned.
func (s *Session) attachTarget(conn net.Conn) (*ownedConn, bool) {
	oc := own(conn)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		oc.Close()
		return nil, false
	}
	s.target = oc
	return oc, true
}

// Close closes both connections. Any blocked read or write in Handle
// returns, which leads Handle into teardown. Safe to call concurrently and
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	target := s.target
	s.mu.Unlock()

	s.client.Close()
	if target != nil {
		target.Close()
	}
}

// finish is the single teardown path. It runs once per session.
func (s *Session) finish(outcome string) {
	s.teardown.Do(func() {
		s.Close()
		s.setState(StateClosed)
		s.server.release(s)
		elapsed := time.Since(s.start)
		obs.SessionDurationSecs.Observe(elapsed.Seconds())
		obs.Debugf("[session %s] closed (%s) after %s", s.id, outcome, elapsed.Round(time.Millisecond))
	})
}
