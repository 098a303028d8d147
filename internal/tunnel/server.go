package tunnel

import (
	"context"
	"net"
	"sync"
	"time"

	"wsproxy/internal/admission"
	"wsproxy/internal/obs"
)

// Options configures a Server. Zero relay fields take the package
// defaults, a nil Dialer dials with a plain net.Dialer.
type Options struct {
	Host string
	Port int

	// TLSPort enables a second, TLS-wrapped listener when positive. The
	// certificate pair is generated on first use.
	TLSPort     int
	TLSCertFile string
	TLSKeyFile  string

	DefaultTarget string
	Policy        Policy

	BufferSize       int
	PollInterval     time.Duration
	IdleThreshold    int
	HandshakeTimeout time.Duration
	ConnectTimeout   time.Duration

	Gate   *admission.RateGate // nil admits any connect rate
	Dialer Dialer
}

// Admitter is the admission registry as seen by the listener.
type Admitter interface {
	TryAdmit(ip string) bool
	Release(ip string)
}

// Server accepts client connections, admits them per source IP and runs
// one Session per admitted connection.
type Server struct {
	opts   Options
	reg    Admitter
	dialer Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	sessions  map[*Session]struct{}
	listeners map[net.Listener]struct{}

	wg        sync.WaitGroup // one per tracked session
	loops     sync.WaitGroup // one per accept loop and the gate sweeper
	sweepOnce sync.Once
}

// NewServer constructs a Server that admits connections through reg.
func NewServer(opts Options, reg Admitter) *Server {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	d := opts.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:      opts,
		reg:       reg,
		dialer:    d,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[*Session]struct{}),
		listeners: make(map[net.Listener]struct{}),
	}
}

// Sessions returns the number of sessions currently tracked.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// add tracks sess. It fails once shutdown has begun.
func (s *Server) add(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	obs.ActiveSessions.Inc()
	return true
}

// release untracks sess and gives its admission slot back. Called from
// Session teardown, once per session.
func (s *Server) release(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()

	s.reg.Release(sess.IP())
	s.updateTracked()
	obs.ActiveSessions.Dec()
	s.wg.Done()
}

func (s *Server) updateTracked() {
	if l, ok := s.reg.(interface{ Len() int }); ok {
		obs.TrackedIPs.Set(float64(l.Len()))
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.listeners[ln] = struct{}{}
	s.loops.Add(1)
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
	s.loops.Done()
}

// stop cancels the server context and closes every listener. It does not
// wait for anything.
func (s *Server) stop() []*Session {
	s.cancel()

	s.mu.Lock()
	lns := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		lns = append(lns, ln)
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, ln := range lns {
		ln.Close()
	}
	return sessions
}

// Shutdown stops accepting, closes every tracked session and waits until
// all of them have released their admission slots.
func (s *Server) Shutdown() {
	sessions := s.stop()
	if len(sessions) > 0 {
		obs.Infof("Shutting down, closing %d session(s)", len(sessions))
	}
	for _, sess := range sessions {
		obs.Debugf("[session %s] closing for shutdown (%s)", sess.ID(), sess.State())
		sess.Close()
	}
	s.loops.Wait()
	s.wg.Wait()
}

func (s *Server) sweepGate() {
	defer s.loops.Done()
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			if n := s.opts.Gate.Sweep(); n > 0 {
				obs.Debugf("rate gate: dropped %d idle source(s)", n)
			}
		}
	}
}
