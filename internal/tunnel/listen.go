package tunnel

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"wsproxy/internal/obs"
	"wsproxy/pkg/certgen"
)

const maxAcceptBackoff = time.Second

// ListenAndServe binds the plain listener, and the TLS listener when
// Options.TLSPort is set, and serves both until Shutdown. It returns an
// error when binding fails or a listener dies outside of shutdown.
//
// Example:
//
//	srv := tunnel.NewServer(opts, admission.NewRegistry(3))
//	go func() { <-ctx.Done(); srv.Shutdown() }()
//	if err := srv.ListenAndServe(); err != nil {
//	    log.Fatal(err)
//	}
func (s *Server) ListenAndServe() error {
	ln, err := s.listen(s.opts.Port)
	if err != nil {
		return err
	}

	var g errgroup.Group
	if s.opts.TLSPort > 0 {
		tlsCfg, err := loadTLSConfig(s.opts.TLSCertFile, s.opts.TLSKeyFile, s.opts.Host)
		if err != nil {
			ln.Close()
			return err
		}
		tln, err := s.listen(s.opts.TLSPort)
		if err != nil {
			ln.Close()
			return err
		}
		obs.Infof("TLS listener on %s", tln.Addr())
		g.Go(func() error { return s.serveOrStop(tln, tlsCfg) })
	}
	obs.Infof("Listening on %s", ln.Addr())
	g.Go(func() error { return s.serveOrStop(ln, nil) })
	return g.Wait()
}

// Serve runs the accept loop on ln until Shutdown. ln is closed on return.
func (s *Server) Serve(ln net.Listener) error {
	return s.serveOrStop(ln, nil)
}

func (s *Server) serveOrStop(ln net.Listener, tlsCfg *tls.Config) error {
	err := s.serve(ln, tlsCfg)
	if err != nil {
		s.stop()
	}
	return err
}

func (s *Server) listen(port int) (net.Listener, error) {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(s.ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// loadTLSConfig loads the certificate pair, generating it first with hosts
// as extra SANs when either file is missing.
func loadTLSConfig(certFile, keyFile string, hosts ...string) (*tls.Config, error) {
	if err := certgen.GenerateCert(certFile, keyFile, hosts...); err != nil {
		return nil, fmt.Errorf("generate TLS certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// serve is the accept loop. Each Accept is bounded by acceptPollInterval so
// shutdown is noticed even when the listener close is missed. Transient
// accept errors are logged and retried with a short backoff.
func (s *Server) serve(ln net.Listener, tlsCfg *tls.Config) error {
	if !s.trackListener(ln) {
		ln.Close()
		return nil
	}
	defer s.untrackListener(ln)
	defer ln.Close()

	if s.opts.Gate != nil {
		s.sweepOnce.Do(func() {
			s.loops.Add(1)
			go s.sweepGate()
		})
	}

	var backoff time.Duration
	for {
		if s.ctx.Err() != nil {
			return nil
		}
		if d, ok := ln.(deadlineListener); ok {
			d.SetDeadline(time.Now().Add(acceptPollInterval))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener %s closed: %w", ln.Addr(), err)
			}
			obs.AcceptErrorsTotal.Inc()
			backoff = min(max(2*backoff, 5*time.Millisecond), maxAcceptBackoff)
			obs.Errorf("accept on %s: %v; retrying in %v", ln.Addr(), err, backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		s.accept(conn, tlsCfg)
	}
}

// accept admits conn or rejects it with 429 on the spot. Rejected
// connections never get a Session.
func (s *Server) accept(conn net.Conn, tlsCfg *tls.Config) {
	ip := remoteIP(conn)
	if tlsCfg != nil {
		conn = tls.Server(conn, tlsCfg)
	}

	label := ""
	if !s.opts.Gate.Allow(ip) {
		label = "rate_limited"
	} else if !s.reg.TryAdmit(ip) {
		label = rejectLabel(ErrAdmissionRejected)
	}
	if label != "" {
		obs.RejectedTotal.WithLabelValues(label).Inc()
		obs.Warnf("%s rejected: %v", ip, ErrAdmissionRejected)
		conn.SetDeadline(time.Now().Add(rejectWriteTimeout))
		io.WriteString(conn, TooManyConnectionsResponse)
		conn.Close()
		return
	}
	obs.AcceptedTotal.Inc()
	s.updateTracked()

	sess := newSession(s, conn, ip)
	if !s.add(sess) {
		conn.Close()
		s.reg.Release(ip)
		s.updateTracked()
		return
	}
	go sess.Handle()
}
