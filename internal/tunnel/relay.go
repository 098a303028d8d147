package tunnel

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// EndReason tells why a relay stopped.
type EndReason int

const (
	// ReasonPeerClosed is an orderly close by either side.
	ReasonPeerClosed EndReason = iota
	// ReasonIdle means no byte moved for IdleThreshold consecutive polls.
	ReasonIdle
	// ReasonIOError is a read or write fault on either connection.
	ReasonIOError
)

func (r EndReason) String() string {
	switch r {
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonIdle:
		return "idle"
	case ReasonIOError:
		return "io_error"
	}
	return "unknown"
}

// RelayOptions tunes the copy loop. Zero fields take the package defaults.
type RelayOptions struct {
	BufferSize    int
	PollInterval  time.Duration
	IdleThreshold int
}

func (o RelayOptions) withDefaults() RelayOptions {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	return o
}

// RelayResult summarizes a finished relay.
type RelayResult struct {
	Reason     EndReason
	Err        error // set for ReasonIOError
	Upstream   int64 // client to target
	Downstream int64 // target to client
}

type pipeEnd struct {
	err error
}

// Relay copies bytes between client and target until one side closes, an
// I/O error occurs or the link stays idle for opts.IdleThreshold
// consecutive poll intervals. Any byte moved in either direction during an
// interval resets the idle count.
//
// Relay closes both connections before returning and does not return until
// both copy goroutines have exited.
func Relay(client, target net.Conn, opts RelayOptions) RelayResult {
	opts = opts.withDefaults()

	var active atomic.Bool
	var up, down atomic.Int64
	var res RelayResult
	done := make(chan pipeEnd, 2)
	outstanding, idle := 2, 0

	go func() { done <- pipeEnd{pipe(target, client, opts.BufferSize, &active, &up)} }()
	go func() { done <- pipeEnd{pipe(client, target, opts.BufferSize, &active, &down)} }()

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case e := <-done:
			outstanding--
			res.Reason, res.Err = classify(e.err)
			break loop
		case <-ticker.C:
			if active.Swap(false) {
				idle = 0
				continue
			}
			idle++
			if idle >= opts.IdleThreshold {
				res.Reason = ReasonIdle
				break loop
			}
		}
	}

	client.Close()
	target.Close()
	for ; outstanding > 0; outstanding-- {
		<-done
	}
	res.Upstream = up.Load()
	res.Downstream = down.Load()
	return res
}

// pipe copies src to dst until src reports EOF or either side fails. It
// returns nil on a clean EOF.
func pipe(dst io.Writer, src io.Reader, size int, active *atomic.Bool, n *atomic.Int64) error {
	bufPtr := getBuffer(size)
	defer putBuffer(bufPtr)
	buf := *bufPtr

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			active.Store(true)
			nw, werr := dst.Write(buf[:nr])
			n.Add(int64(nw))
			if werr != nil {
				return werr
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

func classify(err error) (EndReason, error) {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return ReasonPeerClosed, nil
	}
	return ReasonIOError, err
}
