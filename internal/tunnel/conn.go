package tunnel

import (
	"net"
	"sync"
	"sync/atomic"
)

// ownedConn is a net.Conn whose Close takes effect once. Later calls are
// no-ops returning the first result, so every teardown path may close
// without tracking who closed first.
type ownedConn struct {
	net.Conn
	once   sync.Once
	closed atomic.Bool
	err    error
}

func own(c net.Conn) *ownedConn {
	if oc, ok := c.(*ownedConn); ok {
		return oc
	}
	return &ownedConn{Conn: c}
}

// Close closes the underlying connection the first time it is called.
func (c *ownedConn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		c.err = c.Conn.Close()
	})
	return c.err
}

// Closed reports whether Close has been called.
func (c *ownedConn) Closed() bool { return c.closed.Load() }
