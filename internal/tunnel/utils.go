package tunnel

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// Responses written to the client. Only the 101 response is followed by
// relayed bytes; every other response is followed by a close.
const (
	// SwitchingProtocolsResponse acknowledges the fake upgrade. The large
	// Content-Length keeps HTTP-aware middleboxes from expecting an end.
	SwitchingProtocolsResponse = "HTTP/1.1 101 Switching Protocols\r\nContent-Length: 104857600000\r\n\r\n"

	WrongPassResponse          = "HTTP/1.1 400 WrongPass!\r\n\r\n"
	ForbiddenResponse          = "HTTP/1.1 403 Forbidden!\r\n\r\n"
	TooManyConnectionsResponse = "HTTP/1.1 429 Too Many Connections\r\n\r\n"
)

// Handshake header names. Matching is case-sensitive.
const (
	HeaderRealHost = "X-Real-Host"
	HeaderSplit    = "X-Split"
	HeaderPass     = "X-Pass"
)

const (
	// DefaultBufferSize is the read size for the handshake and the relay.
	DefaultBufferSize = 16384

	// DefaultPollInterval is the relay readiness poll interval.
	DefaultPollInterval = 3 * time.Second

	// DefaultIdleThreshold is the number of consecutive empty polls after
	// which a relay is considered dead.
	DefaultIdleThreshold = 60

	// DefaultTargetPort is used when a target carries no port.
	DefaultTargetPort = 443

	// acceptPollInterval bounds each Accept call so shutdown is noticed.
	acceptPollInterval = 2 * time.Second

	// rejectWriteTimeout bounds the synchronous 429 write in the accept loop.
	rejectWriteTimeout = 2 * time.Second
)

// HeaderValue returns the value of the first "name: " occurrence in buf,
// up to the next CRLF or the end of buf. It returns "" when the header is
// absent.
//
// Example:
//
//	target := tunnel.HeaderValue(buf, "X-Real-Host")
func HeaderValue(buf []byte, name string) string {
	v, _ := lookupHeader(buf, name)
	return v
}

func lookupHeader(buf []byte, name string) (string, bool) {
	key := []byte(name + ": ")
	start := bytes.Index(buf, key)
	if start == -1 {
		return "", false
	}
	rest := buf[start+len(key):]
	if end := bytes.Index(rest, []byte("\r\n")); end != -1 {
		rest = rest[:end]
	}
	return string(rest), true
}

// remoteIP extracts the IP portion of the connection's remote address.
func remoteIP(c net.Conn) string {
	h, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return h
}

// isIgnorableError returns true if the error is EOF or a known benign network error.
//
// Used internally to suppress logging for expected connection closure errors.
func isIgnorableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe")
}
