package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
)

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SplitTarget parses host[:port]. The port defaults to DefaultTargetPort.
// Bracketed IPv6 literals ("[::1]:22", "[::1]") are accepted.
func SplitTarget(target string) (string, int, error) {
	if strings.HasPrefix(target, "[") {
		if strings.HasSuffix(target, "]") {
			return strings.Trim(target, "[]"), DefaultTargetPort, nil
		}
		host, port, err := net.SplitHostPort(target)
		if err != nil {
			return "", 0, err
		}
		return parsePort(host, port)
	}

	i := strings.Index(target, ":")
	if i == -1 {
		return target, DefaultTargetPort, nil
	}
	return parsePort(target[:i], target[i+1:])
}

func parsePort(host, port string) (string, int, error) {
	if !govalidator.IsPort(port) {
		return "", 0, fmt.Errorf("invalid port %q", port)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", port, err)
	}
	return host, n, nil
}

// ConnectTarget establishes a TCP connection to host:port.
//
// The host must be an IP literal or a syntactically valid DNS name; name
// resolution itself is left to the dialer. A positive timeout bounds the
// whole attempt.
//
// Parameters:
//   - ctx: Cancelled on server shutdown to abort a pending dial.
//   - d: The dialer used to reach the target.
//   - host, port: The endpoint as returned by Handshake.Endpoint.
//   - timeout: Upper bound for resolution plus connect, 0 for none.
//
// Returns:
//   - net.Conn: The open target connection.
//   - error: Wraps ErrTargetUnreachable on any failure.
func ConnectTarget(ctx context.Context, d Dialer, host string, port int, timeout time.Duration) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if !govalidator.IsIP(host) && !govalidator.IsDNSName(host) {
		return nil, fmt.Errorf("%w: %s: invalid host %q", ErrTargetUnreachable, addr, host)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: %s: invalid port %d", ErrTargetUnreachable, addr, port)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTargetUnreachable, addr, err)
	}
	return conn, nil
}
