//go:build !unix

package tunnel

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error { return nil }
