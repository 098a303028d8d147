package main

import (
	"github.com/grandcat/zeroconf"

	"wsproxy/internal/obs"
)

// announceMDNS registers the tunnel port on the local network. The
// returned func withdraws the announcement.
func announceMDNS(port int) func() {
	server, err := zeroconf.Register("wsproxy", "_wsproxy._tcp", "local.", port, []string{"handshake=websocket"}, nil)
	if err != nil {
		obs.Errorf("mDNS: failed to register service: %v", err)
		return func() {}
	}
	return server.Shutdown
}
