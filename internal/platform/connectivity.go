package platform

import (
	"context"
	"net"
)

// InterfaceConnectivity reports a network when any non-loopback interface is up with an address
type InterfaceConnectivity struct{}

func (InterfaceConnectivity) Available(ctx context.Context) bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// StaticConnectivity always answers with its own value
type StaticConnectivity bool

func (s StaticConnectivity) Available(ctx context.Context) bool {
	return bool(s)
}
