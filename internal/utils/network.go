package utils

import (
	"net"
	"strings"
)

// Interface is the part of a network interface the relay heuristic
// looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
	Addrs    []net.IP
}

// Tunnel-style interface names: OpenVPN, virtual adapters, WireGuard,
// point-to-point links and Cloudflare WARP.
var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp"}

// Carrier-grade NAT range, also used by WARP and Tailscale.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or CGNAT
// and returns true if we should force TURN usage.
func ShouldForceRelay() bool {
	ifaces, err := localInterfaces()
	if err != nil {
		return false
	}
	return BehindTunnel(ifaces)
}

// BehindTunnel reports whether any active, non-loopback interface looks
// like a tunnel by name or carries a CGNAT address.
func BehindTunnel(ifaces []Interface) bool {
	for _, iface := range ifaces {
		if !iface.Up || iface.Loopback {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, hint := range tunnelNames {
			if strings.Contains(name, hint) {
				return true
			}
		}

		for _, ip := range iface.Addrs {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func localInterfaces() ([]Interface, error) {
	system, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	ifaces := make([]Interface, 0, len(system))
	for _, sys := range system {
		iface := Interface{
			Name:     sys.Name,
			Up:       sys.Flags&net.FlagUp != 0,
			Loopback: sys.Flags&net.FlagLoopback != 0,
		}
		addrs, err := sys.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					iface.Addrs = append(iface.Addrs, v.IP)
				case *net.IPAddr:
					iface.Addrs = append(iface.Addrs, v.IP)
				}
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}
