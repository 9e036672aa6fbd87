// Package discovery advertises and finds mailbox servers on the local
// network over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// Service is the DNS-SD service type of a mailbox server.
	Service = "_kamera-mailbox._tcp"
	Domain  = "local."

	DefaultTimeout = 3 * time.Second

	pathKey = "path"
)

var ErrNotFound = errors.New("no mailbox found on the local network")

// Server is a running advertisement.
type Server interface {
	Shutdown()
}

// Registrar creates advertisements. The zeroconf implementation is used
// unless one is injected.
type Registrar interface {
	Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error)
}

// Browser lists service entries.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfRegistrar struct{}

func (zeroconfRegistrar) Register(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (Server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertise publishes a mailbox listening on port with its websocket path.
// Shut the returned server down to withdraw it.
func Advertise(r Registrar, port int, path string) (Server, error) {
	if r == nil {
		r = zeroconfRegistrar{}
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("advertise mailbox: invalid port %d", port)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kamera"
	}
	instance := "kamera-" + strings.Split(host, ".")[0]
	return r.Register(instance, Service, Domain, port, []string{pathKey + "=" + path}, nil)
}

// Mailbox is a discovered mailbox server.
type Mailbox struct {
	Instance string
	Port     int
	IPs      []net.IP
	Path     string
}

// URL returns the websocket URL of the mailbox, preferring IPv4.
func (m Mailbox) URL() string {
	if len(m.IPs) == 0 {
		return ""
	}
	ip := m.IPs[0]
	for _, candidate := range m.IPs {
		if candidate.To4() != nil {
			ip = candidate
			break
		}
	}
	path := m.Path
	if path == "" {
		path = "/v1/ws"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(ip.String(), fmt.Sprint(m.Port)) + path
}

// Find browses for mailbox servers and returns the first one that
// resolves, or ErrNotFound after timeout.
func Find(ctx context.Context, b Browser, timeout time.Duration) (Mailbox, error) {
	if b == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return Mailbox{}, fmt.Errorf("create resolver: %w", err)
		}
		b = resolver
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := b.Browse(ctx, Service, Domain, entries); err != nil {
		return Mailbox{}, fmt.Errorf("browse: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return Mailbox{}, ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return Mailbox{}, ErrNotFound
			}
			if entry == nil {
				continue
			}
			m := fromEntry(entry)
			if len(m.IPs) > 0 {
				return m, nil
			}
		}
	}
}

func fromEntry(entry *zeroconf.ServiceEntry) Mailbox {
	m := Mailbox{Instance: entry.Instance, Port: entry.Port}
	m.IPs = append(m.IPs, entry.AddrIPv4...)
	m.IPs = append(m.IPs, entry.AddrIPv6...)
	for _, txt := range entry.Text {
		if key, value, ok := strings.Cut(txt, "="); ok && key == pathKey {
			m.Path = value
		}
	}
	return m
}
