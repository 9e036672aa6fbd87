package utils

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBehindTunnel(t *testing.T) {
	lan := Interface{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("192.168.1.10")}}
	assert.False(t, BehindTunnel([]Interface{lan}))

	assert.True(t, BehindTunnel([]Interface{lan, {Name: "wg0", Up: true}}))
	assert.True(t, BehindTunnel([]Interface{{Name: "utun3", Up: true}}))
	assert.True(t, BehindTunnel([]Interface{{Name: "eth1", Up: true, Addrs: []net.IP{net.ParseIP("100.101.5.6")}}}))

	assert.False(t, BehindTunnel([]Interface{{Name: "tun0", Up: false}}))
	assert.False(t, BehindTunnel([]Interface{{Name: "lo", Up: true, Loopback: true, Addrs: []net.IP{net.ParseIP("100.64.0.1")}}}))
	assert.False(t, BehindTunnel([]Interface{{Name: "eth2", Up: true, Addrs: []net.IP{net.ParseIP("100.128.0.1")}}}))
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.ivf")
	assert.Equal(t, path, UniquePath(path))

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "video-1.ivf"), UniquePath(path))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "video-1.ivf"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "video-2.ivf"), UniquePath(path))
}

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatTimeDuration(42*time.Second))
	assert.Equal(t, "3m 5s", FormatTimeDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "1h 0m 9s", FormatTimeDuration(time.Hour+9*time.Second))
}
