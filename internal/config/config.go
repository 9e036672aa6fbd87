package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMailboxURL        = "ws://localhost:8080/v1/ws"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultCodec             = "H264/90000"
	DefaultTelemetryInterval = 10 * time.Second
	DefaultListenAddr        = ":8080"

	// ConfigEnv names an explicit config file.
	ConfigEnv = "KAMERA_CONFIG"
)

// Config holds application configuration
type Config struct {
	// MailboxURL is the websocket address of the signaling mailbox.
	MailboxURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// PreferredCodec is moved to the front of the offered video codecs.
	PreferredCodec string

	// TelemetryInterval is the Broadcaster's status heartbeat period.
	TelemetryInterval time.Duration

	// Discover looks the mailbox up on the LAN with mDNS when set.
	Discover bool

	// File is the config file that was read, if any.
	File string
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set on the command line".
type Options struct {
	ConfigFile        string
	MailboxURL        string
	STUNServer        string
	TURNServer        string
	TURNUser          string
	TURNPass          string
	ForceRelay        bool
	PreferredCodec    string
	TelemetryInterval time.Duration
	Discover          bool
}

// fileConfig is the YAML layout of the config file.
type fileConfig struct {
	Mailbox string `yaml:"mailbox"`
	STUN    string `yaml:"stun"`
	TURN    struct {
		Server   string `yaml:"server"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"turn"`
	ForceRelay        bool   `yaml:"force_relay"`
	PreferredCodec    string `yaml:"preferred_codec"`
	TelemetryInterval string `yaml:"telemetry_interval"`
	Discover          bool   `yaml:"discover"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	file, path, err := readFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MailboxURL:     firstNonEmpty(opts.MailboxURL, os.Getenv("MAILBOX_URL"), file.Mailbox, DefaultMailboxURL),
		STUNServer:     firstNonEmpty(opts.STUNServer, os.Getenv("STUN_SERVER"), file.STUN, DefaultSTUN),
		TURNServer:     firstNonEmpty(opts.TURNServer, os.Getenv("TURN_SERVER"), file.TURN.Server),
		TURNUser:       firstNonEmpty(opts.TURNUser, os.Getenv("TURN_USERNAME"), file.TURN.Username),
		TURNPass:       firstNonEmpty(opts.TURNPass, os.Getenv("TURN_PASSWORD"), file.TURN.Password),
		PreferredCodec: firstNonEmpty(opts.PreferredCodec, os.Getenv("PREFERRED_CODEC"), file.PreferredCodec, DefaultCodec),
		File:           path,
	}

	cfg.ForceRelay = opts.ForceRelay || file.ForceRelay
	if v, ok := os.LookupEnv("FORCE_RELAY"); ok && !opts.ForceRelay {
		relay, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid FORCE_RELAY %q: %w", v, err)
		}
		cfg.ForceRelay = relay
	}

	cfg.Discover = opts.Discover || file.Discover

	cfg.TelemetryInterval = opts.TelemetryInterval
	if cfg.TelemetryInterval == 0 {
		raw := firstNonEmpty(os.Getenv("TELEMETRY_INTERVAL"), file.TelemetryInterval)
		if raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid telemetry interval %q: %w", raw, err)
			}
			cfg.TelemetryInterval = d
		}
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}

	return cfg, nil
}

// readFile loads the explicit config file, or the default one when it
// exists. An explicit file that is missing is an error.
func readFile(explicit string) (fileConfig, string, error) {
	var file fileConfig

	path := firstNonEmpty(explicit, os.Getenv(ConfigEnv))
	required := path != ""
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return file, "", nil
		}
		path = filepath.Join(dir, "kamera", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return file, "", nil
		}
		return file, "", fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, "", fmt.Errorf("parse config %s: %w", path, err)
	}
	return file, path, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", trimScheme(c.TURNServer)),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func trimScheme(server string) string {
	for _, scheme := range []string{"turn:", "turns:"} {
		if len(server) > len(scheme) && server[:len(scheme)] == scheme {
			return server[len(scheme):]
		}
	}
	return server
}
