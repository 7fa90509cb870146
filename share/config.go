package simshare

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FailurePolicy decides what a listener startup failure does to the process
type FailurePolicy string

const (
	// FailureFatal makes a listener startup failure abort relay startup
	FailureFatal FailurePolicy = "fatal"

	// FailureLog logs a listener startup failure; the relay continues with
	// whatever other listeners started
	FailureLog FailurePolicy = "log"
)

// Errors returned by Config.Validate and by TLS listener startup
var (
	ErrInvalidPort          = errors.New("config: port out of range")
	ErrInvalidFailurePolicy = errors.New("config: invalid failure policy")
	ErrInvalidDuration      = errors.New("config: negative duration")
	ErrInvalidLogging       = errors.New("config: invalid logging option")
	ErrCertFileRequired     = errors.New("tls: cert file required")
	ErrKeyFileRequired      = errors.New("tls: key file required")
)

// Config is the relay configuration. It is read-only once a Relay has been created from it.
type Config struct {
	// Address is the interface to bind. Empty means all interfaces.
	Address string `toml:"address"`

	// Port is the plain listener port. 0 picks an ephemeral port.
	Port int `toml:"port"`

	// TLS opts into the encrypted listener
	TLS bool `toml:"tls"`

	// ForceTLS disables the plain listener and enables the encrypted one
	ForceTLS bool `toml:"force_tls"`

	// TLSPort is the encrypted listener port. When 0 it is Port if the plain
	// listener is disabled, and Port+1 otherwise.
	TLSPort int `toml:"tls_port"`

	// CertFile is the certificate chain (PEM) for the encrypted listener
	CertFile string `toml:"cert_file"`

	// KeyFile is the private key (PEM) for the encrypted listener
	KeyFile string `toml:"key_file"`

	// WatchCerts reloads CertFile/KeyFile when they change on disk
	WatchCerts bool `toml:"watch_certs"`

	// ACMEHosts obtains certificates from an ACME CA for these hosts instead of
	// reading CertFile/KeyFile
	ACMEHosts []string `toml:"acme_hosts"`

	// ACMECacheDir holds ACME account keys and certificates
	ACMECacheDir string `toml:"acme_cache_dir"`

	// PlainFailure and TLSFailure attach a failure policy to each listener
	PlainFailure FailurePolicy `toml:"plain_failure"`
	TLSFailure   FailurePolicy `toml:"tls_failure"`

	// MaxPending bounds the outbound queue with a drop-oldest policy. 0 means unbounded.
	MaxPending int `toml:"max_pending"`

	// PollInterval is the fallback period at which an idle outbound flow rechecks
	// the queue in addition to enqueue notifications. 0 disables polling.
	PollInterval time.Duration `toml:"poll_interval"`

	// IdleTimeout closes a session when nothing (including pongs) has been
	// received for this long. 0 disables it.
	IdleTimeout time.Duration `toml:"idle_timeout"`

	// PingInterval sends websocket pings at this period. 0 disables them.
	PingInterval time.Duration `toml:"ping_interval"`

	// WriteTimeout bounds each frame write
	WriteTimeout time.Duration `toml:"write_timeout"`

	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// DefaultConfig returns the defaults used when a value is not configured
func DefaultConfig() *Config {
	return &Config{
		Port:         5000,
		TLS:          true,
		CertFile:     "SSL/fullchain.pem",
		KeyFile:      "SSL/privkey.pem",
		ACMECacheDir: "acme-cache",
		PlainFailure: FailureFatal,
		TLSFailure:   FailureLog,
		PollInterval: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		LogLevel:     "info",
		LogFormat:    LogFormatText,
	}
}

// LoadConfig reads a TOML config file on top of DefaultConfig and validates the result
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config parse failed (%s): unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return c, nil
}

// Validate checks the config for values that can never work. Missing certificate
// material is not an error here; it fails the encrypted listener at startup.
func (c *Config) Validate() error {
	for _, p := range []int{c.Port, c.TLSPort} {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, p)
		}
	}
	for _, fp := range []FailurePolicy{c.PlainFailure, c.TLSFailure} {
		switch fp {
		case FailureFatal, FailureLog:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidFailurePolicy, fp)
		}
	}
	for _, d := range []time.Duration{c.PollInterval, c.IdleTimeout, c.PingInterval, c.WriteTimeout} {
		if d < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidDuration, d)
		}
	}
	if StringToLogLevel(c.LogLevel) == LogLevelUnknown {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidLogging, c.LogLevel)
	}
	switch c.LogFormat {
	case "", LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidLogging, c.LogFormat)
	}
	return nil
}

// PlainEnabled returns true if the plain listener should be started
func (c *Config) PlainEnabled() bool {
	return !c.ForceTLS
}

// TLSEnabled returns true if the encrypted listener should be started
func (c *Config) TLSEnabled() bool {
	return c.TLS || c.ForceTLS
}

// PlainAddr returns the bind address of the plain listener
func (c *Config) PlainAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// TLSAddr returns the bind address of the encrypted listener
func (c *Config) TLSAddr() string {
	port := c.TLSPort
	if port == 0 && c.Port != 0 {
		port = c.Port
		if c.PlainEnabled() {
			port++
		}
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// FailurePolicyFor returns the configured failure policy of a transport mode
func (c *Config) FailurePolicyFor(mode TransportMode) FailurePolicy {
	if mode == TransportTLS {
		return c.TLSFailure
	}
	return c.PlainFailure
}

// Level returns the configured log level, overridden by $SIMRELAY_LOG_LEVEL
func (c *Config) Level() LogLevel {
	lvl := StringToLogLevel(c.LogLevel)
	if lvl == LogLevelUnknown {
		lvl = LogLevelInfo
	}
	return LogLevelFromEnv(lvl)
}
