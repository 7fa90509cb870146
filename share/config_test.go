package simshare

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simrelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %s", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
address = "127.0.0.1"
port = 9000
force_tls = true
cert_file = "/etc/simrelay/cert.pem"
key_file = "/etc/simrelay/key.pem"
tls_failure = "fatal"
max_pending = 512
poll_interval = "25ms"
idle_timeout = "1m"
log_format = "json"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %s", err)
	}
	if cfg.Port != 9000 || !cfg.ForceTLS || cfg.MaxPending != 512 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.PollInterval != 25*time.Millisecond || cfg.IdleTimeout != time.Minute {
		t.Errorf("durations: poll %s idle %s", cfg.PollInterval, cfg.IdleTimeout)
	}
	if cfg.FailurePolicyFor(TransportTLS) != FailureFatal {
		t.Errorf("tls failure policy %s; expected fatal", cfg.FailurePolicyFor(TransportTLS))
	}
	// defaults survive for keys not in the file
	if cfg.FailurePolicyFor(TransportPlain) != FailureFatal || cfg.WriteTimeout != 10*time.Second {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.PlainEnabled() || !cfg.TLSEnabled() {
		t.Errorf("force_tls should disable plain and enable tls")
	}
	if addr := cfg.TLSAddr(); addr != "127.0.0.1:9000" {
		t.Errorf("TLSAddr() = %s; expected the plain port when plain is disabled", addr)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, "port = 5000\nuse_ssl = true\n")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "use_ssl") {
		t.Errorf("LoadConfig returned %v; expected an unknown key error naming use_ssl", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		expect error
	}{
		{"port", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"policy", func(c *Config) { c.TLSFailure = "ignore" }, ErrInvalidFailurePolicy},
		{"duration", func(c *Config) { c.PollInterval = -time.Second }, ErrInvalidDuration},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, ErrInvalidLogging},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, ErrInvalidLogging},
	}
	for _, test := range tests {
		c := DefaultConfig()
		test.mutate(c)
		if err := c.Validate(); !errors.Is(err, test.expect) {
			t.Errorf("%s: Validate() = %v; expected %v", test.name, err, test.expect)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %s", err)
	}
}

func TestTLSAddrDerivation(t *testing.T) {
	c := DefaultConfig()
	c.Port = 5000
	if addr := c.TLSAddr(); addr != ":5001" {
		t.Errorf("TLSAddr() = %s; expected :5001 alongside plain", addr)
	}
	c.TLSPort = 8443
	if addr := c.TLSAddr(); addr != ":8443" {
		t.Errorf("TLSAddr() = %s; expected the explicit tls_port", addr)
	}
}
