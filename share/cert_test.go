package simshare

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "SSL", "fullchain.pem")
	keyFile := filepath.Join(dir, "SSL", "privkey.pem")
	fp, err := WriteSelfSignedCert(certFile, keyFile, []string{"sim.example.com", "10.0.0.7"}, time.Hour)
	if err != nil {
		t.Fatalf("WriteSelfSignedCert failed: %s", err)
	}
	if n := len(strings.Split(fp, ":")); n != 32 {
		t.Errorf("fingerprint %s has %d bytes; expected 32", fp, n)
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadX509KeyPair failed: %s", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate failed: %s", err)
	}
	if err := leaf.VerifyHostname("sim.example.com"); err != nil {
		t.Errorf("dns name missing: %s", err)
	}
	if err := leaf.VerifyHostname("10.0.0.7"); err != nil {
		t.Errorf("ip address missing: %s", err)
	}
	if got := FingerprintCert(pair.Certificate[0]); got != fp {
		t.Errorf("FingerprintCert = %s; expected %s", got, fp)
	}
}

func TestCertReloaderPicksUpNewCertificate(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "fullchain.pem")
	keyFile := filepath.Join(dir, "privkey.pem")
	if _, err := WriteSelfSignedCert(certFile, keyFile, []string{"localhost"}, time.Hour); err != nil {
		t.Fatalf("WriteSelfSignedCert failed: %s", err)
	}
	r, err := NewCertReloader(NewLogger("test", LogLevelError), certFile, keyFile)
	if err != nil {
		t.Fatalf("NewCertReloader failed: %s", err)
	}
	defer r.Close()
	if err := r.Watch(); err != nil {
		t.Fatalf("Watch failed: %s", err)
	}
	first, _ := r.GetCertificate(nil)

	if _, err := WriteSelfSignedCert(certFile, keyFile, []string{"localhost"}, time.Hour); err != nil {
		t.Fatalf("WriteSelfSignedCert failed: %s", err)
	}
	waitFor(t, "certificate reload", func() bool {
		current, _ := r.GetCertificate(nil)
		return !bytes.Equal(current.Certificate[0], first.Certificate[0])
	})
}

func TestCertReloaderRequiresLoadablePair(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCertReloader(NewLogger("test", LogLevelError), filepath.Join(dir, "nope.pem"), filepath.Join(dir, "nope.key"))
	if err == nil {
		t.Fatalf("NewCertReloader succeeded without certificate files")
	}
}
