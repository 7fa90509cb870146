package simshare

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/acme/autocert"
)

// TransportMode identifies how a session's connection reached the relay
type TransportMode string

const (
	// TransportPlain is an unencrypted websocket listener
	TransportPlain TransportMode = "plain"

	// TransportTLS is an encrypted (wss) websocket listener
	TransportTLS TransportMode = "tls"

	// TransportLoop is an in-process connection created by Relay.DialLoop
	TransportLoop TransportMode = "loop"
)

// ListenerResult reports the outcome of one listener startup attempt
type ListenerResult struct {
	Mode   TransportMode
	Addr   string
	Err    error
	Policy FailurePolicy
}

// Started returns true if the listener is accepting connections
func (r ListenerResult) Started() bool {
	return r.Err == nil
}

func (r ListenerResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s listener on %s failed (%s): %s", r.Mode, r.Addr, r.Policy, r.Err)
	}
	return fmt.Sprintf("%s listener on %s", r.Mode, r.Addr)
}

// Listener is a running websocket listener of one transport mode. Each listener
// runs its own accept loop and feeds the relay's session acceptance path.
type Listener struct {
	*HTTPServer
	Mode TransportMode
}

// listenFunc binds a listener for one mode. It is replaceable in tests.
type listenFunc func(ctx context.Context) (net.Listener, error)

// startListener makes one independent startup attempt. It never panics and never
// affects other attempts; the caller applies the failure policy.
func (s *Relay) startListener(ctx context.Context, mode TransportMode, addr string, listen listenFunc) (*Listener, ListenerResult) {
	result := ListenerResult{Mode: mode, Addr: addr, Policy: s.config.FailurePolicyFor(mode)}
	l, err := listen(ctx)
	if err != nil {
		result.Err = err
		return nil, result
	}
	result.Addr = l.Addr().String()
	hs := NewHTTPServer(s.Logger.Fork("%s %s", mode, result.Addr))
	if err := hs.Serve(ctx, l, s.httpHandler(ctx, mode)); err != nil {
		l.Close()
		result.Err = err
		return nil, result
	}
	return &Listener{HTTPServer: hs, Mode: mode}, result
}

// bootstrap starts the configured listeners independently. It returns an error only
// if a listener whose policy is FailureFatal failed.
func (s *Relay) bootstrap(ctx context.Context) ([]ListenerResult, error) {
	var results []ListenerResult
	var fatal error

	attempt := func(mode TransportMode, addr string, listen listenFunc) {
		l, result := s.startListener(ctx, mode, addr, listen)
		results = append(results, result)
		if l != nil {
			s.AddShutdownChild(l)
			s.listenersLock.Lock()
			s.listeners = append(s.listeners, l)
			s.listenersLock.Unlock()
			s.ILogf("%s up", result)
			return
		}
		if result.Policy == FailureFatal {
			s.ELogf("%s", result)
			if fatal == nil {
				fatal = s.Errorf("%s", result)
			}
			return
		}
		s.WLogf("%s; continuing without it", result)
	}

	if s.config.PlainEnabled() {
		addr := s.config.PlainAddr()
		attempt(TransportPlain, addr, s.listenPlain(addr))
	}
	if s.config.TLSEnabled() {
		addr := s.config.TLSAddr()
		attempt(TransportTLS, addr, s.listenTLS(addr))
	}

	if fatal == nil && len(s.Listeners()) == 0 {
		s.WLogf("No network listener is accepting connections")
	}
	return results, fatal
}

func (s *Relay) listenPlain(addr string) listenFunc {
	if s.listenOverride != nil {
		if f := s.listenOverride(TransportPlain, addr); f != nil {
			return f
		}
	}
	return func(ctx context.Context) (net.Listener, error) {
		var lc net.ListenConfig
		return lc.Listen(ctx, "tcp", addr)
	}
}

func (s *Relay) listenTLS(addr string) listenFunc {
	if s.listenOverride != nil {
		if f := s.listenOverride(TransportTLS, addr); f != nil {
			return f
		}
	}
	return func(ctx context.Context) (net.Listener, error) {
		// bind first so a busy port leaves no certificate watcher behind
		var lc net.ListenConfig
		l, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		tlsConfig, err := s.serverTLSConfig()
		if err != nil {
			l.Close()
			return nil, err
		}
		return tls.NewListener(l, tlsConfig), nil
	}
}

// serverTLSConfig builds the encrypted listener's tls.Config from either ACME or
// certificate files. Certificate material is only read here, at listener startup.
func (s *Relay) serverTLSConfig() (*tls.Config, error) {
	c := s.config
	if len(c.ACMEHosts) > 0 {
		if err := os.MkdirAll(c.ACMECacheDir, 0o700); err != nil {
			return nil, fmt.Errorf("Unable to create ACME cache dir: %s", err)
		}
		m := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(c.ACMEHosts...),
			Cache:      autocert.DirCache(c.ACMECacheDir),
		}
		s.ILogf("Using ACME certificates for %s", strings.Join(c.ACMEHosts, ", "))
		return m.TLSConfig(), nil
	}
	if strings.TrimSpace(c.CertFile) == "" {
		return nil, ErrCertFileRequired
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		return nil, ErrKeyFileRequired
	}
	reloader, err := NewCertReloader(s.Logger, c.CertFile, c.KeyFile)
	if err != nil {
		return nil, err
	}
	s.AddShutdownChild(reloader)
	s.listenersLock.Lock()
	s.certReloader = reloader
	s.listenersLock.Unlock()
	if c.WatchCerts {
		if err := reloader.Watch(); err != nil {
			s.WLogf("Certificate hot reload disabled: %s", err)
		}
	}
	return reloader.TLSConfig(), nil
}

// loopListener is a net.Listener fed by Relay.DialLoop with one end of a socketpair
type loopListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

type loopAddr struct{}

func (loopAddr) Network() string { return string(TransportLoop) }
func (loopAddr) String() string  { return "simrelay.loop" }

func newLoopListener() *loopListener {
	return &loopListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

func (l *loopListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *loopListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *loopListener) Addr() net.Addr {
	return loopAddr{}
}

// loopConn reports loop addresses in place of the socketpair's unnamed ones
type loopConn struct {
	net.Conn
}

func (loopConn) LocalAddr() net.Addr  { return loopAddr{} }
func (loopConn) RemoteAddr() net.Addr { return loopAddr{} }

// push hands a connection to the accept loop
func (l *loopListener) push(ctx context.Context, c net.Conn) error {
	select {
	case l.conns <- loopConn{c}:
		return nil
	case <-l.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ net.Listener = (*loopListener)(nil)
