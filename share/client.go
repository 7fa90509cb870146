package simshare

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

// ErrNotConnected is returned by Client.Send when no connection is up
var ErrNotConnected = errors.New("client: not connected")

// ClientConfig represents an operator client configuration
type ClientConfig struct {
	// Server is the relay URL; http(s) schemes are mapped to ws(s)
	Server string

	// Subprotocol selects the codec; empty selects JSON
	Subprotocol string

	// Fingerprint, if set, pins the relay's certificate by (a prefix of) its
	// SHA-256 fingerprint instead of verifying it against the system roots
	Fingerprint string

	// Insecure skips certificate verification entirely
	Insecure bool

	// MaxRetryCount is the number of reconnect attempts before giving up; a
	// negative value retries forever
	MaxRetryCount    int
	MaxRetryInterval time.Duration

	HostHeader string
	LogLevel   LogLevel
}

// Client is an operator endpoint: it connects to a relay, receives the simulation's
// outbound stream and sends control events. It reconnects with backoff until the
// terminal sentinel is received or the retry budget is spent.
type Client struct {
	ShutdownHelper
	config    *ClientConfig
	server    string
	codec     simwire.Codec
	onMessage func(v interface{})

	connLock  sync.Mutex
	wsConn    *websocket.Conn
	connected chan struct{}
}

// NewClient creates a new client. onMessage is called, in arrival order, for every
// decoded message the relay sends, including the final terminal sentinel.
func NewClient(config *ClientConfig, onMessage func(v interface{})) (*Client, error) {
	logLevel := config.LogLevel
	if logLevel == LogLevelUnknown {
		logLevel = LogLevelInfo
	}
	logger := NewLogger("client", logLevel)

	server := config.Server
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	if config.MaxRetryInterval < time.Second {
		config.MaxRetryInterval = 5 * time.Minute
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	//apply default port
	if !regexp.MustCompile(`:\d+$`).MatchString(u.Host) {
		if u.Scheme == "https" || u.Scheme == "wss" {
			u.Host = u.Host + ":443"
		} else {
			u.Host = u.Host + ":80"
		}
	}
	//swap to websockets scheme
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	codec, err := simwire.CodecFor(config.Subprotocol)
	if err != nil {
		return nil, fmt.Errorf("%s: %s", logger.Prefix(), err)
	}
	if onMessage == nil {
		onMessage = func(interface{}) {}
	}
	c := &Client{
		config:    config,
		server:    u.String(),
		codec:     codec,
		onMessage: onMessage,
		connected: make(chan struct{}),
	}
	c.InitShutdownHelper(logger, c)
	return c, nil
}

// Run connects and blocks until the client is done
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.WaitShutdown()
}

// Start starts the connection loop and does not block
func (c *Client) Start(ctx context.Context) error {
	return c.DoOnceActivate(
		func() error {
			c.ShutdownOnContext(ctx)
			done := make(chan struct{})
			c.AddShutdownChildChan(done)
			go func() {
				defer close(done)
				c.StartShutdown(c.connectionLoop(ctx))
			}()
			return nil
		},
		true,
	)
}

// Connected returns a chan that is closed once the first connection is up
func (c *Client) Connected() <-chan struct{} {
	return c.connected
}

// Send writes one record to the relay on the current connection
func (c *Client) Send(rec simwire.Record) error {
	data, err := c.codec.Encode(rec)
	if err != nil {
		return err
	}
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.wsConn == nil {
		return ErrNotConnected
	}
	return c.wsConn.WriteMessage(c.codec.FrameType(), data)
}

// HandleOnceShutdown closes the current connection, which ends the connection loop
func (c *Client) HandleOnceShutdown(completionErr error) error {
	c.connLock.Lock()
	wsConn := c.wsConn
	c.connLock.Unlock()
	if wsConn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		wsConn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		wsConn.Close()
	}
	return completionErr
}

func (c *Client) connectionLoop(ctx context.Context) error {
	var connerr error
	b := &backoff.Backoff{Max: c.config.MaxRetryInterval}
	first := true
	for !c.IsStartedShutdown() {
		if connerr != nil {
			attempt := int(b.Attempt())
			maxAttempt := c.config.MaxRetryCount
			d := b.Duration()
			//show error and attempt counts
			msg := fmt.Sprintf("Connection error: %s", connerr)
			if attempt > 0 {
				msg += fmt.Sprintf(" (Attempt: %d", attempt)
				if maxAttempt > 0 {
					msg += fmt.Sprintf("/%d", maxAttempt)
				}
				msg += ")"
			}
			c.DLogf(msg)
			//give up?
			if maxAttempt >= 0 && attempt >= maxAttempt {
				return connerr
			}
			c.ILogf("Retrying in %s...", d)
			select {
			case <-time.After(d):
			case <-c.ShutdownStartedChan():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		wsConn, err := c.dial(ctx)
		if err != nil {
			connerr = err
			continue
		}
		b.Reset()
		c.ILogf("Connected to %s (%s)", c.server, c.codec.Name())
		if first {
			first = false
			close(c.connected)
		}
		finished, err := c.readLoop(wsConn)
		c.connLock.Lock()
		c.wsConn = nil
		c.connLock.Unlock()
		wsConn.Close()
		if finished {
			c.ILogf("Simulation finished")
			return nil
		}
		if c.IsStartedShutdown() {
			return nil
		}
		c.ILogf("Disconnected")
		connerr = err
		if connerr == nil {
			connerr = c.Errorf("Relay closed the connection")
		}
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	d := websocket.Dialer{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 45 * time.Second,
		Subprotocols:     []string{c.codec.Name()},
		TLSClientConfig:  c.tlsConfig(),
	}
	wsHeaders := http.Header{}
	if c.config.HostHeader != "" {
		wsHeaders = http.Header{
			"Host": {c.config.HostHeader},
		}
	}
	wsConn, _, err := d.DialContext(ctx, c.server, wsHeaders)
	if err != nil {
		return nil, err
	}
	c.connLock.Lock()
	c.wsConn = wsConn
	c.connLock.Unlock()
	if c.IsStartedShutdown() {
		wsConn.Close()
		return nil, c.Errorf("Shut down while connecting")
	}
	return wsConn, nil
}

// readLoop delivers messages until the connection fails or the terminal sentinel
// arrives. Returns true for the latter.
func (c *Client) readLoop(wsConn *websocket.Conn) (bool, error) {
	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return false, nil
			}
			return false, err
		}
		v, err := c.codec.DecodeValue(data)
		if err != nil {
			c.WLogf("Dropping malformed frame: %s", err)
			continue
		}
		c.onMessage(v)
		if simwire.IsTerminal(v) {
			return true, nil
		}
	}
}

func (c *Client) tlsConfig() *tls.Config {
	expect := c.config.Fingerprint
	if expect == "" && !c.config.Insecure {
		return nil
	}
	cfg := &tls.Config{InsecureSkipVerify: true}
	if expect != "" {
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return c.verifyServer(rawCerts)
		}
	}
	return cfg
}

func (c *Client) verifyServer(rawCerts [][]byte) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("No server certificate")
	}
	expect := c.config.Fingerprint
	got := FingerprintCert(rawCerts[0])
	if !strings.HasPrefix(got, expect) {
		return fmt.Errorf("Invalid fingerprint (%s)", got)
	}
	c.DLogf("Fingerprint %s", got)
	return nil
}
