package simshare

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/sammck-go/simrelay/pkg/simwire"
)

func TestClientReceivesUntilSentinelAndSends(t *testing.T) {
	h := NewChannelEventHandler(1)
	r := startRelay(t, testConfig(), h)

	var lock sync.Mutex
	var received []interface{}
	client, err := NewClient(&ClientConfig{
		Server:        r.Listener(TransportPlain).Addr().String(),
		Subprotocol:   simwire.SubprotocolProtobuf,
		MaxRetryCount: 0,
		LogLevel:      LogLevelError,
	}, func(v interface{}) {
		lock.Lock()
		received = append(received, v)
		lock.Unlock()
	})
	if err != nil {
		t.Fatalf("NewClient failed: %s", err)
	}
	if err := client.Send(simwire.Record{"early": true}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send before connect returned %v; expected ErrNotConnected", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Start failed: %s", err)
	}
	<-client.Connected()
	if err := client.Send(simwire.Record{"ButtonEvent": "start"}); err != nil {
		t.Fatalf("Send failed: %s", err)
	}
	if rec := receiveAction(t, h); rec["ButtonEvent"] != "start" {
		t.Errorf("relay handler received %v", rec)
	}

	r.Queue().Enqueue(simwire.Record{"step": 1})
	r.Queue().Enqueue(simwire.Done)
	if err := client.WaitShutdown(); err != nil {
		t.Fatalf("client ended with %s", err)
	}
	lock.Lock()
	defer lock.Unlock()
	if len(received) != 2 || !simwire.IsTerminal(received[1]) {
		t.Errorf("client received %v", received)
	}
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %s", err)
	}
	addr := l.Addr().String()
	l.Close()

	client, err := NewClient(&ClientConfig{
		Server:        "http://" + addr,
		MaxRetryCount: 0,
		LogLevel:      LogLevelError,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %s", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := client.Run(ctx); err == nil {
		t.Errorf("Run succeeded against a closed port")
	}
}
