package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sammck-go/simrelay/pkg/simwire"
	simshare "github.com/sammck-go/simrelay/share"
)

// connect: operator client. Received messages go to stdout as JSON lines; each
// stdin line must be a JSON object and is sent as an event.
func connectCmd() *cobra.Command {
	var (
		protobuf         bool
		fingerprint      string
		insecure         bool
		maxRetryCount    int
		maxRetryInterval time.Duration
		hostHeader       string
	)
	cmd := &cobra.Command{
		Use:   "connect URL",
		Short: "Connect to a relay as an operator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := &simshare.ClientConfig{
				Server:           args[0],
				Fingerprint:      fingerprint,
				Insecure:         insecure,
				MaxRetryCount:    maxRetryCount,
				MaxRetryInterval: maxRetryInterval,
				HostHeader:       hostHeader,
				LogLevel:         cliLogLevel(),
			}
			if protobuf {
				config.Subprotocol = simwire.SubprotocolProtobuf
			}
			client, err := simshare.NewClient(config, printMessage)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := client.Start(ctx); err != nil {
				return err
			}
			go sendEvents(client)
			err = client.WaitShutdown()
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&protobuf, "protobuf", false, "use binary protobuf frames instead of JSON")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "pin the relay certificate by SHA-256 fingerprint prefix")
	cmd.Flags().BoolVarP(&insecure, "insecure", "k", false, "skip relay certificate verification")
	cmd.Flags().IntVar(&maxRetryCount, "max-retry-count", -1, "reconnect attempts before giving up (-1 = forever)")
	cmd.Flags().DurationVar(&maxRetryInterval, "max-retry-interval", 5*time.Minute, "longest wait between reconnects")
	cmd.Flags().StringVar(&hostHeader, "hostname", "", "Host header sent to the relay")
	return cmd
}

func printMessage(v interface{}) {
	js, err := simwire.ToCompactJSONString(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unprintable message: %s\n", err)
		return
	}
	fmt.Println(js)
}

func sendEvents(client *simshare.Client) {
	<-client.Connected()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		rec, err := simwire.ParseRecordLine(line)
		if err != nil {
			client.WLogf("Not sent: %s", err)
			continue
		}
		if err := client.Send(rec); err != nil {
			client.WLogf("Send failed: %s", err)
		}
	}
}
