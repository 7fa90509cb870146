package commands

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sammck-go/simrelay/pkg/outq"
	"github.com/sammck-go/simrelay/pkg/simwire"
	simshare "github.com/sammck-go/simrelay/share"
)

// serve: run a relay. The simulation writes one JSON message per line to our
// stdin and reads operator events, one JSON record per line, from our stdout.
func serveCmd() *cobra.Command {
	var (
		address    string
		port       int
		tlsEnabled bool
		forceTLS   bool
		tlsPort    int
		certFile   string
		keyFile    string
		watchCerts bool
		acmeHosts  []string
		maxPending int
		noStdin    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay, fed by JSON lines on stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Address = address
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("tls") {
				cfg.TLS = tlsEnabled
			}
			if flags.Changed("force-tls") {
				cfg.ForceTLS = forceTLS
			}
			if flags.Changed("tls-port") {
				cfg.TLSPort = tlsPort
			}
			if flags.Changed("cert") {
				cfg.CertFile = certFile
			}
			if flags.Changed("key") {
				cfg.KeyFile = keyFile
			}
			if flags.Changed("watch-certs") {
				cfg.WatchCerts = watchCerts
			}
			if flags.Changed("acme-host") {
				cfg.ACMEHosts = acmeHosts
			}
			if flags.Changed("max-pending") {
				cfg.MaxPending = maxPending
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			queue := outq.New(outq.WithMaxPending(cfg.MaxPending))
			relay, err := simshare.NewRelay(cfg, queue, simshare.NewJSONLinesEventHandler(os.Stdout))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !noStdin {
				go feedQueue(relay, queue)
			}
			return relay.Run(ctx)
		},
	}
	def := simshare.DefaultConfig()
	cmd.Flags().StringVar(&address, "addr", def.Address, "interface to bind (default all)")
	cmd.Flags().IntVarP(&port, "port", "p", def.Port, "plain listener port")
	cmd.Flags().BoolVar(&tlsEnabled, "tls", def.TLS, "also start the encrypted listener")
	cmd.Flags().BoolVar(&forceTLS, "force-tls", def.ForceTLS, "start only the encrypted listener")
	cmd.Flags().IntVar(&tlsPort, "tls-port", def.TLSPort, "encrypted listener port (default port+1, or port with --force-tls)")
	cmd.Flags().StringVar(&certFile, "cert", def.CertFile, "certificate chain (PEM)")
	cmd.Flags().StringVar(&keyFile, "key", def.KeyFile, "private key (PEM)")
	cmd.Flags().BoolVar(&watchCerts, "watch-certs", def.WatchCerts, "reload the certificate when the files change")
	cmd.Flags().StringSliceVar(&acmeHosts, "acme-host", nil, "obtain certificates from Let's Encrypt for these hosts")
	cmd.Flags().IntVar(&maxPending, "max-pending", def.MaxPending, "bound the outbound queue, dropping the oldest (0 = unbounded)")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "do not read outbound messages from stdin")
	return cmd
}

// feedQueue enqueues each stdin line. Malformed lines are reported and skipped.
func feedQueue(relay *simshare.Relay, queue *outq.Queue) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		msg, err := simwire.ParseMessageLine(line)
		if err != nil {
			relay.WLogf("stdin line %d skipped: %s", lineNo, err)
			continue
		}
		queue.Enqueue(msg)
	}
	if err := scanner.Err(); err != nil {
		relay.WLogf("stdin read failed: %s", err)
		return
	}
	relay.DLogf("stdin closed after %d lines", lineNo)
}
