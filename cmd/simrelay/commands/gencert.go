package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	simshare "github.com/sammck-go/simrelay/share"
)

// gencert: write a self-signed pair where the encrypted listener expects it.
func gencertCmd() *cobra.Command {
	var (
		certFile string
		keyFile  string
		hosts    []string
		validFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a self-signed certificate for the encrypted listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := simshare.WriteSelfSignedCert(certFile, keyFile, hosts, validFor)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s and %s\n", certFile, keyFile)
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
	def := simshare.DefaultConfig()
	cmd.Flags().StringVar(&certFile, "cert", def.CertFile, "certificate output path (PEM)")
	cmd.Flags().StringVar(&keyFile, "key", def.KeyFile, "private key output path (PEM)")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "host names and IPs the certificate is valid for")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
	return cmd
}
