package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	simshare "github.com/sammck-go/simrelay/share"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the simrelay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(simshare.BuildVersion)
		},
	}
}
