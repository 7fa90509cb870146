package main

import (
	"os"

	"github.com/sammck-go/simrelay/cmd/simrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
