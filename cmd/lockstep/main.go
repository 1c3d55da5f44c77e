package main

import (
	"os"

	"github.com/argus-labs/lockstep/cmd/lockstep/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
