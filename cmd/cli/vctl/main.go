package main

import (
	"os"

	"github.com/verdant-os/verdantd/cmd/cli/vctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
