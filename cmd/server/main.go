package main

import (
	"os"

	"github.com/rl1809/carbon-exchange/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
