package main

import (
	"fmt"
	"os"

	"pipesync/internal/cli"
)

func main() {
	if err := cli.NewSeedCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
