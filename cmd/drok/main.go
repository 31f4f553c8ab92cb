// Package main is the entry point for the drok CLI.
package main

import (
	"os"

	"github.com/drok-bot/drok/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
