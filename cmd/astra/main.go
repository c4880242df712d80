// Package main is the entry point for the astra CLI.
package main

import (
	"os"

	"github.com/ayureze/astra/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
