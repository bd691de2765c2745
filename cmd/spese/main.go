package main

import (
	"fmt"
	"os"

	"spesesync/internal/cli"
)

func main() {
	// Load .env file for local development
	cli.LoadEnvFile()

	if err := cli.NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
