package main

import (
	"fmt"
	"os"

	"phobos.org.uk/xbridge/internal/cli"
)

var version = "dev"

func main() {
	rootCmd := cli.NewRootCommand(version)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
