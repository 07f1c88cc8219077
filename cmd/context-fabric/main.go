// Package main provides the entry point for the context-fabric CLI.
package main

import (
	"os"

	"github.com/contextfabric/context-fabric/cmd/context-fabric/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
