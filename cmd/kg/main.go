// Package main provides the entry point for the kg CLI.
package main

import (
	"os"

	"kgraph/cmd/kg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
