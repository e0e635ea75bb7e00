package main

import (
	"os"

	"github.com/atlas-desktop/simulation-engine/cmd/simctl/commands"
)

// main is the entry point of the simulation CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
