// Package main is the entry point for the voicebridge server.
//
// Usage:
//
//	voicebridge [flags] <command>
//
// Commands:
//
//	serve      - Run the relay server
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/relaykit/voicebridge/cmd/voicebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
