// Package main is the entry point for the mailrelay CLI.
package main

import (
	"fmt"
	"os"

	"github.com/shineum/mailrelay/cmd/mailrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
