// Package main is the entry point for the framecast application.
package main

import (
	"os"

	"github.com/jmylchreest/framecast/cmd/framecast/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
