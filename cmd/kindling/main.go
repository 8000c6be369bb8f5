// Package main implements the kindling CLI: convert and validate
// StructureDefinitions across FHIR generations.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Build information injected via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFindings) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
