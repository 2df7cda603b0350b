// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Certmaster.
//
// Usage:
//
//	go run . [flags]
//	./certmaster [flags]
//
// This launches the Certmaster CLI. See --help for options.
package main

import (
	"os"

	log "github.com/charmbracelet/log"

	"github.com/dreilach/certmaster/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Errorf("certmaster: %v", err)
		os.Exit(1)
	}
}
