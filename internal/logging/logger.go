// Copyright (c) 2026 Certmaster Team
// Certmaster - SSH certificate authority control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package logging provides the package-level application logger.
package logging // import "github.com/dreilach/certmaster/internal/logging"

import (
	"os"

	clog "github.com/charmbracelet/log"
)

// L is the package-level logger, shared by the server and any code that
// wants structured key/value output instead of plain prints.
var L = clog.New(os.Stderr)

// SetDebug enables or disables debug-level output.
func SetDebug(enabled bool) {
	if enabled {
		L.SetLevel(clog.DebugLevel)
	} else {
		L.SetLevel(clog.InfoLevel)
	}
}
