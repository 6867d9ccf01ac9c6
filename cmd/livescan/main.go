// Command livescan runs the scan console, the API server and their helper
// commands.
package main

import (
	"github.com/anstrom/livescan/cmd/cli"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
