// Command cflookup mirrors CurseForge metadata and serves lookups.
package main

import (
	"os"

	"github.com/CurseForgeCommunity/CFLookup/internal/cmd"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}
