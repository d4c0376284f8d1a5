package main

import (
	// Embedded zone database so requests can name any IANA time zone.
	_ "time/tzdata"

	"github.com/teemow/calagent/cmd"
)

// version will be set by goreleaser during build
var version = "dev"

func main() {
	// Set the version from build-time variable
	cmd.SetVersion(version)

	// Execute the root command
	cmd.Execute()
}
