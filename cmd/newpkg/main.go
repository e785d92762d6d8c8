// Command newpkg is the source-based package manager CLI: install,
// remove, upgrade, and depclean drivers over a local ports tree, plus a
// db subcommand group for direct Manifest Store maintenance.
package main

import (
	"os"

	"github.com/fcanata00/newpkg/cmd/newpkg/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
