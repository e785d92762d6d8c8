package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/nperr"
)

var (
	configPath string
	rootDir    string
	jsonOutput bool
	verbose    bool
)

// RootCmd is the base command, the way mixer/cmd's RootCmd roots its
// persistent flags and child commands.
var RootCmd = &cobra.Command{
	Use:   "newpkg",
	Short: "A source-based package manager for a from-scratch Linux system",
	Long: `newpkg fetches, builds, installs, upgrades, and removes packages
described by metafiles in a ports tree, tracking installed state in a
local manifest database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to newpkg.conf (built-in defaults are used when omitted)")
	RootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "target root for deploy/remove operations (defaults to /)")
	RootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a machine-readable JSON summary instead of text")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")

	RootCmd.AddCommand(installCmd)
	RootCmd.AddCommand(removeCmd)
	RootCmd.AddCommand(upgradeCmd)
	RootCmd.AddCommand(depcleanCmd)
	RootCmd.AddCommand(dbCmd)
}

// exitError carries the exit code §6 assigns to a class of failure,
// alongside the human message cobra prints.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitErrorf(code int, format string, a ...interface{}) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

// exitCodeFor maps an error to the exit code of §6: 1 for usage errors,
// 3 for fatal preconditions (lock held, missing privileges), 4 for data
// corruption, 2 for everything else operational, 0 for nil.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch nperr.KindOf(err) {
	case nperr.Usage:
		return 1
	case nperr.StateConflict:
		return 3
	case nperr.Malformed:
		return 4
	default:
		return 2
	}
}

// Execute runs the command tree and returns the process exit code,
// following §6's exit code table rather than cobra's default 0/1 split.
func Execute() int {
	err := RootCmd.Execute()
	if err == nil {
		return 0
	}
	code := exitCodeFor(err)
	fmt.Fprintf(os.Stderr, "newpkg: %s\n", err)
	return code
}
