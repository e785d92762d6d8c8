package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/depclean"
	"github.com/fcanata00/newpkg/internal/lockfile"
	"github.com/fcanata00/newpkg/internal/remove"
)

var depcleanFlags struct {
	Auto        bool
	Interactive bool
	DryRun      bool
	Force       bool
	Verify      bool
	PurgeCache  bool
	AutoCommit  bool
}

var depcleanCmd = &cobra.Command{
	Use:   "depclean",
	Short: "Find and remove orphaned packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}

		mode := depclean.ModeDryRun
		switch {
		case depcleanFlags.Auto:
			mode = depclean.ModeAuto
		case depcleanFlags.Interactive:
			mode = depclean.ModeInteractive
		}

		var summary depclean.Summary
		err = lockfile.With(app.lockPath(), func() error {
			graph, serr := app.syncGraph()
			if serr != nil {
				return serr
			}
			removeDrv, derr := remove.New(app.store, graph, app.graphPath, app.hooks, app.cfg.ProtectedSetPath)
			if derr != nil {
				return derr
			}
			drv, derr := depclean.New(app.store, graph, app.graphPath, removeDrv, app.cfg.ProtectedSetPath)
			if derr != nil {
				return derr
			}

			summary, serr = drv.Run(depclean.Options{
				Mode:            mode,
				Force:           depcleanFlags.Force,
				Confirm:         confirmOnStdin,
				Verify:          depcleanFlags.Verify,
				PurgeCache:      depcleanFlags.PurgeCache,
				PackageCacheDir: app.cfg.CachePackagesDir,
				SourceCacheDir:  app.cfg.CacheSourcesDir,
				AutoCommit:      app.cfg.AutoCommit && depcleanFlags.AutoCommit,
				PortsDir:        app.cfg.PortsDir,
			})
			return serr
		})
		if err != nil {
			return err
		}

		emitSummary("depclean", summary.Removed, summary.Skipped, summary.Failed)
		if code := summary.ExitCode(); code != 0 {
			return exitErrorf(code, "depclean reported %d failure(s)", len(summary.Failed))
		}
		return nil
	},
}

func confirmOnStdin(name string) bool {
	fmt.Printf("remove orphan %s? [y/N] ", name)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y"
}

func init() {
	depcleanCmd.Flags().BoolVar(&depcleanFlags.Auto, "auto", false, "remove every orphan without confirmation")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.Interactive, "interactive", false, "confirm each orphan before removing it")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.DryRun, "dry-run", false, "report orphans without removing anything (default)")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.Force, "force", false, "remove an orphan even if it has since gained reverse-dependencies")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.Verify, "verify", false, "verify manifest integrity before removing a candidate")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.PurgeCache, "purge-cache", false, "also clear the source/package cache of every removed candidate")
	depcleanCmd.Flags().BoolVar(&depcleanFlags.AutoCommit, "auto-commit", false, "commit the ports tree after a successful run")
}
