package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/lockfile"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/metafile"
	"github.com/fcanata00/newpkg/internal/stagerunner"
	"github.com/fcanata00/newpkg/internal/upgrade"
)

// validStages are the bootstrap stage values accepted by --stage.
var validStages = map[string]bool{"pass1": true, "pass2": true, "normal": true}

var upgradeFlags struct {
	All      bool
	Resume   bool
	DryRun   bool
	Force    bool
	Auto     bool
	Rollback bool
	NoCommit bool
	Stage    string
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [pkg...]",
	Short: "Move one or more packages to the version currently in the ports tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}

		if upgradeFlags.Stage != "" && !validStages[upgradeFlags.Stage] {
			return exitErrorf(1, "--stage must be one of pass1, pass2, normal, got %q", upgradeFlags.Stage)
		}

		names := args
		if upgradeFlags.All {
			entries, lerr := app.store.List(manifestdb.ListOptions{})
			if lerr != nil {
				return lerr
			}
			names = nil
			for _, e := range entries {
				names = append(names, e.Name)
			}
		}
		if len(names) == 0 {
			return exitErrorf(1, "upgrade requires at least one package name or --all")
		}

		if upgradeFlags.Rollback {
			return runRollback(app, names)
		}

		var completed, skipped, failed []string
		err = lockfile.With(app.lockPath(), func() error {
			graph, serr := app.syncGraph()
			if serr != nil {
				return serr
			}

			loadRecipe := func(name string) (*metafile.Recipe, error) {
				return locateRecipe(app.cfg.PortsDir, name)
			}

			if upgradeFlags.Stage != "" {
				filtered := names[:0]
				for _, n := range names {
					recipe, rerr := loadRecipe(n)
					if rerr != nil {
						return rerr
					}
					if string(recipe.Stage) == upgradeFlags.Stage {
						filtered = append(filtered, n)
					}
				}
				names = filtered
			}
			if len(names) == 0 {
				return exitErrorf(1, "no package matches --stage %q", upgradeFlags.Stage)
			}

			drv := upgrade.New(app.store, graph, app.graphPath, app.runner, app.snaps, app.hooks, loadRecipe, app.cfg.ProtectedSetPath)

			results, rerr := drv.Run(cmd.Context(), app.cfg.StateDir, names, upgrade.Options{
				Force:           upgradeFlags.Force,
				ContinueOnError: true,
				Auto:            upgradeFlags.Auto,
				PortsDir:        app.cfg.PortsDir,
				AutoCommit:      app.cfg.AutoCommit && !upgradeFlags.NoCommit,
				StageOpts: stagerunner.Options{
					Resume:   upgradeFlags.Resume,
					DryRun:   upgradeFlags.DryRun,
					Parallel: app.cfg.Parallel,
					Retry:    app.cfg.Retry,
					Force:    upgradeFlags.Force,
					Root:     app.target(),
					LFSRoot:  app.cfg.LFSRoot,
				},
			})
			if rerr != nil && results == nil {
				return rerr
			}
			for _, r := range results {
				switch {
				case r.Failed:
					failed = append(failed, r.Name)
				case r.Skipped:
					skipped = append(skipped, r.Name)
				default:
					completed = append(completed, r.Name)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		emitSummary("upgrade", completed, skipped, failed)
		if len(failed) > 0 {
			return exitErrorf(2, "upgrade failed for %d package(s)", len(failed))
		}
		return nil
	},
}

// runRollback restores each named package from its most recent
// snapshot instead of upgrading it, per --rollback.
func runRollback(app *appContext, names []string) error {
	var completed, failed []string
	err := lockfile.With(app.lockPath(), func() error {
		for _, name := range names {
			snapdir, lerr := app.snaps.Latest(name)
			if lerr != nil {
				failed = append(failed, name)
				continue
			}
			if rerr := app.snaps.Restore(snapdir, app.target(), app.store); rerr != nil {
				failed = append(failed, name)
				continue
			}
			completed = append(completed, name)
		}
		if len(completed) > 0 {
			if _, serr := app.syncGraph(); serr != nil {
				return serr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	emitSummary("upgrade --rollback", completed, nil, failed)
	if len(failed) > 0 {
		return exitErrorf(2, "rollback failed for %d package(s)", len(failed))
	}
	return nil
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeFlags.All, "all", false, "upgrade every installed package")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.Resume, "resume", false, "resume a previously interrupted batch")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.DryRun, "dry-run", false, "report what would be upgraded without upgrading")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.Force, "force", false, "upgrade even when the version is unchanged")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.Auto, "auto", false, "remove orphaned files without confirmation")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.Rollback, "rollback", false, "restore the named package(s) from their last snapshot instead of upgrading")
	upgradeCmd.Flags().BoolVar(&upgradeFlags.NoCommit, "no-commit", false, "skip the end-of-run ports-tree commit")
	upgradeCmd.Flags().StringVar(&upgradeFlags.Stage, "stage", "", "restrict to a bootstrap stage (pass1, pass2, normal)")
}
