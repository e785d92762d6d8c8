package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/lockfile"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/stagerunner"
)

var installFlags struct {
	Resume   bool
	DryRun   bool
	Parallel int
	Retry    int
	Force    bool
	Stage    string
}

var installCmd = &cobra.Command{
	Use:   "install <pkg>...",
	Short: "Fetch, build, and register one or more packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}

		var failed []string
		var completed []string
		err = lockfile.With(app.lockPath(), func() error {
			graph, serr := app.syncGraph()
			if serr != nil {
				return serr
			}
			installed, serr := app.installedSet()
			if serr != nil {
				return serr
			}

			recipes := map[string]bool{}
			for _, name := range args {
				recipe, lerr := locateRecipe(app.cfg.PortsDir, name)
				if lerr != nil {
					return lerr
				}
				deps := append(append([]string{}, recipe.Depends.Build...), recipe.Depends.Run...)
				graph.AddTarget(recipe.Name, deps, recipe.Provides)
				recipes[recipe.Name] = true
			}

			for name := range recipes {
				order, oerr := graph.Order(name, installed)
				if oerr != nil {
					return oerr
				}
				for _, depName := range order {
					if installed[depName] {
						continue
					}
					recipe, rerr := locateRecipe(app.cfg.PortsDir, depName)
					if rerr != nil {
						return rerr
					}
					if installFlags.Stage != "" && string(recipe.Stage) != installFlags.Stage {
						continue
					}
					opts := stagerunner.Options{
						Resume:   installFlags.Resume,
						DryRun:   installFlags.DryRun,
						Parallel: orInt(installFlags.Parallel, app.cfg.Parallel),
						Retry:    orInt(installFlags.Retry, app.cfg.Retry),
						Force:    installFlags.Force,
						Root:     app.target(),
						LFSRoot:  app.cfg.LFSRoot,
					}
					if _, rerr := app.runner.Run(cmd.Context(), recipe, opts); rerr != nil {
						nplog.Error(nplog.Core, "install %s: %v", depName, rerr)
						failed = append(failed, depName)
						continue
					}
					installed[depName] = true
					completed = append(completed, depName)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		emitSummary("install", completed, nil, failed)
		if len(failed) > 0 {
			return exitErrorf(2, "install failed for: %s", strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	installCmd.Flags().BoolVar(&installFlags.Resume, "resume", false, "resume from the last checkpoint")
	installCmd.Flags().BoolVar(&installFlags.DryRun, "dry-run", false, "report the stages that would run without running them")
	installCmd.Flags().IntVar(&installFlags.Parallel, "parallel", 0, "make job parallelism (defaults to config)")
	installCmd.Flags().IntVar(&installFlags.Retry, "retry", 0, "retries per build/install command (defaults to config)")
	installCmd.Flags().BoolVar(&installFlags.Force, "force", false, "re-fetch sources even when they are cached")
	installCmd.Flags().StringVar(&installFlags.Stage, "stage", "", "restrict to a bootstrap stage (pass1, pass2, normal)")
}
