package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/depclean"
	"github.com/fcanata00/newpkg/internal/lockfile"
	"github.com/fcanata00/newpkg/internal/remove"
)

var removeFlags struct {
	Auto        bool
	Force       bool
	Purge       bool
	DryRun      bool
	Resume      bool
	NoDepclean  bool
	NoSync      bool
}

var removeCmd = &cobra.Command{
	Use:   "remove <pkg>...",
	Short: "Uninstall one or more packages",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}

		var completed, skipped, failed []string
		err = lockfile.With(app.lockPath(), func() error {
			graph, serr := app.syncGraph()
			if serr != nil {
				return serr
			}
			drv, derr := remove.New(app.store, graph, app.graphPath, app.hooks, app.cfg.ProtectedSetPath)
			if derr != nil {
				return derr
			}

			if removeFlags.DryRun {
				for _, q := range args {
					skipped = append(skipped, q)
				}
				return nil
			}

			results := drv.Run(args, remove.Options{Force: removeFlags.Force, Purge: removeFlags.Purge, NoSync: removeFlags.NoSync})
			for _, r := range results {
				switch {
				case r.Err != nil:
					failed = append(failed, r.Query)
				case r.Skipped:
					skipped = append(skipped, r.Query)
				default:
					completed = append(completed, r.Removed...)
				}
			}

			if !removeFlags.NoDepclean {
				depcleanDrv, cerr := depclean.New(app.store, graph, app.graphPath, drv, app.cfg.ProtectedSetPath)
				if cerr != nil {
					return cerr
				}
				if _, cerr := depcleanDrv.Run(depclean.Options{Mode: depclean.ModeAuto}); cerr != nil {
					return cerr
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		emitSummary("remove", completed, skipped, failed)
		if len(failed) > 0 {
			return exitErrorf(2, "remove failed for %d package(s)", len(failed))
		}
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeFlags.Auto, "auto", false, "reserved for parity with depclean's --auto")
	removeCmd.Flags().BoolVar(&removeFlags.Force, "force", false, "override protected-set and reverse-dependency guards")
	removeCmd.Flags().BoolVar(&removeFlags.Purge, "purge", false, "also remove conventional config/state paths")
	removeCmd.Flags().BoolVar(&removeFlags.DryRun, "dry-run", false, "report what would be removed without removing anything")
	removeCmd.Flags().BoolVar(&removeFlags.Resume, "resume", false, "reserved for parity with install/upgrade's --resume")
	removeCmd.Flags().BoolVar(&removeFlags.NoDepclean, "no-depclean", false, "skip the automatic depclean pass after removal")
	removeCmd.Flags().BoolVar(&removeFlags.NoSync, "no-sync", false, "skip the graph-sync collaborator after removal")
}
