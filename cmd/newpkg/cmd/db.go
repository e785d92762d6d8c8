package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fcanata00/newpkg/internal/manifest"
	"github.com/fcanata00/newpkg/internal/manifestdb"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and maintain the manifest database directly",
}

func printJSONOrLines(v interface{}, lines []string) {
	if jsonOutput {
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			fmt.Println(string(data))
			return
		}
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database directory structure if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		return app.store.Init()
	},
}

var dbAddCmd = &cobra.Command{
	Use:   "add <manifest.json>",
	Short: "Register a manifest file into the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var m manifest.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		return app.store.Add(&m, manifestdb.AddOptions{Replace: dbAddReplace})
	},
}

var dbAddReplace bool

var dbRemoveCmd = &cobra.Command{
	Use:   "remove <query>",
	Short: "Remove a manifest entry from the database without touching installed files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		removed, err := app.store.Remove(args[0], manifestdb.RemoveOptions{Force: dbRemoveForce})
		if err != nil {
			return err
		}
		printJSONOrLines(removed, removed)
		return nil
	},
}

var dbRemoveForce bool

var dbQueryCmd = &cobra.Command{
	Use:   "query <query>",
	Short: "Print the full manifest(s) matching query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		matches, err := app.store.Query(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(matches, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every registered manifest entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		entries, err := app.store.List(manifestdb.ListOptions{Stage: dbListStage})
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, e.Name+"-"+e.Version)
		}
		printJSONOrLines(entries, lines)
		return nil
	},
}

var dbListStage string

var dbRevdepsCmd = &cobra.Command{
	Use:   "revdeps <name>",
	Short: "List installed packages that depend on or provide name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		revdeps, err := app.store.Revdeps(args[0])
		if err != nil {
			return err
		}
		printJSONOrLines(revdeps, revdeps)
		return nil
	},
}

var dbProvidesCmd = &cobra.Command{
	Use:   "provides <path>",
	Short: "List installed packages that own path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		owners, err := app.store.Provides(args[0])
		if err != nil {
			return err
		}
		printJSONOrLines(owners, owners)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup <query>",
	Short: "Snapshot the installed files and manifest for query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		matches, err := app.store.Query(args[0])
		if err != nil {
			return err
		}
		var dirs []string
		for _, m := range matches {
			dir, serr := app.snaps.Create(m)
			if serr != nil {
				return serr
			}
			dirs = append(dirs, dir)
		}
		printJSONOrLines(dirs, dirs)
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore <snapshot-dir>",
	Short: "Restore files and manifest from a snapshot directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		return app.snaps.Restore(args[0], app.target(), app.store)
	},
}

var dbReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild index.json from the manifests present on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		return app.store.Reindex()
	},
}

var dbVerifyFlags struct {
	Repair bool
}

var dbVerifyCmd = &cobra.Command{
	Use:   "verify <query>",
	Short: "Check that query's owned files exist and match their recorded checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		var issues []manifestdb.VerifyIssue
		if dbVerifyFlags.Repair {
			issues, err = app.store.Repair(args[0])
		} else {
			issues, err = app.store.Verify(args[0])
		}
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(issues))
		for _, i := range issues {
			lines = append(lines, i.String())
		}
		printJSONOrLines(issues, lines)
		if len(issues) > 0 {
			return exitErrorf(4, "verify found %d issue(s)", len(issues))
		}
		return nil
	},
}

var dbOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List installed packages with no reverse-dependencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		orphans, err := app.store.Orphans()
		if err != nil {
			return err
		}
		printJSONOrLines(orphans, orphans)
		return nil
	},
}

var dbSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search installed packages by name, description, or origin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		entries, err := app.store.Search(args[0])
		if err != nil {
			return err
		}
		lines := make([]string, 0, len(entries))
		for _, e := range entries {
			lines = append(lines, e.Name+"-"+e.Version)
		}
		printJSONOrLines(entries, lines)
		return nil
	},
}

var dbSizeCmd = &cobra.Command{
	Use:   "size <query>",
	Short: "Sum the on-disk size of query's owned files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		size, err := app.store.Size(args[0])
		if err != nil {
			return err
		}
		fmt.Println(size)
		return nil
	},
}

func init() {
	dbAddCmd.Flags().BoolVar(&dbAddReplace, "replace", false, "replace an existing manifest for the same name-version")
	dbRemoveCmd.Flags().BoolVar(&dbRemoveForce, "force", false, "remove even when query is ambiguous")
	dbListCmd.Flags().StringVar(&dbListStage, "stage", "", "filter by bootstrap stage")
	dbVerifyCmd.Flags().BoolVar(&dbVerifyFlags.Repair, "repair", false, "drop manifest entries for files reported missing")

	dbCmd.AddCommand(dbInitCmd)
	dbCmd.AddCommand(dbAddCmd)
	dbCmd.AddCommand(dbRemoveCmd)
	dbCmd.AddCommand(dbQueryCmd)
	dbCmd.AddCommand(dbListCmd)
	dbCmd.AddCommand(dbRevdepsCmd)
	dbCmd.AddCommand(dbProvidesCmd)
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbRestoreCmd)
	dbCmd.AddCommand(dbReindexCmd)
	dbCmd.AddCommand(dbVerifyCmd)
	dbCmd.AddCommand(dbOrphansCmd)
	dbCmd.AddCommand(dbSearchCmd)
	dbCmd.AddCommand(dbSizeCmd)
}
