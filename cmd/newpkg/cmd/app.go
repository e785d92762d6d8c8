package cmd

import (
	"os"
	"path/filepath"

	"github.com/fcanata00/newpkg/internal/config"
	"github.com/fcanata00/newpkg/internal/depgraph"
	"github.com/fcanata00/newpkg/internal/fetcher"
	"github.com/fcanata00/newpkg/internal/hooks"
	"github.com/fcanata00/newpkg/internal/manifestdb"
	"github.com/fcanata00/newpkg/internal/metafile"
	"github.com/fcanata00/newpkg/internal/nperr"
	"github.com/fcanata00/newpkg/internal/nplog"
	"github.com/fcanata00/newpkg/internal/snapshot"
	"github.com/fcanata00/newpkg/internal/stagerunner"
)

// appContext wires every component to the loaded configuration, the way
// mixer/cmd's commands each build a *builder.Builder from configFile.
type appContext struct {
	cfg       *config.Config
	store     *manifestdb.Store
	hooks     *hooks.Runner
	fetch     *fetcher.Fetcher
	runner    *stagerunner.Runner
	snaps     *snapshot.Store
	graphPath string
}

func loadApp() (*appContext, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefaults()
	}
	if err != nil {
		return nil, err
	}

	if verbose {
		nplog.SetLogLevel(nplog.LevelDebug)
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err == nil {
		_, _ = nplog.SetOutputFilename(filepath.Join(cfg.LogDir, "core.log"))
	}

	store := manifestdb.New(cfg.DBDir, cfg.DBBackupDir, cfg.DBBackupKeep)
	if err := store.Init(); err != nil {
		return nil, err
	}

	hookRunner := hooks.New(cfg.HooksDir)
	fetch := fetcher.New(cfg.CacheSourcesDir, cfg.Retry)
	runner := stagerunner.New(filepath.Join(cfg.StateDir, "work"), cfg.StateDir, store, fetch, hookRunner)
	snaps := snapshot.New(cfg.SnapshotDir, cfg.CachePackagesDir)

	return &appContext{
		cfg:       cfg,
		store:     store,
		hooks:     hookRunner,
		fetch:     fetch,
		runner:    runner,
		snaps:     snaps,
		graphPath: filepath.Join(cfg.StateDir, "depgraph.json"),
	}, nil
}

func (a *appContext) lockPath() string {
	return filepath.Join(a.cfg.StateDir, "newpkg.lock")
}

func (a *appContext) target() string {
	if rootDir != "" {
		return rootDir
	}
	return "/"
}

func (a *appContext) syncGraph() (*depgraph.Graph, error) {
	return depgraph.Sync(a.store, a.graphPath)
}

func (a *appContext) installedSet() (map[string]bool, error) {
	entries, err := a.store.List(manifestdb.ListOptions{})
	if err != nil {
		return nil, err
	}
	installed := map[string]bool{}
	for _, e := range entries {
		installed[e.Name] = true
	}
	return installed, nil
}

// locateRecipe finds the metafile for name under portsDir, following the
// one-directory-per-package ports tree layout of <ports_dir>/<name>/<name>.yaml
// (or .yml).
func locateRecipe(portsDir, name string) (*metafile.Recipe, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(portsDir, name, name+ext)
		if _, err := os.Stat(path); err == nil {
			return metafile.Load(path)
		}
	}
	return nil, nperr.New(nperr.NotFound, "no metafile found for %q under %s", name, portsDir)
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
