// Package config loads the environment/config surface enumerated in §6:
// the directory layout and tunables every driver is handed explicitly,
// rather than each driver reading global state on its own.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// Config is the full set of values described in §6's "Environment/config
// surface" table.
type Config struct {
	DBDir             string `toml:"db_dir"`
	DBBackupDir       string `toml:"db_backup_dir"`
	LogDir            string `toml:"log_dir"`
	HooksDir          string `toml:"hooks_dir"`
	SnapshotDir       string `toml:"snapshot_dir"`
	StateDir          string `toml:"state_dir"`
	CacheSourcesDir   string `toml:"cache_sources_dir"`
	CachePackagesDir  string `toml:"cache_packages_dir"`
	PortsDir          string `toml:"ports_dir"`
	LFSRoot           string `toml:"lfs_root"`
	Parallel          int    `toml:"parallel"`
	Retry             int    `toml:"retry"`
	KeepSnapshotsDays int    `toml:"keep_snapshots_days"`
	DBBackupKeep      int    `toml:"db_backup_keep"`
	AutoCommit        bool   `toml:"auto_commit"`
	CleanAfterBuild   bool   `toml:"clean_after_build"`
	ProtectedSetPath  string `toml:"protected_set_path"`

	// filename is the path this config was loaded from or will be saved
	// to. It is not itself a config value.
	filename string
}

// LoadDefaults fills config with sane values rooted at the current
// working directory, the way MixConfig.LoadDefaults roots its paths at
// pwd.
func LoadDefaults() (*Config, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "getting working directory")
	}
	return LoadDefaultsForPath(pwd), nil
}

// LoadDefaultsForPath fills config with sane values rooted at base.
func LoadDefaultsForPath(base string) *Config {
	return &Config{
		DBDir:             filepath.Join(base, "var/lib/newpkg/db"),
		DBBackupDir:       filepath.Join(base, "var/lib/newpkg/db-backup"),
		LogDir:            filepath.Join(base, "var/log/newpkg"),
		HooksDir:          filepath.Join(base, "etc/newpkg/hooks"),
		SnapshotDir:       filepath.Join(base, "var/lib/newpkg/snapshots"),
		StateDir:          filepath.Join(base, "var/lib/newpkg/state"),
		CacheSourcesDir:   filepath.Join(base, "var/cache/newpkg/sources"),
		CachePackagesDir:  filepath.Join(base, "var/cache/newpkg/packages"),
		PortsDir:          filepath.Join(base, "usr/ports"),
		LFSRoot:           "/mnt/lfs",
		Parallel:          1,
		Retry:             3,
		KeepSnapshotsDays: 14,
		DBBackupKeep:      5,
		AutoCommit:        true,
		CleanAfterBuild:   true,
		ProtectedSetPath:  filepath.Join(base, "etc/newpkg/protected.list"),
		filename:          filepath.Join(base, "newpkg.conf"),
	}
}

// Load reads a TOML config file at filename, filling any field absent
// from the file with its default value, then validates and expands
// ${VAR} environment references, the way MixConfig.LoadConfig does in
// sequence (Parse, expandEnv, validate).
func Load(filename string) (*Config, error) {
	base := filepath.Dir(filename)
	cfg := LoadDefaultsForPath(base)
	cfg.filename = filename

	if looksLegacy(filename) {
		if err := upgradeLegacyFile(filename, cfg); err != nil {
			return nil, err
		}
	} else if _, err := toml.DecodeFile(filename, cfg); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing config %s", filename)
	}

	if err := cfg.expandEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back out in TOML form.
func (c *Config) Save() error {
	w, err := os.OpenFile(c.filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "opening config %s for write", c.filename)
	}
	defer func() { _ = w.Close() }()

	enc := toml.NewEncoder(w)
	if err := enc.Encode(c); err != nil {
		return nperr.Wrap(nperr.IOError, err, "encoding config")
	}
	return nil
}

// Filename returns the path this config was loaded from.
func (c *Config) Filename() string {
	return c.filename
}

var envRefRe = regexp.MustCompile(`\$\{?([[:word:]]+)\}?`)

// expandEnv expands ${VAR}/$VAR references in every string field,
// erroring on an undefined variable, mirroring MixConfig.expandEnv.
func (c *Config) expandEnv() error {
	rv := reflect.ValueOf(c).Elem()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		f := rv.Field(i)
		if !f.CanSet() || f.Kind() != reflect.String {
			continue
		}
		_ = rt // tag not needed for expansion
		val := f.String()
		for _, m := range envRefRe.FindAllStringSubmatch(val, -1) {
			if _, ok := os.LookupEnv(m[1]); !ok {
				return nperr.New(nperr.Malformed, "config contains an undefined environment variable: %s", m[1])
			}
		}
		f.SetString(os.ExpandEnv(val))
	}
	return nil
}

// validate checks the required numeric invariants: Parallel must be
// positive and Retry must not be negative, matching the Stage Runner's assumption that both are
// usable directly as a worker-pool bound and a retry count.
func (c *Config) validate() error {
	if c.Parallel < 1 {
		return nperr.New(nperr.Malformed, "config: parallel must be >= 1, got %d", c.Parallel)
	}
	if c.Retry < 0 {
		return nperr.New(nperr.Malformed, "config: retry must be >= 0, got %d", c.Retry)
	}
	if c.DBDir == "" || c.StateDir == "" || c.LFSRoot == "" {
		return nperr.New(nperr.Malformed, "config: db_dir, state_dir and lfs_root are required")
	}
	return nil
}

// SetProperty parses a "field=value" style property name (the config
// struct's toml tag) and sets it, saving the file afterward. Mirrors
// MixConfig.SetProperty's reflect-over-toml-tags approach, simplified
// for this config's single flat section.
func (c *Config) SetProperty(name, value string) error {
	rv := reflect.ValueOf(c).Elem()
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		tag, ok := rt.Field(i).Tag.Lookup("toml")
		if !ok || tag != name {
			continue
		}
		f := rv.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(value)
		case reflect.Int:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nperr.Wrap(nperr.Malformed, err, "property %s expects an integer", name)
			}
			f.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nperr.Wrap(nperr.Malformed, err, "property %s expects a boolean", name)
			}
			f.SetBool(b)
		default:
			return errors.Errorf("property %s has an unsupported type", name)
		}
		return c.Save()
	}
	return nperr.New(nperr.NotFound, "unknown config property: %s", name)
}
