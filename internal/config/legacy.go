package config

import (
	"strconv"
	"strings"

	"github.com/go-ini/ini"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// looksLegacy reports whether filename is a flat "KEY = value" file
// rather than TOML. It looks at the file extension only, not at the
// content: ".conf" legacy files are upgraded, any other name (such as
// ".toml") is read directly.
func looksLegacy(filename string) bool {
	return strings.HasSuffix(filename, ".conf")
}

// upgradeLegacyFile reads an old flat KEY=value config with go-ini and
// fills cfg, the way config.createLegacyConfig/legacyParse convert an
// old builder.conf into the new schema.
func upgradeLegacyFile(filename string, cfg *Config) error {
	f, err := ini.Load(filename)
	if err != nil {
		return nperr.Wrap(nperr.Malformed, err, "parsing legacy config %s", filename)
	}
	sec := f.Section("")

	str := func(key string, dest *string) {
		if sec.HasKey(key) {
			*dest = sec.Key(key).String()
		}
	}
	num := func(key string, dest *int) error {
		if !sec.HasKey(key) {
			return nil
		}
		n, err := strconv.Atoi(sec.Key(key).String())
		if err != nil {
			return nperr.Wrap(nperr.Malformed, err, "legacy config key %s", key)
		}
		*dest = n
		return nil
	}
	boolean := func(key string, dest *bool) error {
		if !sec.HasKey(key) {
			return nil
		}
		b, err := sec.Key(key).Bool()
		if err != nil {
			return nperr.Wrap(nperr.Malformed, err, "legacy config key %s", key)
		}
		*dest = b
		return nil
	}

	str("db_dir", &cfg.DBDir)
	str("db_backup_dir", &cfg.DBBackupDir)
	str("log_dir", &cfg.LogDir)
	str("hooks_dir", &cfg.HooksDir)
	str("snapshot_dir", &cfg.SnapshotDir)
	str("state_dir", &cfg.StateDir)
	str("cache_sources_dir", &cfg.CacheSourcesDir)
	str("cache_packages_dir", &cfg.CachePackagesDir)
	str("ports_dir", &cfg.PortsDir)
	str("lfs_root", &cfg.LFSRoot)
	str("protected_set_path", &cfg.ProtectedSetPath)

	if err := num("parallel", &cfg.Parallel); err != nil {
		return err
	}
	if err := num("retry", &cfg.Retry); err != nil {
		return err
	}
	if err := num("keep_snapshots_days", &cfg.KeepSnapshotsDays); err != nil {
		return err
	}
	if err := num("db_backup_keep", &cfg.DBBackupKeep); err != nil {
		return err
	}
	if err := boolean("auto_commit", &cfg.AutoCommit); err != nil {
		return err
	}
	if err := boolean("clean_after_build", &cfg.CleanAfterBuild); err != nil {
		return err
	}

	return nil
}
