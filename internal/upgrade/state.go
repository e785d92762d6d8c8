package upgrade

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// readJSONState loads the batch checkpoint at path, returning
// (nil, nil) if it does not exist yet.
func readJSONState(path string) (*batchState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading upgrade state %s", path)
	}
	var s batchState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing upgrade state %s", path)
	}
	return &s, nil
}

// writeJSONState persists the batch checkpoint via write-tmp-then-rename.
func writeJSONState(path string, s *batchState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating state dir")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "marshaling upgrade state")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nperr.Wrap(nperr.IOError, err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nperr.Wrap(nperr.IOError, err, "renaming %s to %s", tmp, path)
	}
	return nil
}
