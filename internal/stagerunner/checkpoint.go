package stagerunner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// Stage is one step of the §4.D pipeline, in execution order.
type Stage string

// The ordered pipeline stages of §4.D.
const (
	StageDownloaded       Stage = "downloaded"
	StageExtracted        Stage = "extracted"
	StagePatched          Stage = "patched"
	StageBuilt            Stage = "built"
	StageInstalledDestdir Stage = "installed_destdir"
	StagePackaged         Stage = "packaged"
	StageDeployed         Stage = "deployed"
	StageRegistered       Stage = "registered"
)

// Stages is the pipeline in execution order.
var Stages = []Stage{
	StageDownloaded,
	StageExtracted,
	StagePatched,
	StageBuilt,
	StageInstalledDestdir,
	StagePackaged,
	StageDeployed,
	StageRegistered,
}

func stageIndex(s Stage) int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Checkpoint records the last successfully completed stage for one
// package, enabling resume per §4.D ("A re-run with resume=true replays
// from the first incomplete stage").
type Checkpoint struct {
	PackageID string `json:"package_id"`
	Completed Stage  `json:"completed,omitempty"`
}

func checkpointPath(stateDir, packageID string) string {
	return filepath.Join(stateDir, packageID+".state")
}

// LoadCheckpoint reads the checkpoint for packageID, returning a zero
// Checkpoint (no stages completed) if none exists yet.
func LoadCheckpoint(stateDir, packageID string) (*Checkpoint, error) {
	data, err := os.ReadFile(checkpointPath(stateDir, packageID))
	if os.IsNotExist(err) {
		return &Checkpoint{PackageID: packageID}, nil
	}
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading checkpoint for %s", packageID)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing checkpoint for %s", packageID)
	}
	return &c, nil
}

// Save persists c via write-tmp-then-rename, the same atomicity every
// other on-disk mutation in this project uses.
func (c *Checkpoint) Save(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nperr.Wrap(nperr.IOError, err, "creating state dir %s", stateDir)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nperr.Wrap(nperr.IOError, err, "marshaling checkpoint")
	}
	path := checkpointPath(stateDir, c.PackageID)
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

// NextStage returns the first stage after the checkpoint's completed
// stage, i.e. the stage to run next. An empty Completed means start
// from the beginning.
func (c *Checkpoint) NextStage() Stage {
	if c.Completed == "" {
		return Stages[0]
	}
	idx := stageIndex(c.Completed)
	if idx < 0 || idx+1 >= len(Stages) {
		return "" // already fully completed
	}
	return Stages[idx+1]
}

// Remaining returns the stages from (and including) from to the end of
// the pipeline.
func Remaining(from Stage) []Stage {
	idx := stageIndex(from)
	if idx < 0 {
		return nil
	}
	return Stages[idx:]
}
