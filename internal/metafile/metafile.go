// Package metafile loads the YAML recipe format of §3/§6: the input
// description of how to fetch, patch, and build exactly one package.
package metafile

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/fcanata00/newpkg/internal/nperr"
)

// Stage enumerates the bootstrap stage a recipe belongs to.
type Stage string

// The valid stage values. StageNormal is the default.
const (
	StageNormal Stage = "normal"
	StagePass1  Stage = "pass1"
	StagePass2  Stage = "pass2"
)

// Commands holds the optional configure/build/install command lists. When
// all three lists are empty, Parse fills each with the conventional
// default described in §4.D; a recipe that sets any of them keeps the
// lists it left empty as they are.
type Commands struct {
	Configure []string `yaml:"configure"`
	Build     []string `yaml:"build"`
	Install   []string `yaml:"install"`
}

// Depends holds the build-time and run-time dependency token lists.
type Depends struct {
	Build []string `yaml:"build"`
	Run   []string `yaml:"run"`
}

// Recipe is the parsed form of a metafile.
type Recipe struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Stage   Stage  `yaml:"stage"`

	Sources []string `yaml:"sources"`
	Patches []string `yaml:"patches"`

	Commands Commands `yaml:"commands"`

	Depends  Depends  `yaml:"depends"`
	Provides []string `yaml:"provides"`

	InstallPrefix string            `yaml:"install_prefix"`
	BuildDir      string            `yaml:"build_dir"`
	Environment   map[string]string `yaml:"environment"`

	Origin string `yaml:"origin"`

	// Path is the filesystem location the recipe was loaded from. It is
	// not part of the YAML document.
	Path string `yaml:"-"`
}

// defaultConfigureCmd and defaultBuildCmd implement the "conventional
// build with a staging destination variable" fallback of §3/§4.D.
var (
	defaultConfigureCmd = []string{"./configure --prefix=" + "/usr"}
	defaultBuildCmd     = []string{"make -j@MAKEJOBS@"}
	defaultInstallCmd   = []string{"make DESTDIR=@DESTDIR@ install"}
)

// Load reads and parses a metafile at path. Unknown top-level keys are
// ignored, per §6.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nperr.Wrap(nperr.IOError, err, "reading metafile %s", path)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, err
	}
	r.Path = path
	return r, nil
}

// Parse parses metafile YAML content.
func Parse(data []byte) (*Recipe, error) {
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, nperr.Wrap(nperr.Malformed, err, "parsing metafile")
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	r.applyDefaults()
	return &r, nil
}

func (r *Recipe) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return nperr.New(nperr.Malformed, "metafile is missing required field: name")
	}
	if strings.TrimSpace(r.Version) == "" {
		return nperr.New(nperr.Malformed, "metafile is missing required field: version")
	}
	switch r.Stage {
	case "", StageNormal, StagePass1, StagePass2:
	default:
		return nperr.New(nperr.Malformed, "metafile %s has invalid stage %q", r.Name, r.Stage)
	}
	return nil
}

func (r *Recipe) applyDefaults() {
	if r.Stage == "" {
		r.Stage = StageNormal
	}
	if r.InstallPrefix == "" {
		r.InstallPrefix = "/usr"
	}
	if len(r.Commands.Configure) == 0 && len(r.Commands.Build) == 0 && len(r.Commands.Install) == 0 {
		r.Commands.Configure = defaultConfigureCmd
		r.Commands.Build = defaultBuildCmd
		r.Commands.Install = defaultInstallCmd
	}
}

// Interpolate substitutes @MAKEJOBS@ and @DESTDIR@ in cmd, per §4.D/§9.
func Interpolate(cmd string, makeJobs int, destdir string) string {
	cmd = strings.ReplaceAll(cmd, "@MAKEJOBS@", strconv.Itoa(makeJobs))
	cmd = strings.ReplaceAll(cmd, "@DESTDIR@", destdir)
	return cmd
}

// InterpolateAll applies Interpolate to every command in cmds.
func InterpolateAll(cmds []string, makeJobs int, destdir string) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = Interpolate(c, makeJobs, destdir)
	}
	return out
}

var errMissingSources = errors.New("metafile declares no sources")

// RequireSources returns errMissingSources if the recipe has no sources,
// used by the Stage Runner to fail fast on an empty recipe before any
// stage runs.
func (r *Recipe) RequireSources() error {
	if len(r.Sources) == 0 {
		return errMissingSources
	}
	return nil
}
