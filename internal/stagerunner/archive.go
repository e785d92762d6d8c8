package stagerunner

import (
	"strings"

	"github.com/fcanata00/newpkg/internal/helpers"
	"github.com/fcanata00/newpkg/internal/nperr"
)

// extractArchive unpacks archive into destDir. It always shells out to
// the system tar, which auto-detects gzip/xz/bzip2/zstd compression
// from the archive's magic bytes, the same reach-for-an-external-
// program idiom as swupd/external.go's ExternalReader/ExternalWriter
// (tar itself calling into unzstd/unxz rather than a pure-Go codec).
// zip archives are handled via the external unzip binary instead, and
// an unrecognized extension falls back to a bare "tar -xf" per §4.D.
func extractArchive(archive, destDir string) error {
	if strings.HasSuffix(archive, ".zip") {
		return helpers.RunCommand("unzip", "-q", "-o", archive, "-d", destDir)
	}
	if err := helpers.RunCommand("tar", "-xf", archive, "-C", destDir); err != nil {
		return nperr.Wrap(nperr.IOError, err, "extracting %s", archive)
	}
	return nil
}

// packageArchive archives srcDir into destArchive, preferring zstd
// compression when the zstd binary is available on PATH and falling
// back to an uncompressed tar otherwise, per §4.D ("packaged").
func packageArchive(srcDir, destArchive string) error {
	if helpers.CommandAvailable("zstd") {
		return helpers.RunCommand("tar", "--zstd", "-cf", destArchive, "-C", srcDir, ".")
	}
	return helpers.RunCommand("tar", "-cf", destArchive, "-C", srcDir, ".")
}
