// Package manifest defines the data model of §3: the Manifest (stored
// record of an installed package) and Index (derived summary list), both
// JSON per §6. It is intentionally free of any filesystem or database
// logic — that belongs to internal/manifestdb.
package manifest

import (
	"encoding/json"
	"fmt"
	"time"
)

// File is one file owned by a package. Per §6, a file entry may be given
// as a bare string (just the path) or an object with optional metadata;
// MarshalJSON/UnmarshalJSON implement that union on the wire while the
// in-memory representation is always the full struct.
type File struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Mode   uint32 `json:"mode,omitempty"`
}

// bare reports whether f carries only a path, so it round-trips back to
// the compact string form it was probably read from.
func (f File) bare() bool {
	return f.SHA256 == "" && f.Size == 0 && f.Mode == 0
}

// MarshalJSON emits a bare string when f carries no metadata, and an
// object otherwise.
func (f File) MarshalJSON() ([]byte, error) {
	if f.bare() {
		return json.Marshal(f.Path)
	}
	type alias struct {
		Path   string `json:"path"`
		SHA256 string `json:"sha256,omitempty"`
		Size   int64  `json:"size,omitempty"`
		Mode   uint32 `json:"mode,omitempty"`
	}
	return json.Marshal(alias(f))
}

// UnmarshalJSON accepts either a bare string or the full object form.
func (f *File) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Path = s
		return nil
	}
	type alias struct {
		Path   string `json:"path"`
		SHA256 string `json:"sha256,omitempty"`
		Size   int64  `json:"size,omitempty"`
		Mode   uint32 `json:"mode,omitempty"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("file entry is neither a path string nor an object: %w", err)
	}
	*f = File(a)
	return nil
}

// Depends mirrors the metafile shape: names this package requires at
// build time and at run time.
type Depends struct {
	Build []string `json:"build,omitempty"`
	Run   []string `json:"run,omitempty"`
}

// Manifest is the canonical record of an installed package (§3).
type Manifest struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Stage         string    `json:"stage,omitempty"`
	Origin        string    `json:"origin,omitempty"`
	Description   string    `json:"description,omitempty"`
	InstallPrefix string    `json:"install_prefix,omitempty"`
	Files         []File    `json:"files"`
	Depends       Depends   `json:"depends,omitempty"`
	Provides      []string  `json:"provides,omitempty"`
	BuildDate     time.Time `json:"build_date,omitempty"`
}

// ID returns the canonical "name-version" form.
func (m *Manifest) ID() string {
	return m.Name + "-" + m.Version
}

// FileName returns the manifest's stable on-disk filename.
func (m *Manifest) FileName() string {
	return m.Name + "-" + m.Version + ".json"
}

// Validate checks the required fields of §6: name, version, files.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing required field: name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest missing required field: version")
	}
	if m.Files == nil {
		return fmt.Errorf("manifest missing required field: files")
	}
	return nil
}

// Entry is one compact record in the Index (§3): a performance cache over
// the manifest directory, never authoritative.
type Entry struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Origin      string   `json:"origin,omitempty"`
	Description string   `json:"description,omitempty"`
	Provides    []string `json:"provides,omitempty"`
	Depends     Depends  `json:"depends,omitempty"`
	Stage       string   `json:"stage,omitempty"`
	Manifest    string   `json:"manifest"`
}

// EntryFor derives the index entry for m.
func EntryFor(m *Manifest) Entry {
	return Entry{
		Name:        m.Name,
		Version:     m.Version,
		Origin:      m.Origin,
		Description: m.Description,
		Provides:    m.Provides,
		Depends:     m.Depends,
		Stage:       m.Stage,
		Manifest:    m.FileName(),
	}
}
