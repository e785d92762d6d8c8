// Package identifier implements the Package Identifier of §3: a
// {name, version} pair with canonical form "name-version", the version
// comparator used to pick the highest installed version of a name, and
// the dependency-predicate parser.
//
// Per the Open Question in §9, only identity/name matching is required
// by the core; when two concrete versions need a strict order (picking
// the highest installed version of a name) we reach for
// Masterminds/semver and fall back to a lexical compare for version
// strings that are not valid semver, since the spec treats version as an
// "opaque string with a defined total order supplied by an external
// comparator".
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ID is a package identifier.
type ID struct {
	Name    string
	Version string
}

// String returns the canonical "name-version" form.
func (id ID) String() string {
	return id.Name + "-" + id.Version
}

// Parse splits a canonical "name-version" string into an ID with
// ParseLoose and returns an error when no split point exists. Because
// names may themselves contain hyphens, the version is taken to be the
// part after the last hyphen that is followed by a digit.
func Parse(nameVersion string) (ID, error) {
	id, ok := ParseLoose(nameVersion)
	if !ok {
		return ID{}, fmt.Errorf("cannot split %q into name and version", nameVersion)
	}
	return id, nil
}

var versionLikeRe = regexp.MustCompile(`^[0-9]`)

// ParseLoose attempts to split "name-version" at the last hyphen that is
// followed by a version-looking token (starting with a digit). Returns
// ok=false if no such split point exists.
func ParseLoose(nameVersion string) (ID, bool) {
	for i := len(nameVersion) - 1; i > 0; i-- {
		if nameVersion[i] != '-' {
			continue
		}
		name, version := nameVersion[:i], nameVersion[i+1:]
		if name == "" || version == "" {
			continue
		}
		if versionLikeRe.MatchString(version) {
			return ID{Name: name, Version: version}, true
		}
	}
	return ID{}, false
}

// Compare orders two version strings. It uses semantic-version comparison
// when both parse as semver, and otherwise falls back to a plain string
// comparison, which is the only ordering guarantee the core makes for
// opaque version strings.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Predicate is a parsed dependency token such as "lib>=1.0".
type Predicate struct {
	Name    string
	Op      string // "", "=", ">=", "<=", ">", "<"
	Version string
}

var predicateRe = regexp.MustCompile(`^([A-Za-z0-9_.+-]+?)\s*(>=|<=|==|=|>|<)\s*([A-Za-z0-9_.+-]+)$`)

// ParsePredicate parses a dependency token. Per §4.B / §9, the edge
// relation in the dependency graph uses only Name; Op and Version are
// retained for informational purposes and are not otherwise evaluated by
// the core.
func ParsePredicate(token string) Predicate {
	token = strings.TrimSpace(token)
	if m := predicateRe.FindStringSubmatch(token); m != nil {
		return Predicate{Name: m[1], Op: m[2], Version: m[3]}
	}
	return Predicate{Name: token}
}
