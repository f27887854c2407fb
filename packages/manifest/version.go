package manifest

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a manifest schema generation tag in MAJOR.MINOR.PATCH form.
// The zero value is not a valid version.
type Version string

// Current is the schema version this build reads and writes.
const Current Version = "1.5.0"

// ParseVersion validates s and returns it as a Version.
// A leading "v" is accepted and dropped. Prerelease and build suffixes are rejected
// because manifests never carry them.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("parse version: empty string")
	}
	canon := "v" + strings.TrimPrefix(s, "v")
	if !semver.IsValid(canon) {
		return "", fmt.Errorf("parse version %q: not a semantic version", s)
	}
	if semver.Prerelease(canon) != "" || semver.Build(canon) != "" {
		return "", fmt.Errorf("parse version %q: prerelease and build tags are not allowed", s)
	}
	// "v1.4" is valid semver shorthand; manifests always use the full triple.
	if strings.Count(canon, ".") != 2 {
		return "", fmt.Errorf("parse version %q: expected MAJOR.MINOR.PATCH", s)
	}
	return Version(strings.TrimPrefix(canon, "v")), nil
}

// MustParseVersion is ParseVersion for package-level constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Valid reports whether v is a well-formed version.
func (v Version) Valid() bool {
	_, err := ParseVersion(string(v))
	return err == nil
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to or after other.
func (v Version) Compare(other Version) int {
	return semver.Compare("v"+string(v), "v"+string(other))
}

// Less reports whether v is strictly older than other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

func (v Version) String() string {
	return string(v)
}
