// Package version exposes the Convoy release version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionContent string

// Commit is the git revision, set at build time via -ldflags.
var Commit = ""

// Get returns the release version with whitespace trimmed.
func Get() string {
	v := strings.TrimSpace(versionContent)
	if Commit != "" {
		v += "+" + Commit
	}
	return v
}
