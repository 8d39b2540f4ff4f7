// Package version reports the crew build version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var embedded string

// override replaces the embedded version at link time:
//
//	go build -ldflags "-X github.com/nicobailon/pi-messenger-sub001/internal/version.override=v0.2.0"
var override string

// Get returns the current version, with whitespace trimmed
func Get() string {
	if override != "" {
		return strings.TrimSpace(override)
	}
	return strings.TrimSpace(embedded)
}
