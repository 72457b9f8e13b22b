package version

import "strings"

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/reflex/internal/version.Version=v1.2.3"
var Version = "dev"

// Get returns the current version, with whitespace trimmed
func Get() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		return "dev"
	}
	return v
}
