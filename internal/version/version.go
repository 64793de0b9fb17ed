package version

import (
	"runtime/debug"
	"strings"
)

// Set at build time with
// -ldflags "-X your.org/whatsmeow-buttons/internal/version.Version=v1.2.3"
// and likewise for Author.
var (
	Name        = "whatsmeow-buttons"
	Version     = ""
	Description = "Interactive button validation and relay for whatsmeow sessions"
	Main        = "cmd/buttons-adapter"
	Author      = "whatsmeow-buttons maintainers"
)

// Package describes the running build.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Main        string `json:"main"`
	Author      string `json:"author"`
}

var readBuildInfo = debug.ReadBuildInfo

// Info returns the package metadata. The version falls back to the module
// version recorded in the binary, then to "dev".
func Info() Package {
	v := strings.TrimSpace(Version)
	if v == "" {
		if bi, ok := readBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
	}
	if v == "" {
		v = "dev"
	}
	return Package{Name: Name, Version: v, Description: Description, Main: Main, Author: Author}
}
