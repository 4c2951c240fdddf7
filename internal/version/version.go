// Package version identifies the build.
package version

// VERSION and Commit are set at build time via:
//
//	go build -ldflags "-X github.com/chronologos/pixelrelay/internal/version.VERSION=0.2.0 -X github.com/chronologos/pixelrelay/internal/version.Commit=abc123"
var (
	VERSION = "dev"
	Commit  = "dev"
)

// String is "VERSION (Commit)".
func String() string {
	return VERSION + " (" + Commit + ")"
}
