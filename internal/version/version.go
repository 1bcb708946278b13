// Package version reports the build version and checks for newer releases.
package version

// Version is overridden at build time with -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.1.0"

// ReleasesURL is the latest-release endpoint of the project repository.
const ReleasesURL = "https://api.github.com/repos/bassam-st/AI-Core-Engine/releases/latest"
