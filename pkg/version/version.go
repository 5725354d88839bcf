package version

const UnreleasedVersion = "dev"

// Version is the current git version of the code.  It is filled in at build time with
// -ldflags "-X github.com/treeverse/termstore/pkg/version.Version=...".
var Version = UnreleasedVersion

// IsReleased reports whether the binary was built from a release.
func IsReleased() bool {
	return Version != UnreleasedVersion
}
