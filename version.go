package volta

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// CheckArtifactVersion reports whether an artifact serialized under version
// v can be consumed by this build. Artifacts are compatible within a major
// version; anything else must be regenerated.
func CheckArtifactVersion(v string) error {
	parsed, err := semver.ParseTolerant(v)
	if err != nil {
		return fmt.Errorf("volta: malformed artifact version %q: %w", v, err)
	}
	if parsed.Major != Version.Major {
		return fmt.Errorf("volta: artifact version %s incompatible with runtime %s", parsed, Version)
	}
	return nil
}
