// Package versioning pins the agent's semantic version. The version is
// stamped on every response envelope, success or error.
package versioning

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Agent is the running agent's version.
const Agent = "0.2.0"

// Current validates Agent against SemVer 2.0.0 and returns its canonical
// form. Startup fails on an invalid version rather than serving envelopes
// with a bad version field.
func Current() (string, error) {
	v, err := semver.NewVersion(Agent)
	if err != nil {
		return "", fmt.Errorf("invalid agent version %q: %w", Agent, err)
	}
	return v.String(), nil
}
