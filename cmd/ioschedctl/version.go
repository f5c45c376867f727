package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the ioschedctl build version.
const Version = "0.1.0"

// checkMinVersion parses want and the running Version and reports whether
// Version satisfies a ">= want" constraint, using Masterminds/semver for
// the comparison rather than a bare string compare.
func checkMinVersion(want string) (bool, error) {
	running, err := semver.NewVersion(Version)
	if err != nil {
		return false, fmt.Errorf("ioschedctl: invalid build version %q: %w", Version, err)
	}
	constraint, err := semver.NewConstraint(">= " + want)
	if err != nil {
		return false, fmt.Errorf("ioschedctl: invalid constraint %q: %w", want, err)
	}
	return constraint.Check(running), nil
}
