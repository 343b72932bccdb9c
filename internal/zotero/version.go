// Package zotero implements version comparison for the loose version strings
// found in addon manifests ("4.0", "6.999", "7.*", "1.0.0-beta").
package zotero

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare returns -1, 0 or 1. Both versions are compared as semver when they
// parse as such; otherwise a segment-wise loose comparison is used where "*"
// segments compare equal to anything.
func Compare(a, b string) int {
	if av, errA := semver.NewVersion(a); errA == nil {
		if bv, errB := semver.NewVersion(b); errB == nil {
			return av.Compare(bv)
		}
	}
	return looseCompare(a, b)
}

func looseCompare(a, b string) int {
	partsA := strings.Split(strings.ReplaceAll(a, "-", "."), ".")
	partsB := strings.Split(strings.ReplaceAll(b, "-", "."), ".")
	for len(partsA) < len(partsB) {
		partsA = append(partsA, "0")
	}
	for len(partsB) < len(partsA) {
		partsB = append(partsB, "0")
	}
	for i := range partsA {
		pa, pb := partsA[i], partsB[i]
		if pa == "*" || pb == "*" {
			continue
		}
		na, errA := strconv.Atoi(pa)
		nb, errB := strconv.Atoi(pb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if pa != pb {
			if pa < pb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CheckVersion maps a target Zotero version from an addon spec to the
// wildcard version used for compatibility checks.
func CheckVersion(targetVersion string) (string, error) {
	switch targetVersion {
	case "6", "7":
		return targetVersion + ".*", nil
	}
	return "", fmt.Errorf("unsupported target Zotero version: %q", targetVersion)
}

// Compatible reports whether checkVersion (e.g. "7.*") falls into the
// inclusive [minVersion, maxVersion] range declared by an addon. Wildcards in
// the bounds are normalized so that "*" means "0" on the lower bound and
// "999" on the upper bound.
func Compatible(minVersion, maxVersion, checkVersion string) bool {
	minNorm := strings.ReplaceAll(minVersion, "*", "0")
	maxNorm := strings.ReplaceAll(maxVersion, "*", "999")
	checkHigh := strings.ReplaceAll(checkVersion, "*", "999")
	checkLow := strings.ReplaceAll(checkVersion, "*", "0")
	return Compare(minNorm, checkHigh) <= 0 && Compare(maxNorm, checkLow) >= 0
}
