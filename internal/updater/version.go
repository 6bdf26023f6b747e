package updater

import (
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// canonical turns "1.2", "v1.2.0" or " 1.2.0 " into a semver string.
// It returns "" when the input is not a version.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// IsNewer reports whether remote is a higher version than current.
// Unparseable versions are never newer.
func IsNewer(remote, current string) bool {
	r, c := canonical(remote), canonical(current)
	if r == "" || c == "" {
		return false
	}
	return semver.Compare(r, c) > 0
}

// ShouldCheck reports whether interval has passed since last. A nil last
// means no check has happened yet.
func ShouldCheck(last *time.Time, interval time.Duration, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) > interval
}
