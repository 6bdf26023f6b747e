package updater

import "strings"

// installerPatterns are matched case-insensitively against asset names, in order
var installerPatterns = []string{
	"webcorder-setup-v",
	"setup",
	"installer",
	".exe",
}

func isSourceArchive(name string) bool {
	return strings.HasPrefix(name, "source code") ||
		name == "source-code.zip" ||
		name == "source-code.tar.gz"
}

// InstallerAsset picks the asset to download for an update. GitHub's
// generated source archives are never chosen. Assets are scanned for the
// installer patterns in order; failing that the first non-source .exe or
// .zip is used.
func InstallerAsset(rel *Release) (Asset, bool) {
	if rel == nil {
		return Asset{}, false
	}

	var candidates []Asset
	for _, a := range rel.Assets {
		if isSourceArchive(strings.ToLower(a.Name)) {
			continue
		}
		candidates = append(candidates, a)
	}

	for _, a := range candidates {
		name := strings.ToLower(a.Name)
		for _, pattern := range installerPatterns {
			if strings.Contains(name, pattern) {
				return a, true
			}
		}
	}

	for _, a := range candidates {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, "source") || strings.Contains(name, ".tar.gz") {
			continue
		}
		if strings.Contains(name, ".exe") || strings.Contains(name, ".zip") {
			return a, true
		}
	}

	return Asset{}, false
}
