package config

import "strings"

// ValidVersion reports whether a version string is acceptable for a
// version-pinned extension: at least three dot-separated components, the
// first three numeric once build/prerelease suffixes are stripped.
func ValidVersion(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) < 3 {
		return false
	}

	for i := 0; i < 3; i++ {
		p := parts[i]

		if i == 2 {
			if j := strings.IndexAny(p, "-+"); j >= 0 {
				p = p[:j]
			}
		}

		if p == "" {
			return false
		}

		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}

	return true
}
