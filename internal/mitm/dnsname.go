package mitm

import (
	"fmt"
	"strings"
)

// normalizeServerName lowercases name and rejects anything that isn't
// a syntactically valid DNS name: dot-separated labels of 1-63
// characters, each built from letters, digits and hyphens, never
// starting or ending with a hyphen.
func normalizeServerName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("mitm: empty server name")
	}
	lower := strings.ToLower(name)
	for _, label := range strings.Split(lower, ".") {
		if !validLabel(label) {
			return "", fmt.Errorf("mitm: invalid DNS name %q", name)
		}
	}
	return lower, nil
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, c := range label {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
