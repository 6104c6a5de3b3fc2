package discovery

import (
	"path"
	"strings"
)

// Match reports whether a slash-separated relative path matches a glob.
// A pattern without a slash is matched against the base name only.
// "**" matches zero or more whole path segments.
func Match(pattern, name string) bool {
	pattern = normalize(pattern)
	name = normalize(name)
	if pattern == "" {
		return false
	}

	if !strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, path.Base(name))
		return err == nil && ok
	}

	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}

// matchDir reports whether a directory and everything under it is excluded
func matchDir(pattern, dir string) bool {
	if Match(pattern, dir) {
		return true
	}
	p := normalize(pattern)
	if trimmed, ok := strings.CutSuffix(p, "/**"); ok {
		return Match(trimmed, dir)
	}
	return false
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, "/")
}
