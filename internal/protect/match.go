package protect

import "strings"

// Match reports whether a slash-separated path matches pattern. "**" spans
// any number of segments and "*" matches within one segment.
func Match(path, pattern string) bool {
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	for len(pattern) > 0 {
		head := pattern[0]
		pattern = pattern[1:]

		if head == "**" {
			if len(pattern) == 0 {
				return true
			}
			for i := range len(path) + 1 {
				if matchSegments(path[i:], pattern) {
					return true
				}
			}
			return false
		}

		if len(path) == 0 || !matchWildcard(path[0], head) {
			return false
		}
		path = path[1:]
	}
	return len(path) == 0
}

// matchWildcard matches one segment against a pattern with "*" wildcards.
func matchWildcard(s, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return s == pattern
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	last := parts[len(parts)-1]
	middle := parts[1 : len(parts)-1]
	for _, part := range middle {
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}
	return strings.HasSuffix(s, last)
}
