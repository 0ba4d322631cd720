package utils

import "strings"

// MatchPermission reports whether a granted permission pattern covers the
// requested permission code. Codes are "resource:action" strings.
// Patterns may be:
//   - an exact code ("order:read")
//   - the global wildcard "*"
//   - a resource wildcard ("order:*")
//   - an action wildcard ("*:read")
func MatchPermission(pattern, code string) bool {
	if pattern == code {
		return true
	}
	if pattern == "*" {
		return true
	}
	if res, ok := strings.CutSuffix(pattern, ":*"); ok {
		if c, _, found := strings.Cut(code, ":"); found {
			return c == res
		}
	}
	if act, ok := strings.CutPrefix(pattern, "*:"); ok {
		if _, a, found := strings.Cut(code, ":"); found {
			return a == act
		}
	}
	return false
}

// MatchAnyPermission reports whether any pattern in the set covers code.
func MatchAnyPermission(patterns map[string]struct{}, code string) bool {
	if _, ok := patterns[code]; ok {
		return true
	}
	if _, ok := patterns["*"]; ok {
		return true
	}
	if res, act, found := strings.Cut(code, ":"); found {
		if _, ok := patterns[res+":*"]; ok {
			return true
		}
		if _, ok := patterns["*:"+act]; ok {
			return true
		}
	}
	return false
}

// SplitCode splits a permission code into its resource and action parts.
// The action is empty when the code has no separator.
func SplitCode(code string) (resource, action string) {
	resource, action, _ = strings.Cut(code, ":")
	return resource, action
}
