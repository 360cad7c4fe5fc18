package core

import "path"

// Match reports whether msgType matches a subscription pattern. Patterns use
// glob syntax: "*" matches any run of characters (dots included), "?" a
// single character and "[...]" a class. Malformed patterns match nothing.
func Match(pattern, msgType string) bool {
	if pattern == msgType {
		return true
	}
	ok, err := path.Match(pattern, msgType)
	return err == nil && ok
}
