package wire

import "regexp"

// agentIDPattern is the exact regular language spec.md §8 property 11 names:
// 1-128 chars, alphanumeric/-/_ in the body, no leading or trailing separator.
var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9_-]{0,126}[A-Za-z0-9])?$`)

// ValidAgentID reports whether id is an acceptable agent identifier.
func ValidAgentID(id string) bool {
	if len(id) == 0 || len(id) > 128 {
		return false
	}
	return agentIDPattern.MatchString(id)
}
