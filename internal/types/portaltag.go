package types

import "strings"

// PortalTag is the leading marker that makes a comment visible on the portal side.
const PortalTag = "<portal/>"

// HasPortalTag reports whether body starts with the visibility tag.
func HasPortalTag(body string) bool {
	return strings.HasPrefix(body, PortalTag)
}

// StripPortalTag removes exactly one leading visibility tag.
func StripPortalTag(body string) string {
	return strings.TrimPrefix(body, PortalTag)
}

// AddPortalTag prefixes body with the visibility tag unless it already has one.
func AddPortalTag(body string) string {
	if HasPortalTag(body) {
		return body
	}
	return PortalTag + body
}
