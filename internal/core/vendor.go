package core

import (
	"strings"
)

// NormalizeVendor builds the dedup key of a vendor name: lower-cased,
// with every character outside [a-z0-9] replaced by an underscore
func NormalizeVendor(name string) string {
	lower := strings.ToLower(name)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// vendorKey scopes a normalized vendor to its organization
func vendorKey(organizationID, normalizedVendor string) string {
	return organizationID + "/" + normalizedVendor
}
