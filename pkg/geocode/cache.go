package geocode

import "strings"

// cacheKey normalizes an address for cache lookup. Empty means the address
// has nothing to geocode.
func cacheKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
