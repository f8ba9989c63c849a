package discovery

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldAccents = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lower-cases s, folds accents to ASCII, and joins alphanumeric runs
// with single hyphens.
func Slugify(s string) string {
	folded, _, err := transform.String(foldAccents, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// PlaceholderEmail is the deterministic address given to a synthetic
// contact for organization.
func PlaceholderEmail(organization string) string {
	slug := Slugify(organization)
	if slug == "" {
		slug = "unknown"
	}
	return "contact@" + slug + ".placeholder.local"
}
