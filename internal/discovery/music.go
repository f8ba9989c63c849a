package discovery

import (
	"regexp"
	"strings"
)

// musicRule awards points when a place name contains any of its terms or
// matches one of its acronyms as a whole word.
type musicRule struct {
	points   int
	terms    []string
	acronyms []*regexp.Regexp
}

func (r musicRule) matches(text string) bool {
	for _, t := range r.terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	for _, a := range r.acronyms {
		if a.MatchString(text) {
			return true
		}
	}
	return false
}

func acronyms(ws ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(ws))
	for i, w := range ws {
		out[i] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return out
}

var musicRules = []musicRule{
	// Generic vocal-music terms.
	{points: 20, terms: []string{"choir", "chorus", "chorale", "a cappella", "acappella", "vocal", "singers", "barbershop", "harmony", "glee"}},
	// Named organization types. The short acronyms would match inside
	// ordinary words ("mosaic", "casablanca").
	{points: 15, terms: []string{"barbershop", "sweet adelines", "harmony inc", "harmony, inc"}, acronyms: acronyms("sai", "casa")},
	// Music education.
	{points: 15, terms: []string{"school of music", "music school", "conservatory", "music department", "music academy"}},
	// Youth choirs.
	{points: 10, terms: []string{"youth choir", "children's choir", "childrens choir", "children's chorus", "youth chorus", "boys choir", "girls choir"}},
}

// MusicScore rates how likely a place name is a vocal-music organization.
// Each matching rule adds its points once.
func MusicScore(name string) int {
	text := strings.ToLower(strings.TrimSpace(name))
	if text == "" {
		return 0
	}
	score := 0
	for _, r := range musicRules {
		if r.matches(text) {
			score += r.points
		}
	}
	return score
}

// ProximityBonus awards 15, 10, 5, or 0 points for being within the inner
// quarter, half, or three quarters of the radius.
func ProximityBonus(distance, radius float64) int {
	return proximityScore(distance, radius)
}
