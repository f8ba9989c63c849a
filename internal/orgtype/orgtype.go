// Package orgtype classifies free-text organization names into a closed
// vocabulary of organization types.
package orgtype

import (
	"strings"
)

// Type is an organization type tag.
type Type string

// Organization types.
const (
	University       Type = "UNIVERSITY"
	College          Type = "COLLEGE"
	HighSchool       Type = "HIGH_SCHOOL"
	MiddleSchool     Type = "MIDDLE_SCHOOL"
	ElementarySchool Type = "ELEMENTARY_SCHOOL"
	Conservatory     Type = "CONSERVATORY"
	MusicSchool      Type = "MUSIC_SCHOOL"
	PerformingArts   Type = "PERFORMING_ARTS"
	Theatre          Type = "THEATRE"
	Theater          Type = "THEATER"
	Choir            Type = "CHOIR"
	ArtsCenter       Type = "ARTS_CENTER"
	Church           Type = "CHURCH"
	Synagogue        Type = "SYNAGOGUE"
	Temple           Type = "TEMPLE"
	Mosque           Type = "MOSQUE"
	Festival         Type = "FESTIVAL"
	Conference       Type = "CONFERENCE"
	Convention       Type = "CONVENTION"
	CommunityCenter  Type = "COMMUNITY_CENTER"
	Nonprofit        Type = "NONPROFIT"
	Corporate        Type = "CORPORATE"
	Unknown          Type = "UNKNOWN"
)

func (t Type) String() string { return string(t) }

type pattern struct {
	typ      Type
	keywords []string
	priority int
}

// patterns is scanned in order; on equal priority the earlier entry wins.
// Temple has no keywords of its own ("temple" classifies as Synagogue) but is
// accepted in rule org-type lists.
var patterns = []pattern{
	{University, []string{"university", "universidad", "universidade"}, 10},
	{College, []string{"college", "collegiate", "community college"}, 9},
	{HighSchool, []string{"high school", "secondary school", "preparatory", "prep school"}, 8},
	{MiddleSchool, []string{"middle school", "junior high", "intermediate school"}, 8},
	{ElementarySchool, []string{"elementary", "primary school", "grade school"}, 8},

	{Conservatory, []string{"conservatory", "conservatoire"}, 9},
	{MusicSchool, []string{"music school", "school of music"}, 8},
	{PerformingArts, []string{"performing arts", "school of arts", "arts academy"}, 8},

	{Theatre, []string{"theatre", "playhouse", "opera house"}, 7},
	{Theater, []string{"theater", "theatrical"}, 7},
	{Choir, []string{"choir", "chorale", "chorus", "singers", "vocal ensemble", "a cappella"}, 7},
	{ArtsCenter, []string{"arts center", "arts centre", "cultural center", "cultural centre"}, 6},

	{Church, []string{"church", "cathedral", "chapel", "parish"}, 6},
	{Synagogue, []string{"synagogue", "temple", "shul"}, 6},
	{Mosque, []string{"mosque", "masjid", "islamic center"}, 6},

	{Festival, []string{"festival", "fest"}, 5},
	{Conference, []string{"conference", "summit", "symposium"}, 5},
	{Convention, []string{"convention", "expo"}, 5},

	{CommunityCenter, []string{"community center", "community centre", "recreation center", "rec center"}, 5},
	{Nonprofit, []string{"nonprofit", "non-profit", "foundation", "association"}, 4},
	{Corporate, []string{"corporation", "company", "inc.", "llc", "ltd"}, 4},
}

var known = func() map[Type]bool {
	m := map[Type]bool{Temple: true, Unknown: true}
	for _, p := range patterns {
		m[p.typ] = true
	}
	return m
}()

// Classify returns the highest-priority organization type whose keywords
// appear in text. It returns Unknown for empty or unmatched input.
func Classify(text string) Type {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Unknown
	}

	best := Unknown
	bestPriority := -1
	for _, p := range patterns {
		if p.priority <= bestPriority {
			continue
		}
		if matchesAny(normalized, p.keywords) {
			best = p.typ
			bestPriority = p.priority
		}
	}
	return best
}

// ClassifyFromLocation classifies a "Name, City, State" location string by
// its first segment, falling back to the whole string when the first
// segment is unrecognized.
func ClassifyFromLocation(location string) Type {
	if strings.TrimSpace(location) == "" {
		return Unknown
	}
	first, _, _ := strings.Cut(location, ",")
	if t := Classify(first); t != Unknown {
		return t
	}
	return Classify(location)
}

// Keywords returns the search keywords for t, or nil when t has none.
func Keywords(t Type) []string {
	for _, p := range patterns {
		if p.typ == t {
			out := make([]string, len(p.keywords))
			copy(out, p.keywords)
			return out
		}
	}
	return nil
}

// Priority returns the classification priority of t, or 0.
func Priority(t Type) int {
	for _, p := range patterns {
		if p.typ == t {
			return p.priority
		}
	}
	return 0
}

// Parse converts s (case-insensitive) to a Type.
func Parse(s string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	return t, known[t]
}

// All returns every classifiable type in table order.
func All() []Type {
	out := make([]Type, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.typ)
	}
	return out
}

func matchesAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// IsMusic reports whether t is a music-focused organization type.
func IsMusic(t Type) bool {
	switch t {
	case Choir, MusicSchool, Conservatory, PerformingArts:
		return true
	}
	return false
}
