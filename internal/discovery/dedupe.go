package discovery

import "strings"

// Deduplicate collapses candidates sharing an email address. The survivor
// is the one with the highest lead score; on a tie the first seen wins.
// Survivors keep the order in which their email was first seen.
func Deduplicate(cands []Candidate) []Candidate {
	index := make(map[string]int, len(cands))
	out := make([]Candidate, 0, len(cands))

	for _, c := range cands {
		key := emailKey(c.Lead.Email)
		i, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, c)
			continue
		}
		if c.Lead.Score > out[i].Lead.Score {
			out[i] = c
		}
	}
	return out
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DedupStats reports how many candidates deduplication removed.
type DedupStats struct {
	Original          int     `json:"original"`
	Deduplicated      int     `json:"deduplicated"`
	DuplicatesRemoved int     `json:"duplicates_removed"`
	Rate              float64 `json:"rate"` // percent removed, one decimal
}

// DeduplicationStats compares candidate counts before and after Deduplicate.
func DeduplicationStats(original, deduplicated int) DedupStats {
	st := DedupStats{
		Original:          original,
		Deduplicated:      deduplicated,
		DuplicatesRemoved: original - deduplicated,
	}
	if original > 0 {
		st.Rate = round1(float64(st.DuplicatesRemoved) / float64(original) * 100)
	}
	return st
}

// FindDuplicates maps each email found more than once to the sources that
// produced it, in input order.
func FindDuplicates(cands []Candidate) map[string][]Source {
	bySource := make(map[string][]Source)
	for _, c := range cands {
		key := emailKey(c.Lead.Email)
		bySource[key] = append(bySource[key], c.Source)
	}
	for k, v := range bySource {
		if len(v) < 2 {
			delete(bySource, k)
		}
	}
	return bySource
}
