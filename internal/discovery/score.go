package discovery

import (
	"math"
	"sort"
	"time"
)

const (
	maxScore = 100
	// daysPerMonth approximates a month for recency scoring.
	daysPerMonth = 30
)

var baseScores = map[Source]int{
	SourcePastClient: 70,
	SourceDormant:    50,
	SourceSimilarOrg: 40,
	SourceAIResearch: 30,
}

const defaultBaseScore = 30

// Score rates a candidate from 0 to 100 using its source, its distance
// relative to the campaign radius, how recently it was contacted, and how
// much business it has done with us. now anchors the recency window.
func Score(c Candidate, campaign Campaign, now time.Time) int {
	score, ok := baseScores[c.Source]
	if !ok {
		score = defaultBaseScore
	}

	score += proximityScore(c.Distance, campaign.Radius)
	score += recencyScore(c.Lead.LastContactedAt, now)
	score += relationshipScore(c.Lead)

	return clampScore(score)
}

func proximityScore(distance, radius float64) int {
	if radius <= 0 {
		return 0
	}
	ratio := distance / radius
	switch {
	case ratio <= 0.25:
		return 15
	case ratio <= 0.5:
		return 10
	case ratio <= 0.75:
		return 5
	}
	return 0
}

func recencyScore(last *time.Time, now time.Time) int {
	if last == nil {
		return 0
	}
	months := now.Sub(*last).Hours() / 24 / daysPerMonth
	switch {
	case months <= 12:
		return 10
	case months <= 24:
		return 5
	}
	return 0
}

func relationshipScore(l Lead) int {
	switch {
	case len(l.Bookings) >= 2:
		return 5
	case len(l.Bookings) == 1:
		return 3
	case len(l.Inquiries) > 0:
		return 1
	}
	return 0
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > maxScore {
		return maxScore
	}
	return s
}

// ScoreStats summarizes a set of scores.
type ScoreStats struct {
	Min       int     `json:"min"`
	Max       int     `json:"max"`
	Avg       float64 `json:"avg"`
	Median    int     `json:"median"`
	Excellent int     `json:"excellent"` // 80+
	Good      int     `json:"good"`      // 60-79
	Fair      int     `json:"fair"`      // 40-59
	Poor      int     `json:"poor"`      // below 40
}

// ComputeScoreStats returns min, max, mean, upper median, and tier counts.
// An empty input yields zero stats.
func ComputeScoreStats(scores []int) ScoreStats {
	var st ScoreStats
	if len(scores) == 0 {
		return st
	}

	sorted := append([]int(nil), scores...)
	sort.Ints(sorted)

	sum := 0
	for _, s := range sorted {
		sum += s
		switch {
		case s >= 80:
			st.Excellent++
		case s >= 60:
			st.Good++
		case s >= 40:
			st.Fair++
		default:
			st.Poor++
		}
	}

	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]
	st.Avg = round1(float64(sum) / float64(len(sorted)))
	st.Median = sorted[len(sorted)/2]
	return st
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
