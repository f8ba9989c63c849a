package recommend

import "math"

// MaxBonus caps the score contribution of recommendations.
const MaxBonus = 15

// Bonus converts matches into a 0..MaxBonus score bonus. Each match adds
// 15, 10 or 5 points (priority ≥8, 5-7, ≤4) scaled by its weight; the sum
// grows 20% with three or more matches and 10% with two.
func Bonus(matches []Match) int {
	if len(matches) == 0 {
		return 0
	}

	var bonus float64
	for _, m := range matches {
		switch {
		case m.Priority >= 8:
			bonus += 15 * m.Weight
		case m.Priority >= 5:
			bonus += 10 * m.Weight
		default:
			bonus += 5 * m.Weight
		}
	}

	switch {
	case len(matches) >= 3:
		bonus *= 1.2
	case len(matches) == 2:
		bonus *= 1.1
	}

	b := int(math.Round(bonus))
	if b > MaxBonus {
		return MaxBonus
	}
	if b < 0 {
		return 0
	}
	return b
}

// Quality tiers for a bonus.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityNone      = "none"
)

// Quality names the tier of a bonus.
func Quality(bonus int) string {
	switch {
	case bonus >= 12:
		return QualityExcellent
	case bonus >= 8:
		return QualityGood
	case bonus >= 4:
		return QualityFair
	}
	return QualityNone
}

// WeightedPriority is the ranking key of a match.
func WeightedPriority(m Match) float64 {
	return float64(m.Priority) * m.Weight
}
