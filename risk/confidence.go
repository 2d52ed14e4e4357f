package risk

// ConfidenceTier applies Multiplier to oracle confidences at or above Min.
type ConfidenceTier struct {
	Min        float64
	Multiplier float64
}

// DefaultConfidenceTiers, highest first.
var DefaultConfidenceTiers = []ConfidenceTier{
	{Min: 90, Multiplier: 1.5},
	{Min: 80, Multiplier: 1.25},
	{Min: 70, Multiplier: 1.0},
	{Min: 60, Multiplier: 0.5},
}

// ConfidenceMultiplier maps an oracle confidence onto a size multiplier.
// ok is false below floor or below the lowest tier.
func ConfidenceMultiplier(confidence, floor float64) (float64, bool) {
	if confidence < floor {
		return 0, false
	}
	for _, t := range DefaultConfidenceTiers {
		if confidence >= t.Min {
			return t.Multiplier, true
		}
	}
	return 0, false
}

// ConfluenceBonus rewards setups where many signals agree.
func ConfluenceBonus(score float64) float64 {
	switch {
	case score >= 85:
		return 1.2
	case score >= 70:
		return 1.1
	default:
		return 1.0
	}
}
