package retrieve

import (
	"math"
	"time"
)

// unknownDateDecay is the freshness score used when an article carries no
// publication date. 0.5 keeps dateless passages retrievable without letting
// them outrank anything recent.
const unknownDateDecay = 0.5

// DecayScore returns exp(-rate * days) where days is the fractional age of
// publishedAt relative to now. Articles dated in the future score 1.0, and a
// zero publishedAt scores unknownDateDecay.
func DecayScore(publishedAt, now time.Time, rate float64) float64 {
	if publishedAt.IsZero() {
		return unknownDateDecay
	}
	days := now.Sub(publishedAt).Hours() / 24
	if days < 0 {
		return 1.0
	}
	return math.Exp(-rate * days)
}
