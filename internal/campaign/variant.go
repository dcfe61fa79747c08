package campaign

import (
	"math/rand/v2"

	"herald-go/internal/domain"
)

// DrawFunc returns a uniform value in [0, 100).
type DrawFunc func() float64

// RandomDraw is the default DrawFunc.
func RandomDraw() float64 {
	return rand.Float64() * 100
}

// SelectVariant picks the first variant whose cumulative percentage is at
// least draw. If none reaches it the first variant is used. It returns ""
// when there are no variants.
func SelectVariant(variants []domain.Variant, draw float64) string {
	if len(variants) == 0 {
		return ""
	}

	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Percentage
		if draw <= cumulative {
			return v.ID
		}
	}
	return variants[0].ID
}
