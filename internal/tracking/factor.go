package tracking

import (
	"hash/fnv"
	"math/rand"
	"strconv"

	"github.com/sirenlab/dispatchd/internal/models"
)

// Factor bounds and modifiers for the simulated traffic conditions.
const (
	factorMin = 0.45
	factorMax = 1.75

	baseLow  = 0.85
	baseHigh = 1.35
	peakLow  = 1.05
	peakHigh = 1.25

	greenWaveFactor = 0.6
	sirenFactor     = 0.85
)

// TrafficFactor derives the deterministic traffic multiplier for one
// resource-incident pair. The PRNG is seeded from the pair identity so the
// same pair always yields the same base and peak draws; the draw order is
// fixed (base first, then the peak draw when inside rush hours).
func TrafficFactor(resourceID string, incidentID int64, code models.Code, greenWave bool, hour int) float64 {
	rng := seededRand(resourceID, incidentID)

	factor := uniform(rng, baseLow, baseHigh)
	if isPeakHour(hour) {
		factor *= uniform(rng, peakLow, peakHigh)
	}
	if code == models.CodeRed {
		if greenWave {
			factor *= greenWaveFactor
		} else {
			factor *= sirenFactor
		}
	}

	if factor < factorMin {
		return factorMin
	}
	if factor > factorMax {
		return factorMax
	}
	return factor
}

// isPeakHour reports whether the local hour falls in the morning or evening
// rush window (07:00-10:00 and 17:00-20:00).
func isPeakHour(hour int) bool {
	return (hour >= 7 && hour < 10) || (hour >= 17 && hour < 20)
}

func seededRand(resourceID string, incidentID int64) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(resourceID + "-" + strconv.FormatInt(incidentID, 10)))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func uniform(r *rand.Rand, low, high float64) float64 {
	return low + r.Float64()*(high-low)
}
