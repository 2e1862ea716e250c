// Package proximity turns time-of-flight distance samples into click
// periods: the closer the obstacle, the faster the clicks.
package proximity

import (
	"math"
	"time"
)

// Mapping linearly maps a distance domain onto a click period range.
type Mapping struct {
	DistanceMin int           // Samples at or below this give PeriodMin
	DistanceMax int           // Samples at or above this give PeriodMax
	PeriodMin   time.Duration // Fastest click period
	PeriodMax   time.Duration // Slowest click period
}

// DefaultMapping maps 200..4000 onto 100ms..3000ms.
func DefaultMapping() Mapping {
	return Mapping{
		DistanceMin: 200,
		DistanceMax: 4000,
		PeriodMin:   100 * time.Millisecond,
		PeriodMax:   3000 * time.Millisecond,
	}
}

// MapPeriod maps a sample with DefaultMapping.
func MapPeriod(sample int) time.Duration {
	return DefaultMapping().Period(sample)
}

// Period interpolates sample into the period range, rounds to whole
// milliseconds (half to even) and clamps to [PeriodMin, PeriodMax].
func (m Mapping) Period(sample int) time.Duration {
	lo := float64(m.PeriodMin.Milliseconds())
	hi := float64(m.PeriodMax.Milliseconds())

	span := float64(m.DistanceMax - m.DistanceMin)
	if span <= 0 {
		return m.PeriodMin
	}

	ms := math.RoundToEven(float64(sample-m.DistanceMin)/span*(hi-lo) + lo)
	ms = math.Max(lo, math.Min(ms, hi))
	return time.Duration(ms) * time.Millisecond
}
