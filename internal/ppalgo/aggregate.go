package ppalgo

import (
	"math"
	"sort"
)

// bonusBase is the decay base of the volume-reward bonus term. Historical
// revisions of this formula used 0.9994 in the processor and 0.995 in
// deploy; this implementation fixes 0.995 per the current specification.
// A future rework needing a different decay would make this a per-rework
// value rather than a global constant.
const bonusBase = 0.995

// bonusScale is the asymptotic ceiling of the bonus term as scoreCount
// grows without bound: 416.6667 * (1 - 0.995^N) -> 416.6667.
const bonusScale = 416.6667

// AggregateNewPP combines a user's per-score new pp values into a single
// weighted total: scores are sorted descending, each contributes
// pp * 0.95^i, and a volume bonus rewards having many ranked plays.
// scoreCount is the count of eligible scores (capped at 1000 by the
// caller), which may exceed len(newPPs) when only the top 100 are
// supplied here. The aggregate is stored as an integer (ReworkStats /
// user_stats.pp are whole-number columns), rounded rather than truncated.
func AggregateNewPP(newPPs []float64, scoreCount int) int32 {
	sorted := append([]float64(nil), newPPs...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var weighted float64
	for i, pp := range sorted {
		weighted += pp * math.Pow(0.95, float64(i))
	}

	bonus := bonusScale * (1 - math.Pow(bonusBase, float64(scoreCount)))

	return int32(math.Round(weighted + bonus))
}
