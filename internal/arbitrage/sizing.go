package arbitrage

import (
	"arbiter/internal/model"
	"math"
)

const maxProfitBonus = 0.5

// Size derives the trade volume from the sizing policy and the governor's
// current state. The result is always within [MinSize, MaxSize].
func Size(p model.SizingPolicy, st model.GovernorState) float64 {
	used := st.PercentUsed()
	var size float64
	switch {
	case used >= 90 && p.ScaleDownAt90:
		size = math.Max(p.MinSize, p.BaseSize*0.25)
	case used >= 70 && p.ScaleDownAt70:
		size = math.Max(p.MinSize, p.BaseSize*0.5)
	case st.DailyPnL > 0:
		bonus := maxProfitBonus
		if p.ProfitBonusScale > 0 {
			bonus = math.Min(maxProfitBonus, st.DailyPnL/p.ProfitBonusScale)
		}
		size = math.Min(p.MaxSize, p.BaseSize*(1+bonus))
	default:
		size = math.Min(p.MaxSize, p.BaseSize)
	}
	return clamp(size, p.MinSize, p.MaxSize)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
