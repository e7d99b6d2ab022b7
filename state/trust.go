package state

import "math"

func ClipTrust(v float64) float64 {
	return min(max(v, MinTrust), MaxTrust)
}

// CountTrust turns observation counters into a bounded trust value. MinOpNum keeps
// nodes with few observations close to zero.
func (c *RankingCfg) CountTrust(pos, neg float64) float64 {
	rank := (pos*c.PosPar - neg*c.NegPar) / max(pos+neg, c.MinOpNum)
	return ClipTrust(rank)
}

func (c *RankingCfg) ComputingTrust(l LocalRank) float64 {
	return c.CountTrust(l.ComputingCounters())
}

func (c *RankingCfg) RequestingTrust(l LocalRank) float64 {
	return c.CountTrust(l.RequestingCounters())
}

func (c *RankingCfg) LocalTrust(l LocalRank) TrustPair {
	return TrustPair{c.ComputingTrust(l), c.RequestingTrust(l)}
}

// NeighbourWeight is the weight of an opinion given by a neighbour we trust at the given level
func (c *RankingCfg) NeighbourWeight(trust float64) float64 {
	return math.Pow(c.NeighbourWeightBase, c.NeighbourWeightPower*trust)
}

// Ratio returns num/den clipped to the trust range, or 0 when either side is zero
func Ratio(f Fraction) float64 {
	if f.Num == 0 || f.Den == 0 {
		return 0
	}
	return ClipTrust(f.Num / f.Den)
}
