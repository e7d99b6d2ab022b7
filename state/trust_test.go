package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTrust_Bounded(t *testing.T) {
	cfg := DefaultRankingCfg()
	counts := []float64{0, 1, 2, 7, 25, 49, 50, 51, 100, 1000, 1e9}
	for _, pos := range counts {
		for _, neg := range counts {
			v := cfg.CountTrust(pos, neg)
			assert.GreaterOrEqual(t, v, MinTrust, "pos=%v neg=%v", pos, neg)
			assert.LessOrEqual(t, v, MaxTrust, "pos=%v neg=%v", pos, neg)
		}
	}
}

func TestCountTrust_FixedPoints(t *testing.T) {
	cfg := DefaultRankingCfg()
	assert.Equal(t, 0.0, cfg.CountTrust(0, 0))
	assert.Equal(t, 1.0, cfg.CountTrust(50, 0))
	assert.Equal(t, -1.0, cfg.CountTrust(0, 25))
	assert.InDelta(t, 0.2, cfg.CountTrust(10, 0), 1e-12)
}

func TestCountTrust_FewObservationsStayNearZero(t *testing.T) {
	cfg := DefaultRankingCfg()
	assert.InDelta(t, 0.02, cfg.CountTrust(1, 0), 1e-12)
	assert.InDelta(t, -0.04, cfg.CountTrust(0, 1), 1e-12)
	// past MinOpNum the sample count no longer dampens
	assert.InDelta(t, (100.0-2*100)/200, cfg.CountTrust(100, 100), 1e-12)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(Fraction{0, 5}))
	assert.Equal(t, 0.0, Ratio(Fraction{3, 0}))
	assert.Equal(t, 0.5, Ratio(Fraction{5, 10}))
	assert.Equal(t, 1.0, Ratio(Fraction{5, 1}))
	assert.Equal(t, -1.0, Ratio(Fraction{-5, 1}))
}

func TestLocalTrust_Axes(t *testing.T) {
	cfg := DefaultRankingCfg()
	l := LocalRank{
		NodeId:            "x",
		PositiveComputed:  10,
		WrongComputed:     5,
		PositiveRequested: 20,
		NegativePayment:   5,
		PositiveResource:  100,
	}
	trust := cfg.LocalTrust(l)
	assert.InDelta(t, (10.0-2*5)/50, trust.Computing, 1e-12)
	assert.InDelta(t, (20.0-2*5)/50, trust.Requesting, 1e-12)
}

func TestNeighbourWeight(t *testing.T) {
	cfg := DefaultRankingCfg()
	assert.Equal(t, 1.0, cfg.NeighbourWeight(0))
	assert.Equal(t, 4.0, cfg.NeighbourWeight(1))
	assert.Equal(t, 0.25, cfg.NeighbourWeight(-1))
}

func TestRankVector_ScaleConservesMass(t *testing.T) {
	v := RankVector{Fraction{0.37, 1.3}, Fraction{-0.11, 0.9}}
	for k := 1; k <= 7; k++ {
		share := v.Scale(1 / float64(k+1))
		sum := RankVector{}
		for i := 0; i < k+1; i++ {
			sum = sum.Add(share)
		}
		assert.InDelta(t, v.Computing.Num, sum.Computing.Num, 1e-12)
		assert.InDelta(t, v.Computing.Den, sum.Computing.Den, 1e-12)
		assert.InDelta(t, v.Requesting.Num, sum.Requesting.Num, 1e-12)
		assert.InDelta(t, v.Requesting.Den, sum.Requesting.Den, 1e-12)
		// scaling both sides keeps the ratio
		assert.InDelta(t, Ratio(v.Computing), Ratio(share.Computing), 1e-12)
	}
}
