package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateFor_Thresholds(t *testing.T) {
	cases := []struct {
		completed int
		tier      Tier
		rate      float64
	}{
		{0, TierBronze, 0.15},
		{9, TierBronze, 0.15},
		{10, TierSilver, 0.12},
		{49, TierSilver, 0.12},
		{50, TierGold, 0.10},
		{199, TierGold, 0.10},
		{200, TierDiamond, 0.08},
		{1000, TierDiamond, 0.08},
	}

	for _, tc := range cases {
		tier, rate := RateFor(tc.completed)
		assert.Equal(t, tc.tier, tier, "completed=%d", tc.completed)
		assert.Equal(t, tc.rate, rate, "completed=%d", tc.completed)
	}
}

func TestRateFor_NegativeCount(t *testing.T) {
	tier, rate := RateFor(-5)
	assert.Equal(t, TierBronze, tier)
	assert.Equal(t, 0.15, rate)
}

func TestRateFor_Deterministic(t *testing.T) {
	t1, r1 := RateFor(42)
	t2, r2 := RateFor(42)
	assert.Equal(t, t1, t2)
	assert.Equal(t, r1, r2)
}

func TestRateFor_RateBounds(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 49, 50, 199, 200, 100000} {
		_, rate := RateFor(n)
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
}

func TestNet(t *testing.T) {
	assert.Equal(t, 8500.0, Net(10000, 0.15))
	assert.Equal(t, 8800.0, Net(10000, 0.12))
	assert.Equal(t, 4500.0, Net(5000, 0.10))
}

func TestNetPlusFeeEqualsGross(t *testing.T) {
	for _, gross := range []float64{10000, 5000, 33.33, 0.01, 999999.99} {
		for _, rate := range []float64{0.15, 0.12, 0.10, 0.08} {
			net := Net(gross, rate)
			fee := Fee(gross, rate)
			assert.Equal(t, RoundMoney(gross), RoundMoney(net+fee), "gross=%v rate=%v", gross, rate)
		}
	}
}
