package sizing

import (
	"testing"

	"github.com/shopspring/decimal"

	"dailytrader/internal/indicator"
	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

func constraints() packet.Constraints {
	c := packet.DefaultConstraints()
	c.RiskPerTradePct = 0.01
	c.StopMultiple = 2
	c.MaxPositionPct = 0.5
	c.SlippageBuffer = 0
	return c
}

func buy() strategy.Decision {
	return strategy.Decision{Action: strategy.Buy}
}

func TestSizeRiskBasedQuantity(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(10000))
	snap := indicator.Snapshot{Close: 50, ATR: indicator.Defined(2)}
	qty := Sizer{Constraints: constraints()}.Size(buy(), st, snap, regime.Regime{Volatility: regime.VolatilityNormal})
	if qty != 25 {
		t.Fatalf("expected 25, got %d", qty)
	}
}

func TestSizeHighVolatilityFactor(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(10000))
	snap := indicator.Snapshot{Close: 50, ATR: indicator.Defined(2)}
	qty := Sizer{Constraints: constraints()}.Size(buy(), st, snap, regime.Regime{Volatility: regime.VolatilityHigh})
	if qty != 12 {
		t.Fatalf("expected floor(25*0.5)=12, got %d", qty)
	}
}

func TestSizeClampedToAffordability(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(10000))
	st.Cash = decimal.NewFromInt(1000)
	st.Shares = 180
	st.CostBasis = decimal.NewFromInt(50)
	snap := indicator.Snapshot{Close: 50, ATR: indicator.Defined(2)}
	c := constraints()
	c.MaxPositionPct = 1
	// room floor((10000-9000)/50)=20, affordable 1000/50=20
	qty := Sizer{Constraints: c}.Size(buy(), st, snap, regime.Regime{})
	if qty != 20 {
		t.Fatalf("expected 20, got %d", qty)
	}
}

func TestSizeClampedToPositionRoom(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(10000))
	c := constraints()
	c.MaxPositionPct = 0.05
	snap := indicator.Snapshot{Close: 50, ATR: indicator.Defined(2)}
	qty := Sizer{Constraints: c}.Size(buy(), st, snap, regime.Regime{})
	if qty != 10 {
		t.Fatalf("expected room 500/50=10, got %d", qty)
	}
}

func TestSizeZeroWithoutATR(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(10000))
	qty := Sizer{Constraints: constraints()}.Size(buy(), st, indicator.Snapshot{Close: 50}, regime.Regime{})
	if qty != 0 {
		t.Fatalf("expected 0, got %d", qty)
	}
}

func TestSizeSellTiers(t *testing.T) {
	cases := []struct {
		price float64
		trend regime.Trend
		want  int64
	}{
		{100, regime.TrendNeutral, 100}, // 0% gain: full exit
		{110, regime.TrendNeutral, 30},  // 9.1%
		{125, regime.TrendNeutral, 40},  // 20%
		{150, regime.TrendNeutral, 60},  // 33%
		{150, regime.TrendBearish, 100}, // bearish: full exit
	}
	for _, tc := range cases {
		st := state.NewPortfolio(decimal.NewFromInt(100000))
		st.Shares = 100
		st.CostBasis = decimal.NewFromInt(100)
		snap := indicator.Snapshot{Close: tc.price}
		got := Sizer{Constraints: constraints()}.Size(strategy.Decision{Action: strategy.Sell}, st, snap, regime.Regime{Trend: tc.trend})
		if got != tc.want {
			t.Fatalf("price %.0f trend %s: expected %d, got %d", tc.price, tc.trend, tc.want, got)
		}
	}
}

func TestSizeSellSingleShare(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(1000))
	st.Shares = 1
	st.CostBasis = decimal.NewFromInt(10)
	got := Sizer{Constraints: constraints()}.Size(strategy.Decision{Action: strategy.Sell}, st, indicator.Snapshot{Close: 20}, regime.Regime{})
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestSizeHoldIsZero(t *testing.T) {
	st := state.NewPortfolio(decimal.NewFromInt(1000))
	if got := (Sizer{Constraints: constraints()}).Size(strategy.Decision{Action: strategy.Hold}, st, indicator.Snapshot{Close: 20, ATR: indicator.Defined(1)}, regime.Regime{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestAffordable(t *testing.T) {
	if got := Affordable(1000, 100, 0.01); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
	if got := Affordable(50, 99, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
