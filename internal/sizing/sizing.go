package sizing

import (
	"math"

	"github.com/rs/zerolog/log"

	"dailytrader/internal/indicator"
	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

// Exit tiers by unrealized gain: below each threshold, sell that share of
// the position.
var exitTiers = []struct {
	below    float64
	fraction float64
}{
	{0.08, 1.0},
	{0.15, 0.30},
	{0.25, 0.40},
	{math.Inf(1), 0.60},
}

// Affordable is the whole number of shares cash buys at price after the
// slippage buffer.
func Affordable(cash, price, slippage float64) int64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	return int64(math.Floor(cash / (price * (1 + slippage))))
}

type Sizer struct {
	Constraints packet.Constraints
}

// Size returns a whole, non-negative share count. Zero means no trade.
func (s Sizer) Size(d strategy.Decision, st state.PortfolioState, snap indicator.Snapshot, reg regime.Regime) int64 {
	switch d.Action {
	case strategy.Buy:
		return s.buyQty(st, snap, reg)
	case strategy.Sell:
		return s.sellQty(st, snap, reg)
	default:
		return 0
	}
}

func (s Sizer) buyQty(st state.PortfolioState, snap indicator.Snapshot, reg regime.Regime) int64 {
	c := s.Constraints
	price := snap.Close
	atr, ok := snap.ATR.Float64()
	if !ok || atr <= 0 || price <= 0 {
		return 0
	}

	equity, _ := st.Equity(price).Float64()
	cash, _ := st.Cash.Float64()
	positionValue, _ := st.PositionValue(price).Float64()

	qty := int64(math.Floor(equity * c.RiskPerTradePct / (atr * c.StopMultiple)))
	base := qty
	if reg.HighVolatility() {
		qty = int64(math.Floor(float64(qty) * c.HighVolFactor))
	}

	room := int64(0)
	if capacity := equity*c.MaxPositionPct - positionValue; capacity > 0 {
		room = int64(math.Floor(capacity / price))
	}
	affordable := Affordable(cash, price, c.SlippageBuffer)

	final := min(qty, room, affordable)
	if final < 0 {
		final = 0
	}
	log.Info().
		Int64("risk_qty", base).
		Int64("regime_qty", qty).
		Int64("position_room", room).
		Int64("affordable", affordable).
		Int64("final", final).
		Msg("buy sizing")
	return final
}

func (s Sizer) sellQty(st state.PortfolioState, snap indicator.Snapshot, reg regime.Regime) int64 {
	if st.Shares <= 0 {
		return 0
	}
	pnl := st.UnrealizedPnLPct(snap.Close)
	fraction := 1.0
	for _, tier := range exitTiers {
		if pnl < tier.below {
			fraction = tier.fraction
			break
		}
	}
	if reg.Trend == regime.TrendBearish {
		fraction = 1.0
	}

	qty := int64(math.Floor(float64(st.Shares) * fraction))
	if qty < 1 {
		qty = st.Shares
	}
	if qty > st.Shares {
		qty = st.Shares
	}
	log.Info().
		Float64("unrealized_pnl_pct", pnl*100).
		Str("trend", string(reg.Trend)).
		Float64("fraction", fraction).
		Int64("qty", qty).
		Msg("sell sizing")
	return qty
}
