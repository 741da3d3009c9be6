package packet

import (
	"encoding/json"

	"dailytrader/internal/indicator"
	"dailytrader/internal/md"
	"dailytrader/internal/regime"
	"dailytrader/internal/state"
)

// Constraints are the portfolio limits shared by the packet, the guardrails
// and the sizer. Percentages are fractions (0.02 is 2%).
type Constraints struct {
	MaxPositionPct     float64 `yaml:"max_position_pct" json:"max_position_pct" default:"0.20" validate:"gt=0,lte=1"`
	RiskPerTradePct    float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct" default:"0.02" validate:"gt=0,lte=1"`
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" default:"0.10" validate:"gt=0,lte=1"`
	MinATR             float64 `yaml:"min_atr" json:"min_atr" default:"3.5" validate:"gte=0"`
	MaxATR             float64 `yaml:"max_atr" json:"max_atr" default:"18.0" validate:"gtfield=MinATR"`
	StopMultiple       float64 `yaml:"stop_multiple" json:"stop_multiple" default:"2.0" validate:"gt=0"`
	TakeProfitMultiple float64 `yaml:"take_profit_multiple" json:"take_profit_multiple" default:"3.0" validate:"gt=0"`
	HighVolFactor      float64 `yaml:"high_volatility_factor" json:"high_volatility_factor" default:"0.5" validate:"gt=0,lte=1"`
	SlippageBuffer     float64 `yaml:"slippage_buffer" json:"slippage_buffer" default:"0.005" validate:"gte=0,lt=1"`
}

func DefaultConstraints() Constraints {
	return Constraints{
		MaxPositionPct:     0.20,
		RiskPerTradePct:    0.02,
		MaxDrawdownPct:     0.10,
		MinATR:             3.5,
		MaxATR:             18.0,
		StopMultiple:       2.0,
		TakeProfitMultiple: 3.0,
		HighVolFactor:      0.5,
		SlippageBuffer:     0.005,
	}
}

// Portfolio is the PortfolioState marked at the snapshot close.
type Portfolio struct {
	Cash             float64 `json:"cash"`
	Shares           int64   `json:"shares"`
	CostBasis        float64 `json:"cost_basis"`
	Equity           float64 `json:"equity"`
	PositionPct      float64 `json:"position_pct"`
	DrawdownPct      float64 `json:"drawdown_pct"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
}

// Packet is what the decision client sees. Build it with a Builder; the close
// history is only reachable through a copying accessor.
type Packet struct {
	Symbol          string             `json:"symbol"`
	Snapshot        indicator.Snapshot `json:"snapshot"`
	Regime          regime.Regime      `json:"regime"`
	Portfolio       Portfolio          `json:"portfolio"`
	Constraints     Constraints        `json:"constraints"`
	DrawdownBlocked bool               `json:"drawdown_blocked"`
	StopPrice       indicator.Value    `json:"stop_price"`
	TakeProfitPrice indicator.Value    `json:"take_profit_price"`

	history []float64
}

func (p Packet) History() []float64 {
	return append([]float64(nil), p.history...)
}

func (p Packet) MarshalJSON() ([]byte, error) {
	type plain Packet
	return json.Marshal(struct {
		plain
		History []float64 `json:"close_history"`
	}{plain: plain(p), History: p.History()})
}

type Builder struct {
	HistoryWindow int
	Constraints   Constraints
}

func (b Builder) Build(symbol string, bars []md.Bar, res indicator.Result, reg regime.Regime, st state.PortfolioState) Packet {
	snap := res.Snapshot
	price := snap.Close

	window := md.NewRingBuffer(b.HistoryWindow)
	window.AddAll(md.Closes(bars))

	equity, _ := st.Equity(price).Float64()
	cash, _ := st.Cash.Float64()
	basis, _ := st.CostBasis.Float64()
	positionValue, _ := st.PositionValue(price).Float64()
	positionPct := 0.0
	if equity > 0 {
		positionPct = positionValue / equity
	}
	drawdown := st.DrawdownPct(price)

	p := Packet{
		Symbol:   symbol,
		Snapshot: snap,
		Regime:   reg,
		Portfolio: Portfolio{
			Cash:             cash,
			Shares:           st.Shares,
			CostBasis:        basis,
			Equity:           equity,
			PositionPct:      positionPct,
			DrawdownPct:      drawdown,
			UnrealizedPnLPct: st.UnrealizedPnLPct(price),
		},
		Constraints:     b.Constraints,
		DrawdownBlocked: drawdown > b.Constraints.MaxDrawdownPct,
		history:         window.Values(),
	}
	if atr, ok := snap.ATR.Float64(); ok {
		p.StopPrice = indicator.Defined(price - b.Constraints.StopMultiple*atr)
		p.TakeProfitPrice = indicator.Defined(price + b.Constraints.TakeProfitMultiple*atr)
	}
	return p
}
