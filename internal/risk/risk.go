package risk

import (
	"github.com/rs/zerolog/log"

	"dailytrader/internal/indicator"
	"dailytrader/internal/packet"
	"dailytrader/internal/sizing"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonKillSwitch       Reason = "KILL_SWITCH"
	ReasonDrawdown         Reason = "DRAWDOWN_BLOCK"
	ReasonMaxPosition      Reason = "MAX_POSITION"
	ReasonMinATR           Reason = "MIN_ATR"
	ReasonMaxATR           Reason = "MAX_ATR"
	ReasonInsufficientCash Reason = "INSUFFICIENT_CASH"
	ReasonNoPosition       Reason = "NO_POSITION"
)

// Result carries the adjusted action. A blocked trade becomes HOLD; HOLD is
// never changed.
type Result struct {
	Approved bool            `json:"approved"`
	Reason   Reason          `json:"reason,omitempty"`
	Action   strategy.Action `json:"action"`
}

type Gate struct {
	KillSwitch bool
}

// Evaluate runs the checks in priority order and stops at the first failure.
func (g Gate) Evaluate(decision strategy.Decision, portfolio state.PortfolioState, market indicator.Snapshot, c packet.Constraints) Result {
	if decision.Action != strategy.Buy && decision.Action != strategy.Sell {
		return Result{Approved: true, Action: strategy.Hold}
	}

	price := market.Close
	log.Info().
		Str("intent", string(decision.Action)).
		Int64("position", portfolio.Shares).
		Float64("price", price).
		Str("atr", market.ATR.String()).
		Msg("risk evaluation")

	if reason := g.check(decision.Action, portfolio, market, c); reason != ReasonNone {
		log.Info().Str("reason", string(reason)).Str("intent", string(decision.Action)).Msg("risk rejected")
		return Result{Approved: false, Reason: reason, Action: strategy.Hold}
	}

	log.Info().Str("intent", string(decision.Action)).Msg("risk approved")
	return Result{Approved: true, Action: decision.Action}
}

func (g Gate) check(action strategy.Action, portfolio state.PortfolioState, market indicator.Snapshot, c packet.Constraints) Reason {
	price := market.Close
	buying := action == strategy.Buy

	if g.KillSwitch {
		return ReasonKillSwitch
	}
	if buying && portfolio.DrawdownPct(price) > c.MaxDrawdownPct {
		return ReasonDrawdown
	}
	if buying {
		equity, _ := portfolio.Equity(price).Float64()
		positionValue, _ := portfolio.PositionValue(price).Float64()
		if positionValue+price > equity*c.MaxPositionPct {
			return ReasonMaxPosition
		}
	}
	atr, ok := market.ATR.Float64()
	if !ok || atr < c.MinATR {
		return ReasonMinATR
	}
	if atr > c.MaxATR {
		return ReasonMaxATR
	}
	if buying {
		cash, _ := portfolio.Cash.Float64()
		if sizing.Affordable(cash, price, c.SlippageBuffer) == 0 {
			return ReasonInsufficientCash
		}
	}
	if action == strategy.Sell && portfolio.Shares <= 0 {
		return ReasonNoPosition
	}
	return ReasonNone
}
