package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"dailytrader/internal/indicator"
	"dailytrader/internal/packet"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

func market(price, atr float64) indicator.Snapshot {
	return indicator.Snapshot{Close: price, ATR: indicator.Defined(atr)}
}

func freshPortfolio() state.PortfolioState {
	return state.NewPortfolio(decimal.NewFromInt(10000))
}

func buy() strategy.Decision  { return strategy.Decision{Action: strategy.Buy} }
func sell() strategy.Decision { return strategy.Decision{Action: strategy.Sell} }

func TestGateApprovesValidBuy(t *testing.T) {
	res := Gate{}.Evaluate(buy(), freshPortfolio(), market(100, 5), packet.DefaultConstraints())
	if !res.Approved || res.Action != strategy.Buy || res.Reason != ReasonNone {
		t.Fatalf("expected approval, got %+v", res)
	}
}

func TestGateDrawdownWinsOverMaxPosition(t *testing.T) {
	st := freshPortfolio()
	st.Cash = decimal.NewFromInt(1000)
	st.Shares = 80
	st.CostBasis = decimal.NewFromInt(100)
	st.PeakEquity = decimal.NewFromInt(20000)
	// equity 1000 + 8000 = 9000: drawdown 55% and position 89% of equity
	res := Gate{}.Evaluate(buy(), st, market(100, 5), packet.DefaultConstraints())
	if res.Approved || res.Reason != ReasonDrawdown {
		t.Fatalf("expected DRAWDOWN_BLOCK, got %+v", res)
	}
	if res.Action != strategy.Hold {
		t.Fatalf("blocked action must be HOLD, got %s", res.Action)
	}
}

func TestGateRejectsMaxPosition(t *testing.T) {
	st := freshPortfolio()
	st.Cash = decimal.NewFromInt(8000)
	st.Shares = 20
	st.CostBasis = decimal.NewFromInt(100)
	// position 2000 of equity 10000: one more share exceeds 20%
	res := Gate{}.Evaluate(buy(), st, market(100, 5), packet.DefaultConstraints())
	if res.Reason != ReasonMaxPosition {
		t.Fatalf("expected MAX_POSITION, got %+v", res)
	}
}

func TestGateATRBounds(t *testing.T) {
	c := packet.DefaultConstraints()
	if res := (Gate{}).Evaluate(buy(), freshPortfolio(), market(100, 1), c); res.Reason != ReasonMinATR {
		t.Fatalf("expected MIN_ATR, got %+v", res)
	}
	if res := (Gate{}).Evaluate(buy(), freshPortfolio(), market(100, 25), c); res.Reason != ReasonMaxATR {
		t.Fatalf("expected MAX_ATR, got %+v", res)
	}
	undefined := indicator.Snapshot{Close: 100}
	if res := (Gate{}).Evaluate(buy(), freshPortfolio(), undefined, c); res.Reason != ReasonMinATR {
		t.Fatalf("undefined ATR should block as MIN_ATR, got %+v", res)
	}
}

func TestGateInsufficientCash(t *testing.T) {
	st := freshPortfolio()
	st.Cash = decimal.NewFromInt(50)
	st.InitialCapital = decimal.NewFromInt(50)
	st.PeakEquity = decimal.NewFromInt(50)
	c := packet.DefaultConstraints()
	c.MaxPositionPct = 1
	res := Gate{}.Evaluate(buy(), st, market(49.9, 5), c)
	if res.Reason != ReasonInsufficientCash {
		t.Fatalf("expected INSUFFICIENT_CASH, got %+v", res)
	}
}

func TestGateSellBypassesBuyOnlyChecks(t *testing.T) {
	st := freshPortfolio()
	st.Cash = decimal.Zero
	st.Shares = 100
	st.CostBasis = decimal.NewFromInt(100)
	st.PeakEquity = decimal.NewFromInt(50000)
	res := Gate{}.Evaluate(sell(), st, market(100, 5), packet.DefaultConstraints())
	if !res.Approved || res.Action != strategy.Sell {
		t.Fatalf("expected SELL approval during drawdown, got %+v", res)
	}
}

func TestGateSellStillSubjectToATR(t *testing.T) {
	st := freshPortfolio()
	st.Shares = 10
	res := Gate{}.Evaluate(sell(), st, market(100, 30), packet.DefaultConstraints())
	if res.Reason != ReasonMaxATR {
		t.Fatalf("expected MAX_ATR, got %+v", res)
	}
}

func TestGateSellWithoutPosition(t *testing.T) {
	res := Gate{}.Evaluate(sell(), freshPortfolio(), market(100, 5), packet.DefaultConstraints())
	if res.Reason != ReasonNoPosition {
		t.Fatalf("expected NO_POSITION, got %+v", res)
	}
}

func TestGateNeverUpgradesHold(t *testing.T) {
	hold := strategy.Decision{Action: strategy.Hold}
	res := Gate{KillSwitch: true}.Evaluate(hold, freshPortfolio(), market(100, 5), packet.DefaultConstraints())
	if !res.Approved || res.Action != strategy.Hold || res.Reason != ReasonNone {
		t.Fatalf("HOLD must pass through unchanged, got %+v", res)
	}
}

func TestGateKillSwitch(t *testing.T) {
	res := Gate{KillSwitch: true}.Evaluate(buy(), freshPortfolio(), market(100, 5), packet.DefaultConstraints())
	if res.Reason != ReasonKillSwitch {
		t.Fatalf("expected KILL_SWITCH, got %+v", res)
	}
}
