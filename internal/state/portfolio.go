package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SchemaVersion is bumped whenever PortfolioState changes shape.
const SchemaVersion = 1

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

var (
	ErrNegativeCash   = errors.New("fill would make cash negative")
	ErrNegativeShares = errors.New("fill would make shares negative")
)

// PendingOrder is written before an order is submitted so that a crash
// between submission and persistence can be reconciled on the next run.
type PendingOrder struct {
	Key          string          `json:"key"`
	Date         string          `json:"date"`
	Side         Side            `json:"side"`
	Quantity     int64           `json:"quantity"`
	ReferencePx  decimal.Decimal `json:"reference_price"`
	RegisteredAt time.Time       `json:"registered_at"`
}

type PortfolioState struct {
	SchemaVersion     int             `json:"schema_version"`
	Cash              decimal.Decimal `json:"cash"`
	Shares            int64           `json:"shares"`
	CostBasis         decimal.Decimal `json:"cost_basis"`
	PeakEquity        decimal.Decimal `json:"peak_equity"`
	InitialCapital    decimal.Decimal `json:"initial_capital"`
	LastProcessedDate string          `json:"last_processed_date,omitempty"`
	Pending           *PendingOrder   `json:"pending_order,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewPortfolio is the state used before the first save.
func NewPortfolio(initialCapital decimal.Decimal) PortfolioState {
	return PortfolioState{
		SchemaVersion:  SchemaVersion,
		Cash:           initialCapital,
		CostBasis:      decimal.Zero,
		PeakEquity:     initialCapital,
		InitialCapital: initialCapital,
	}
}

func (p PortfolioState) Validate() error {
	if p.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", p.SchemaVersion)
	}
	if p.Cash.IsNegative() {
		return fmt.Errorf("cash is negative: %s", p.Cash)
	}
	if p.Shares < 0 {
		return fmt.Errorf("shares is negative: %d", p.Shares)
	}
	if p.CostBasis.IsNegative() {
		return fmt.Errorf("cost basis is negative: %s", p.CostBasis)
	}
	if p.PeakEquity.IsNegative() {
		return fmt.Errorf("peak equity is negative: %s", p.PeakEquity)
	}
	if !p.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive: %s", p.InitialCapital)
	}
	if p.LastProcessedDate != "" {
		if _, err := time.Parse("2006-01-02", p.LastProcessedDate); err != nil {
			return fmt.Errorf("last processed date: %w", err)
		}
	}
	if p.Pending != nil {
		if p.Pending.Key == "" || p.Pending.Quantity <= 0 {
			return fmt.Errorf("pending order is incomplete")
		}
		if p.Pending.Side != SideBuy && p.Pending.Side != SideSell {
			return fmt.Errorf("pending order side %q", p.Pending.Side)
		}
	}
	return nil
}

func (p PortfolioState) PositionValue(price float64) decimal.Decimal {
	return decimal.NewFromInt(p.Shares).Mul(decimal.NewFromFloat(price))
}

func (p PortfolioState) Equity(price float64) decimal.Decimal {
	return p.Cash.Add(p.PositionValue(price))
}

// DrawdownPct is the decline of current equity from the high-water mark, as
// a fraction. The mark includes current equity so it is never negative.
func (p PortfolioState) DrawdownPct(price float64) float64 {
	equity := p.Equity(price)
	peak := decimal.Max(p.PeakEquity, equity)
	if !peak.IsPositive() {
		return 0
	}
	dd, _ := peak.Sub(equity).Div(peak).Float64()
	return dd
}

// UnrealizedPnLPct is the open gain as a fraction of the position's market
// value.
func (p PortfolioState) UnrealizedPnLPct(price float64) float64 {
	if p.Shares == 0 || price <= 0 {
		return 0
	}
	px := decimal.NewFromFloat(price)
	pnl, _ := px.Sub(p.CostBasis).Div(px).Float64()
	return pnl
}

// ApplyFill books a broker-confirmed fill. It refuses fills that would break
// the non-negative cash and share invariants and leaves p untouched then.
func (p *PortfolioState) ApplyFill(side Side, qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return nil
	}
	q := decimal.NewFromInt(qty)
	notional := q.Mul(price)
	switch side {
	case SideBuy:
		cash := p.Cash.Sub(notional)
		if cash.IsNegative() {
			return fmt.Errorf("%w: cash %s, notional %s", ErrNegativeCash, p.Cash, notional)
		}
		held := decimal.NewFromInt(p.Shares)
		total := held.Add(q)
		p.CostBasis = p.CostBasis.Mul(held).Add(notional).Div(total).Round(6)
		p.Cash = cash
		p.Shares += qty
	case SideSell:
		if qty > p.Shares {
			return fmt.Errorf("%w: held %d, sell %d", ErrNegativeShares, p.Shares, qty)
		}
		p.Cash = p.Cash.Add(notional)
		p.Shares -= qty
		if p.Shares == 0 {
			p.CostBasis = decimal.Zero
		}
	default:
		return fmt.Errorf("unknown side %q", side)
	}
	return nil
}

// Holdings is the broker's view of the position and account cash.
type Holdings struct {
	Shares   int64
	AvgEntry decimal.Decimal
	Cash     decimal.Decimal
}

// Reconcile books a broker-confirmed fill that ApplyFill refused. Shares and
// cost basis are taken from the broker. Cash is the local balance after the
// fill, capped by the broker's cash and floored at zero.
func (p *PortfolioState) Reconcile(side Side, qty int64, price decimal.Decimal, h Holdings) {
	notional := decimal.NewFromInt(qty).Mul(price)
	cash := p.Cash.Add(notional)
	if side == SideBuy {
		cash = p.Cash.Sub(notional)
	}
	if cash.GreaterThan(h.Cash) {
		cash = h.Cash
	}
	if cash.IsNegative() {
		cash = decimal.Zero
	}
	p.Cash = cash

	p.Shares = h.Shares
	p.CostBasis = h.AvgEntry
	if p.Shares <= 0 || p.CostBasis.IsNegative() {
		p.Shares = max(p.Shares, 0)
		p.CostBasis = decimal.Zero
	}
}

// MarkToMarket raises the high-water mark when equity at price exceeds it.
func (p *PortfolioState) MarkToMarket(price float64) {
	if equity := p.Equity(price); equity.GreaterThan(p.PeakEquity) {
		p.PeakEquity = equity
	}
}
