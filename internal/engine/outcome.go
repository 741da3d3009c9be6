package engine

import (
	"time"

	"dailytrader/internal/indicator"
	"dailytrader/internal/regime"
	"dailytrader/internal/risk"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

type Outcome string

const (
	OutcomeTraded  Outcome = "TRADED"
	OutcomeBlocked Outcome = "BLOCKED"
	OutcomeHeld    Outcome = "HELD"
	OutcomeSkipped Outcome = "SKIPPED"
)

const (
	SkipAlreadyRunning      = "already-running"
	SkipAlreadyProcessed    = "already-processed"
	SkipMarketClosed        = "market-closed"
	SkipCalendarUnavailable = "calendar-unavailable"
	SkipFetchFailed         = "fetch-failed"
	SkipStaleData           = "stale-data"
	SkipInsufficientData    = "insufficient-data"
)

// Reasons for HELD runs that carried a BUY or SELL past the guardrails.
const (
	HeldSizeZero        = "SIZE_ZERO"
	HeldExecutionFailed = "EXECUTION_FAILED"
)

type Stage string

const (
	StageLoadState        Stage = "load_state"
	StageRecover          Stage = "recover"
	StageCheckMarketOpen  Stage = "check_market_open"
	StageFetchData        Stage = "fetch_data"
	StageValidateFresh    Stage = "validate_freshness"
	StageComputeIndicator Stage = "compute_indicators"
	StageGetDecision      Stage = "get_decision"
	StageMaybeExecute     Stage = "maybe_execute"
	StagePersistState     Stage = "persist_state"
)

// Report summarises one run for the caller.
type Report struct {
	RunID     string
	Symbol    string
	Date      string
	Outcome   Outcome
	Reason    string
	Decision  *strategy.Decision
	Guardrail *risk.Result
	Quantity  int64
	Trade     *state.TradeRecord
	Recovered bool
	DryRun    bool
	State     state.PortfolioState
}

// DecisionEntry is one line of the decision log. Every run that holds the
// lock writes exactly one, dry runs excepted.
type DecisionEntry struct {
	RunID     string              `json:"run_id"`
	Timestamp time.Time           `json:"timestamp"`
	Date      string              `json:"date"`
	Symbol    string              `json:"symbol"`
	Stage     Stage               `json:"stage"`
	Outcome   Outcome             `json:"outcome"`
	Reason    string              `json:"reason,omitempty"`
	Error     string              `json:"error,omitempty"`
	Snapshot  *indicator.Snapshot `json:"snapshot,omitempty"`
	Regime    *regime.Regime      `json:"regime,omitempty"`
	Decision  *strategy.Decision  `json:"decision,omitempty"`
	Guardrail *risk.Result        `json:"guardrail,omitempty"`
	Quantity  int64               `json:"quantity,omitempty"`
	OrderKey  string              `json:"order_key,omitempty"`
	OrderID   string              `json:"order_id,omitempty"`
	Trade     state.Outcome       `json:"trade_outcome,omitempty"`
	Recovered bool                `json:"recovered,omitempty"`
}
