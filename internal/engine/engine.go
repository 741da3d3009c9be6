package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/execution"
	"dailytrader/internal/indicator"
	"dailytrader/internal/md"
	"dailytrader/internal/metrics"
	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
	"dailytrader/internal/retry"
	"dailytrader/internal/risk"
	"dailytrader/internal/sizing"
	"dailytrader/internal/state"
	"dailytrader/internal/strategy"
)

// Executor places sized orders. *execution.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, o execution.Order) (state.TradeRecord, error)
	Recover(ctx context.Context, o execution.Order) (state.TradeRecord, bool, error)
	Holdings(ctx context.Context, symbol string) (state.Holdings, error)
}

// Store is the persistence surface of a run. *state.Store satisfies it.
type Store interface {
	Load() (state.PortfolioState, error)
	Save(st state.PortfolioState) error
	AppendTrade(rec state.TradeRecord) error
	AppendDecision(entry any) error
}

type Options struct {
	Symbol            string
	Indicators        indicator.Params
	Regime            regime.Thresholds
	Constraints       packet.Constraints
	HistoryWindow     int
	MaxQty            int64
	KillSwitch        bool
	DryRun            bool
	IgnoreMarketCheck bool
	FetchRetry        retry.Policy
	CalendarTimeout   time.Duration
	FetchTimeout      time.Duration
	Execution         execution.Config
}

// Deps are the run's collaborators. Executor and Lock are unused in dry runs.
type Deps struct {
	Provider md.Provider
	Calendar md.Calendar
	Strategy strategy.Strategy
	Executor Executor
	Store    Store
	Lock     state.Locker
	Metrics  *metrics.Recorder
	Clock    func() time.Time
}

type Engine struct {
	opts    Options
	deps    Deps
	gate    risk.Gate
	sizer   sizing.Sizer
	builder packet.Builder
}

func New(deps Deps, opts Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Engine{
		opts:    opts,
		deps:    deps,
		gate:    risk.Gate{KillSwitch: opts.KillSwitch},
		sizer:   sizing.Sizer{Constraints: opts.Constraints},
		builder: packet.Builder{HistoryWindow: opts.HistoryWindow, Constraints: opts.Constraints},
	}
}

// run carries the per-invocation values through the stages.
type run struct {
	id      string
	logger  zerolog.Logger
	today   time.Time
	date    string
	st      state.PortfolioState
	report  Report
	entry   DecisionEntry
	started time.Time
}

// Run executes one daily pass. The error is non-nil only when the run had to
// abort: corrupt state, a lock failure or a failed write. Every other failure
// ends in a SKIPPED or HELD report.
func (e *Engine) Run(ctx context.Context, runID string) (Report, error) {
	now := e.deps.Clock()
	today := now.In(md.NewYork)
	r := &run{
		id:      runID,
		logger:  log.With().Str("run_id", runID).Str("symbol", e.opts.Symbol).Logger(),
		today:   today,
		date:    md.DateOf(today),
		started: now,
	}
	r.report = Report{RunID: runID, Symbol: e.opts.Symbol, Date: r.date, DryRun: e.opts.DryRun}
	r.entry = DecisionEntry{RunID: runID, Symbol: e.opts.Symbol, Date: r.date}

	report, err := e.run(ctx, r)
	if err != nil {
		r.logger.Error().Err(err).Msg("run aborted")
		return report, err
	}
	e.deps.Metrics.RecordRun(e.opts.Symbol, string(report.Outcome), report.Reason, e.deps.Clock())
	r.logger.Info().
		Str("outcome", string(report.Outcome)).
		Str("reason", report.Reason).
		Int64("quantity", report.Quantity).
		Bool("dry_run", e.opts.DryRun).
		Msg("run finished")
	return report, nil
}

func (e *Engine) run(ctx context.Context, r *run) (Report, error) {
	if !e.opts.DryRun {
		if err := e.deps.Lock.Acquire(ctx); err != nil {
			if errors.Is(err, state.ErrLocked) {
				r.logger.Warn().Msg("previous run still active")
				r.report.Outcome = OutcomeSkipped
				r.report.Reason = SkipAlreadyRunning
				return r.report, nil
			}
			return r.report, fmt.Errorf("acquire run lock: %w", err)
		}
		defer func() {
			if err := e.deps.Lock.Release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Error().Err(err).Msg("release run lock failed")
			}
		}()
	}

	st, err := e.deps.Store.Load()
	if err != nil {
		return r.report, fmt.Errorf("load state: %w", err)
	}
	r.st = st

	if r.st.Pending != nil && e.opts.DryRun {
		r.logger.Warn().Str("key", r.st.Pending.Key).Msg("pending order left for the next live run")
	} else if r.st.Pending != nil {
		done, err := e.recoverPending(ctx, r)
		if err != nil || done {
			return r.report, err
		}
	}

	if r.st.LastProcessedDate >= r.date {
		r.logger.Info().Str("date", r.date).Str("last_processed", r.st.LastProcessedDate).Msg("trading date already processed")
		return e.skip(r, StageLoadState, SkipAlreadyProcessed, nil)
	}

	if !e.opts.IgnoreMarketCheck {
		start := time.Now()
		open, err := e.marketOpen(ctx, r.today)
		e.deps.Metrics.ObserveStage(string(StageCheckMarketOpen), start)
		if err != nil {
			r.logger.Error().Err(err).Msg("market calendar unavailable")
			return e.skip(r, StageCheckMarketOpen, SkipCalendarUnavailable, err)
		}
		if !open {
			r.logger.Info().Str("date", r.date).Msg("market closed")
			return e.skip(r, StageCheckMarketOpen, SkipMarketClosed, nil)
		}
	}

	start := time.Now()
	bars, err := e.fetch(ctx)
	e.deps.Metrics.ObserveStage(string(StageFetchData), start)
	if err != nil {
		r.logger.Error().Err(err).Msg("fetch bars failed")
		return e.skip(r, StageFetchData, SkipFetchFailed, err)
	}

	if err := e.checkFreshness(ctx, bars, r.today); err != nil {
		var stale *md.StaleDataError
		switch {
		case errors.As(err, &stale):
			r.logger.Warn().Str("latest", stale.Latest).Str("expected", stale.Expected).Msg("stale market data")
			return e.skip(r, StageValidateFresh, SkipStaleData, err)
		case errors.Is(err, md.ErrNoBars):
			return e.skip(r, StageValidateFresh, SkipFetchFailed, err)
		default:
			r.logger.Error().Err(err).Msg("freshness check failed")
			return e.skip(r, StageValidateFresh, SkipCalendarUnavailable, err)
		}
	}

	if len(bars) < e.minBars() {
		r.logger.Warn().Int("bars", len(bars)).Int("required", e.minBars()).Msg("not enough history")
		return e.skip(r, StageComputeIndicator, SkipInsufficientData, nil)
	}
	res, err := indicator.Compute(bars, e.opts.Indicators)
	if err != nil {
		return e.skip(r, StageComputeIndicator, SkipInsufficientData, err)
	}
	snap := res.Snapshot
	reg := regime.Classify(res.ATRSeries, snap, e.opts.Regime)
	r.entry.Snapshot = &snap
	r.entry.Regime = &reg

	pkt := e.builder.Build(e.opts.Symbol, bars, res, reg, r.st)

	start = time.Now()
	decision := e.deps.Strategy.Decide(ctx, pkt)
	if p := decision.Probability; p != nil && (math.IsNaN(*p) || math.IsInf(*p, 0)) {
		decision.Probability = nil
	}
	e.deps.Metrics.ObserveStage(string(StageGetDecision), start)
	e.deps.Metrics.RecordDecision(e.opts.Symbol, string(decision.Action), decision.Source)
	r.report.Decision = &decision
	r.entry.Decision = &decision
	r.logger.Info().
		Str("action", string(decision.Action)).
		Str("confidence", string(decision.Confidence)).
		Str("source", decision.Source).
		Str("reason", decision.Reason).
		Msg("decision received")

	result := e.gate.Evaluate(decision, r.st, snap, e.opts.Constraints)
	r.report.Guardrail = &result
	r.entry.Guardrail = &result

	switch {
	case !result.Approved:
		e.deps.Metrics.RecordBlock(e.opts.Symbol, string(result.Reason))
		rec := state.TradeRecord{
			Timestamp: e.deps.Clock().UTC(),
			Date:      r.date,
			Symbol:    e.opts.Symbol,
			Action:    string(decision.Action),
			FillPrice: decimal.Zero,
			Outcome:   state.OutcomeBlocked,
			Reason:    string(result.Reason),
			OrderKey:  execution.OrderKey(e.opts.Symbol, r.date, sideOf(decision.Action)),
		}
		return e.finish(r, snap.Close, OutcomeBlocked, string(result.Reason), &rec)
	case result.Action == strategy.Hold:
		return e.finish(r, snap.Close, OutcomeHeld, decision.Reason, nil)
	}

	qty := e.sizer.Size(decision, r.st, snap, reg)
	if e.opts.MaxQty > 0 && qty > e.opts.MaxQty {
		qty = e.opts.MaxQty
	}
	r.report.Quantity = qty
	r.entry.Quantity = qty
	if qty <= 0 {
		r.logger.Info().Str("action", string(result.Action)).Msg("sized to zero shares")
		return e.finish(r, snap.Close, OutcomeHeld, HeldSizeZero, nil)
	}

	return e.execute(ctx, r, execution.Order{
		Symbol:         e.opts.Symbol,
		Date:           r.date,
		Side:           sideOf(result.Action),
		Quantity:       qty,
		ReferencePrice: snap.Close,
	})
}

func (e *Engine) execute(ctx context.Context, r *run, order execution.Order) (Report, error) {
	executor := e.deps.Executor
	if e.opts.DryRun {
		sim := broker.NewSimulated(decimal.NewFromFloat(order.ReferencePrice), r.st.Cash, r.st.Shares)
		executor = execution.New(sim, e.opts.Execution)
	} else {
		r.st.Pending = &state.PendingOrder{
			Key:          execution.OrderKey(order.Symbol, order.Date, order.Side),
			Date:         order.Date,
			Side:         order.Side,
			Quantity:     order.Quantity,
			ReferencePx:  decimal.NewFromFloat(order.ReferencePrice),
			RegisteredAt: e.deps.Clock().UTC(),
		}
		if err := e.deps.Store.Save(r.st); err != nil {
			return r.report, fmt.Errorf("save pending order: %w", err)
		}
	}

	start := time.Now()
	rec, err := executor.Execute(ctx, order)
	e.deps.Metrics.ObserveStage(string(StageMaybeExecute), start)
	e.deps.Metrics.RecordOrder(order.Symbol, string(order.Side), string(rec.Outcome))
	r.entry.OrderKey = rec.OrderKey
	r.entry.OrderID = rec.OrderID
	r.entry.Trade = rec.Outcome
	if err != nil {
		r.entry.Error = err.Error()
	}

	if rec.Outcome != state.OutcomeExecuted {
		var execErr *execution.ExecutionError
		if errors.As(err, &execErr) && execErr.Unresolved() && !e.opts.DryRun {
			r.logger.Warn().Str("key", rec.OrderKey).Str("stage", execErr.Stage).Msg("order state unknown, keeping pending intent")
		} else {
			r.st.Pending = nil
		}
		return e.finish(r, order.ReferencePrice, OutcomeHeld, HeldExecutionFailed, &rec)
	}
	if err := e.book(ctx, r, executor, order.Side, &rec); err != nil {
		return r.report, err
	}
	r.st.Pending = nil
	price, _ := rec.FillPrice.Float64()
	return e.finish(r, price, OutcomeTraded, rec.Reason, &rec)
}

// book applies a broker-confirmed fill. A fill the local book cannot absorb,
// such as a buy that gapped above the cash on hand, is reconciled against the
// broker's holdings instead of being refused.
func (e *Engine) book(ctx context.Context, r *run, executor Executor, side state.Side, rec *state.TradeRecord) error {
	err := r.st.ApplyFill(side, rec.Quantity, rec.FillPrice)
	if err == nil {
		return nil
	}
	if !errors.Is(err, state.ErrNegativeCash) && !errors.Is(err, state.ErrNegativeShares) {
		return fmt.Errorf("apply fill %s: %w", rec.OrderKey, err)
	}
	r.logger.Warn().Err(err).Str("key", rec.OrderKey).Msg("fill does not fit the book, reconciling with broker")

	holdingsCtx := context.WithoutCancel(ctx)
	if timeout := e.opts.Execution.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		holdingsCtx, cancel = context.WithTimeout(holdingsCtx, timeout)
		defer cancel()
	}
	holdings, herr := executor.Holdings(holdingsCtx, e.opts.Symbol)
	if herr != nil {
		return fmt.Errorf("reconcile fill %s: %w", rec.OrderKey, errors.Join(err, herr))
	}
	r.st.Reconcile(side, rec.Quantity, rec.FillPrice, holdings)
	rec.Reason = state.ReasonReconciled
	r.logger.Info().
		Str("key", rec.OrderKey).
		Int64("shares", r.st.Shares).
		Str("cash", r.st.Cash.String()).
		Msg("book reconciled with broker")
	return nil
}

// recoverPending settles an order intent left by a run that stopped before
// persisting. It reports done when the intent was for today's date.
func (e *Engine) recoverPending(ctx context.Context, r *run) (bool, error) {
	p := *r.st.Pending
	r.logger.Warn().Str("key", p.Key).Str("date", p.Date).Msg("recovering pending order")
	refPrice, _ := p.ReferencePx.Float64()
	order := execution.Order{
		Symbol:         e.opts.Symbol,
		Date:           p.Date,
		Side:           p.Side,
		Quantity:       p.Quantity,
		ReferencePrice: refPrice,
	}

	start := time.Now()
	rec, found, err := e.deps.Executor.Recover(ctx, order)
	e.deps.Metrics.ObserveStage(string(StageRecover), start)
	var execErr *execution.ExecutionError
	if err != nil && errors.As(err, &execErr) && execErr.Unresolved() {
		return false, fmt.Errorf("recover pending order %s: %w", p.Key, err)
	}

	r.st.Pending = nil
	if !found {
		r.logger.Info().Str("key", p.Key).Msg("pending order was never submitted")
		if err := e.deps.Store.Save(r.st); err != nil {
			return false, fmt.Errorf("clear pending order: %w", err)
		}
		return false, nil
	}

	if rec.Outcome == state.OutcomeExecuted {
		if err := e.book(ctx, r, e.deps.Executor, p.Side, &rec); err != nil {
			return false, err
		}
		price, _ := rec.FillPrice.Float64()
		r.st.MarkToMarket(price)
	}
	if p.Date == r.date {
		r.st.LastProcessedDate = p.Date
	}
	r.st.UpdatedAt = e.deps.Clock().UTC()

	if err := e.deps.Store.AppendTrade(rec); err != nil {
		return false, fmt.Errorf("append recovered trade: %w", err)
	}
	if err := e.deps.Store.Save(r.st); err != nil {
		return false, fmt.Errorf("save recovered state: %w", err)
	}
	r.logger.Info().Str("key", p.Key).Str("outcome", string(rec.Outcome)).Int64("filled", rec.Quantity).Msg("pending order recovered")

	if p.Date != r.date {
		return false, nil
	}

	outcome := OutcomeTraded
	reason := ""
	if rec.Outcome != state.OutcomeExecuted {
		outcome = OutcomeHeld
		reason = HeldExecutionFailed
	}
	r.report.Outcome = outcome
	r.report.Reason = reason
	r.report.Recovered = true
	r.report.Quantity = rec.Quantity
	r.report.Trade = &rec
	r.report.State = r.st

	r.entry.Timestamp = e.deps.Clock().UTC()
	r.entry.Stage = StageRecover
	r.entry.Outcome = outcome
	r.entry.Reason = reason
	r.entry.Quantity = rec.Quantity
	r.entry.OrderKey = rec.OrderKey
	r.entry.OrderID = rec.OrderID
	r.entry.Trade = rec.Outcome
	r.entry.Recovered = true
	if err := e.deps.Store.AppendDecision(r.entry); err != nil {
		return true, fmt.Errorf("append decision: %w", err)
	}
	return true, nil
}

// finish persists a run that reached GetDecision: trade record, then state,
// then the decision entry.
func (e *Engine) finish(r *run, price float64, outcome Outcome, reason string, rec *state.TradeRecord) (Report, error) {
	r.st.MarkToMarket(price)
	r.st.LastProcessedDate = r.date
	r.st.UpdatedAt = e.deps.Clock().UTC()

	r.report.Outcome = outcome
	r.report.Reason = reason
	r.report.Trade = rec
	r.report.State = r.st
	r.report.Quantity = 0
	if rec != nil && rec.Outcome == state.OutcomeExecuted {
		r.report.Quantity = rec.Quantity
	}

	r.entry.Timestamp = e.deps.Clock().UTC()
	r.entry.Stage = StagePersistState
	r.entry.Outcome = outcome
	r.entry.Reason = reason

	equity, _ := r.st.Equity(price).Float64()
	cash, _ := r.st.Cash.Float64()
	e.deps.Metrics.RecordPortfolio(e.opts.Symbol, equity, cash, r.st.Shares, r.st.DrawdownPct(price))

	if e.opts.DryRun {
		r.logger.Info().Str("outcome", string(outcome)).Msg("dry run, nothing persisted")
		return r.report, nil
	}

	start := time.Now()
	defer e.deps.Metrics.ObserveStage(string(StagePersistState), start)
	if rec != nil {
		if err := e.deps.Store.AppendTrade(*rec); err != nil {
			return r.report, fmt.Errorf("append trade: %w", err)
		}
	}
	if err := e.deps.Store.Save(r.st); err != nil {
		return r.report, fmt.Errorf("save state: %w", err)
	}
	if err := e.deps.Store.AppendDecision(r.entry); err != nil {
		return r.report, fmt.Errorf("append decision: %w", err)
	}
	return r.report, nil
}

// skip ends a run before GetDecision. State is left untouched.
func (e *Engine) skip(r *run, stage Stage, reason string, cause error) (Report, error) {
	r.report.Outcome = OutcomeSkipped
	r.report.Reason = reason
	r.report.State = r.st

	if e.opts.DryRun {
		return r.report, nil
	}
	r.entry.Timestamp = e.deps.Clock().UTC()
	r.entry.Stage = stage
	r.entry.Outcome = OutcomeSkipped
	r.entry.Reason = reason
	if cause != nil {
		r.entry.Error = cause.Error()
	}
	if err := e.deps.Store.AppendDecision(r.entry); err != nil {
		return r.report, fmt.Errorf("append decision: %w", err)
	}
	return r.report, nil
}

func (e *Engine) marketOpen(ctx context.Context, today time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CalendarTimeout)
	defer cancel()
	return e.deps.Calendar.IsTradingDay(ctx, today)
}

func (e *Engine) checkFreshness(ctx context.Context, bars []md.Bar, today time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CalendarTimeout)
	defer cancel()
	return md.CheckFreshness(ctx, e.deps.Calendar, bars, today)
}

func (e *Engine) fetch(ctx context.Context) ([]md.Bar, error) {
	var bars []md.Bar
	err := e.opts.FetchRetry.Do(ctx, "fetch bars", func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()
		got, err := e.deps.Provider.Bars(callCtx, e.opts.Symbol, e.lookback())
		if err != nil {
			return err
		}
		bars = got
		return nil
	})
	return bars, err
}

// lookback covers the slowest indicator plus the trailing ATR window used by
// the regime, and the packet's close history.
func (e *Engine) lookback() int {
	n := e.opts.Indicators.Lookback() + e.opts.Regime.TrailingWindow
	if e.opts.HistoryWindow > n {
		n = e.opts.HistoryWindow
	}
	return n
}

// minBars is the shortest history from which RSI and ATR are both defined.
func (e *Engine) minBars() int {
	n := e.opts.Indicators.RSIPeriod
	if e.opts.Indicators.ATRPeriod > n {
		n = e.opts.Indicators.ATRPeriod
	}
	return n + 1
}

func sideOf(action strategy.Action) state.Side {
	if action == strategy.Sell {
		return state.SideSell
	}
	return state.SideBuy
}
