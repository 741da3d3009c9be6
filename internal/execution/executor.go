package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/state"
)

const (
	StatusFilled          = "filled"
	StatusPartiallyFilled = "partially_filled"
	StatusCanceled        = "canceled"
	StatusExpired         = "expired"
	StatusRejected        = "rejected"
)

var terminal = map[string]bool{
	StatusFilled:          true,
	StatusPartiallyFilled: true,
	StatusCanceled:        true,
	StatusExpired:         true,
	StatusRejected:        true,
}

// Terminal reports whether the broker will not fill any more of the order.
func Terminal(status string) bool {
	return terminal[status]
}

// Stages at which an execution can fail.
const (
	StageLookup = "lookup"
	StageSubmit = "submit"
	StageBuild  = "build"
	StageFill   = "fill"
	StageOpen   = "open"
)

type ExecutionError struct {
	Key   string
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Unresolved reports whether the broker may still hold a live order for the
// key, so the failure must be settled by a later Recover.
func (e *ExecutionError) Unresolved() bool {
	switch e.Stage {
	case StageLookup, StageSubmit, StageOpen:
		return true
	}
	return false
}

type Config struct {
	PollInterval   time.Duration `yaml:"poll_interval" default:"2s" validate:"gt=0"`
	Timeout        time.Duration `yaml:"timeout" default:"60s" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"15s" validate:"gt=0"`
	OrderType      string        `yaml:"order_type" default:"market" validate:"oneof=market limit"`
	LimitBuffer    float64       `yaml:"limit_buffer" default:"0.002" validate:"gte=0,lt=0.1"`
}

// Order is an approved, sized trade for one trading date.
type Order struct {
	Symbol         string
	Date           string
	Side           state.Side
	Quantity       int64
	ReferencePrice float64
}

// OrderKey is the idempotency key for a symbol, trading date and side. It is
// sent as the broker's client order id.
func OrderKey(symbol, date string, side state.Side) string {
	return fmt.Sprintf("%s-%s-%s", symbol, strings.ReplaceAll(date, "-", ""), side)
}

type Executor struct {
	broker broker.Broker
	cfg    Config
	now    func() time.Time
}

func New(b broker.Broker, cfg Config) *Executor {
	return &Executor{broker: b, cfg: cfg, now: time.Now}
}

// Execute submits o at most once per key and waits for a final fill. The
// returned record is EXECUTED when anything filled and FAILED otherwise; a
// FAILED record comes with an *ExecutionError.
func (e *Executor) Execute(ctx context.Context, o Order) (state.TradeRecord, error) {
	key := OrderKey(o.Symbol, o.Date, o.Side)
	record := state.TradeRecord{
		Date:         o.Date,
		Symbol:       o.Symbol,
		Action:       string(o.Side),
		RequestedQty: o.Quantity,
		OrderKey:     key,
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	existing, err := e.broker.OrderByClientID(lookupCtx, key)
	cancel()
	switch {
	case err == nil:
		log.Info().Str("key", key).Str("order_id", existing.ID).Str("status", existing.Status).Msg("order already submitted")
		return e.settle(ctx, record, existing)
	case !errors.Is(err, broker.ErrOrderNotFound):
		return e.fail(record, StageLookup, err)
	}

	if o.Quantity <= 0 {
		return e.fail(record, StageBuild, fmt.Errorf("quantity %d", o.Quantity))
	}

	req, err := e.buildOrder(o, key)
	if err != nil {
		return e.fail(record, StageBuild, err)
	}
	submitCtx, cancel := e.detached(ctx, e.cfg.RequestTimeout)
	placed, err := e.broker.PlaceOrder(submitCtx, req)
	cancel()
	if err != nil {
		// The request may have reached the broker before the error.
		lookupCtx, cancel := e.detached(ctx, e.cfg.RequestTimeout)
		found, lookupErr := e.broker.OrderByClientID(lookupCtx, key)
		cancel()
		if lookupErr != nil {
			return e.fail(record, StageSubmit, errors.Join(err, lookupErr))
		}
		placed = found
	}
	return e.settle(ctx, record, placed)
}

// Recover settles an order that may or may not have been submitted by an
// earlier run. It never submits.
func (e *Executor) Recover(ctx context.Context, o Order) (state.TradeRecord, bool, error) {
	key := OrderKey(o.Symbol, o.Date, o.Side)
	record := state.TradeRecord{
		Date:         o.Date,
		Symbol:       o.Symbol,
		Action:       string(o.Side),
		RequestedQty: o.Quantity,
		OrderKey:     key,
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	existing, err := e.broker.OrderByClientID(lookupCtx, key)
	cancel()
	if errors.Is(err, broker.ErrOrderNotFound) {
		return state.TradeRecord{}, false, nil
	}
	if err != nil {
		rec, err := e.fail(record, StageLookup, err)
		return rec, true, err
	}
	rec, err := e.settle(ctx, record, existing)
	return rec, true, err
}

// Holdings reads the broker's position in symbol and the account cash. It is
// the reference when a confirmed fill does not fit the local book.
func (e *Executor) Holdings(ctx context.Context, symbol string) (state.Holdings, error) {
	reqCtx, cancel := e.detached(ctx, e.cfg.RequestTimeout)
	defer cancel()

	pos, err := e.broker.Position(reqCtx, symbol)
	if err != nil {
		return state.Holdings{}, fmt.Errorf("position %s: %w", symbol, err)
	}
	acct, err := e.broker.Account(reqCtx)
	if err != nil {
		return state.Holdings{}, fmt.Errorf("account: %w", err)
	}
	return state.Holdings{Shares: pos.Qty, AvgEntry: pos.AvgEntry, Cash: acct.Cash}, nil
}

func (e *Executor) buildOrder(o Order, key string) (broker.OrderRequest, error) {
	side := alpaca.Buy
	switch o.Side {
	case state.SideBuy:
	case state.SideSell:
		side = alpaca.Sell
	default:
		return broker.OrderRequest{}, fmt.Errorf("unsupported side %q", o.Side)
	}

	req := broker.OrderRequest{
		Symbol:        o.Symbol,
		Qty:           o.Quantity,
		Side:          side,
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: key,
	}
	switch e.cfg.OrderType {
	case "", "market":
	case "limit":
		limit := e.limitPrice(o)
		req.Type = alpaca.Limit
		req.LimitPrice = &limit
	default:
		return broker.OrderRequest{}, fmt.Errorf("unsupported order type: %s", e.cfg.OrderType)
	}
	return req, nil
}

// limitPrice is marketable: above the reference for buys, below for sells.
func (e *Executor) limitPrice(o Order) decimal.Decimal {
	buffer := e.cfg.LimitBuffer
	if o.Side == state.SideSell {
		buffer = -buffer
	}
	return decimal.NewFromFloat(o.ReferencePrice * (1 + buffer)).Round(2)
}

// settle polls until the order is terminal or the timeout passes, cancels any
// remainder and books what filled. Polling outlives the caller's context.
func (e *Executor) settle(ctx context.Context, record state.TradeRecord, order broker.Order) (state.TradeRecord, error) {
	pollCtx, cancel := e.detached(ctx, e.cfg.Timeout)
	defer cancel()

	for !Terminal(order.Status) {
		if err := broker.WaitForContext(pollCtx, e.cfg.PollInterval); err != nil {
			log.Warn().Str("key", record.OrderKey).Str("status", order.Status).Msg("order poll timed out")
			break
		}
		latest, err := e.broker.Order(pollCtx, order.ID)
		if err != nil {
			log.Warn().Err(err).Str("key", record.OrderKey).Msg("order poll failed")
			continue
		}
		order = latest
	}

	if order.Status != StatusFilled && order.Status != StatusCanceled && order.Status != StatusExpired && order.Status != StatusRejected {
		order = e.cancelRemainder(ctx, order)
	}

	record.OrderID = order.ID
	record.Timestamp = e.now().UTC()
	if order.FilledQty <= 0 {
		if !Terminal(order.Status) {
			return e.fail(record, StageOpen, fmt.Errorf("order %s still %s after cancel", order.ID, order.Status))
		}
		return e.fail(record, StageFill, fmt.Errorf("order %s ended %s with no fill", order.ID, order.Status))
	}

	record.Outcome = state.OutcomeExecuted
	record.Quantity = order.FilledQty
	record.FillPrice = order.FilledAvgPrice
	if order.FilledQty < record.RequestedQty {
		record.Reason = StatusPartiallyFilled
	}
	log.Info().
		Str("key", record.OrderKey).
		Str("order_id", order.ID).
		Int64("requested", record.RequestedQty).
		Int64("filled", order.FilledQty).
		Str("fill_price", order.FilledAvgPrice.String()).
		Msg("order executed")
	return record, nil
}

func (e *Executor) cancelRemainder(ctx context.Context, order broker.Order) broker.Order {
	cancelCtx, cancel := e.detached(ctx, e.cfg.RequestTimeout)
	defer cancel()

	if err := e.broker.CancelOrder(cancelCtx, order.ID); err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("cancel remainder failed")
	}
	latest, err := e.broker.Order(cancelCtx, order.ID)
	if err != nil {
		log.Warn().Err(err).Str("order_id", order.ID).Msg("re-read after cancel failed")
		return order
	}
	return latest
}

func (e *Executor) detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (e *Executor) fail(record state.TradeRecord, stage string, err error) (state.TradeRecord, error) {
	if record.Timestamp.IsZero() {
		record.Timestamp = e.now().UTC()
	}
	record.Outcome = state.OutcomeFailed
	record.Quantity = 0
	record.FillPrice = decimal.Zero
	record.Reason = stage
	execErr := &ExecutionError{Key: record.OrderKey, Stage: stage, Err: err}
	log.Error().Err(err).Str("key", record.OrderKey).Str("stage", stage).Msg("order failed")
	return record, execErr
}
