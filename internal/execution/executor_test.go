package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/state"
)

type fakeBroker struct {
	byClient   map[string]broker.Order
	orders     map[string]broker.Order
	placed     []broker.OrderRequest
	cancelled  []string
	placeErr   error
	lookupErr  error
	onPlace    func(req broker.OrderRequest) broker.Order
	afterPolls map[string][]broker.Order
	onCancel   func(id string) broker.Order
	position   broker.Position
	account    broker.Account
	accountErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		byClient:   make(map[string]broker.Order),
		orders:     make(map[string]broker.Order),
		afterPolls: make(map[string][]broker.Order),
	}
}

func (f *fakeBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.Order, error) {
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return broker.Order{}, f.placeErr
	}
	order := broker.Order{
		ID:             "order-1",
		ClientOrderID:  req.ClientOrderID,
		Status:         StatusFilled,
		Qty:            req.Qty,
		FilledQty:      req.Qty,
		FilledAvgPrice: decimal.NewFromInt(100),
	}
	if f.onPlace != nil {
		order = f.onPlace(req)
	}
	f.orders[order.ID] = order
	f.byClient[req.ClientOrderID] = order
	return order, nil
}

func (f *fakeBroker) Order(_ context.Context, id string) (broker.Order, error) {
	if queue := f.afterPolls[id]; len(queue) > 0 {
		f.orders[id] = queue[0]
		f.afterPolls[id] = queue[1:]
	}
	order, ok := f.orders[id]
	if !ok {
		return broker.Order{}, broker.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeBroker) OrderByClientID(_ context.Context, clientOrderID string) (broker.Order, error) {
	if f.lookupErr != nil {
		return broker.Order{}, f.lookupErr
	}
	order, ok := f.byClient[clientOrderID]
	if !ok {
		return broker.Order{}, broker.ErrOrderNotFound
	}
	return order, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	if f.onCancel != nil {
		f.orders[id] = f.onCancel(id)
	}
	return nil
}

func (f *fakeBroker) Position(context.Context, string) (broker.Position, error) {
	return f.position, nil
}

func (f *fakeBroker) Account(context.Context) (broker.Account, error) {
	if f.accountErr != nil {
		return broker.Account{}, f.accountErr
	}
	return f.account, nil
}

func testConfig() Config {
	return Config{
		PollInterval:   time.Millisecond,
		Timeout:        50 * time.Millisecond,
		RequestTimeout: 50 * time.Millisecond,
		OrderType:      "market",
		LimitBuffer:    0.01,
	}
}

func testOrder() Order {
	return Order{Symbol: "SPY", Date: "2024-01-02", Side: state.SideBuy, Quantity: 10, ReferencePrice: 100}
}

func TestOrderKey(t *testing.T) {
	if got := OrderKey("SPY", "2024-01-02", state.SideSell); got != "SPY-20240102-SELL" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestExecuteFilledOrder(t *testing.T) {
	fb := newFakeBroker()
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.Outcome != state.OutcomeExecuted || rec.Quantity != 10 || rec.OrderID != "order-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(fb.placed) != 1 || fb.placed[0].ClientOrderID != "SPY-20240102-BUY" {
		t.Fatalf("expected one order with idempotency key, got %+v", fb.placed)
	}
	if fb.placed[0].Type != alpaca.Market {
		t.Fatalf("expected market order, got %s", fb.placed[0].Type)
	}
}

func TestExecuteDoesNotResubmitKnownOrder(t *testing.T) {
	fb := newFakeBroker()
	fb.byClient["SPY-20240102-BUY"] = broker.Order{
		ID:             "earlier",
		ClientOrderID:  "SPY-20240102-BUY",
		Status:         StatusFilled,
		Qty:            10,
		FilledQty:      10,
		FilledAvgPrice: decimal.NewFromInt(99),
	}
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fb.placed) != 0 {
		t.Fatalf("order resubmitted: %+v", fb.placed)
	}
	if rec.OrderID != "earlier" || !rec.FillPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestExecuteCancelsRemainderAfterTimeout(t *testing.T) {
	fb := newFakeBroker()
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		return broker.Order{ID: "slow", ClientOrderID: req.ClientOrderID, Status: "new", Qty: req.Qty}
	}
	fb.onCancel = func(id string) broker.Order {
		return broker.Order{ID: id, Status: StatusCanceled, Qty: 10, FilledQty: 4, FilledAvgPrice: decimal.NewFromInt(101)}
	}
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fb.cancelled) != 1 || fb.cancelled[0] != "slow" {
		t.Fatalf("expected remainder cancel, got %v", fb.cancelled)
	}
	if rec.Outcome != state.OutcomeExecuted || rec.Quantity != 4 || rec.RequestedQty != 10 {
		t.Fatalf("expected partial execution of 4, got %+v", rec)
	}
}

func TestExecutePollsUntilFilled(t *testing.T) {
	fb := newFakeBroker()
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		return broker.Order{ID: "p", ClientOrderID: req.ClientOrderID, Status: "accepted", Qty: req.Qty}
	}
	fb.afterPolls["p"] = []broker.Order{
		{ID: "p", Status: "new", Qty: 10},
		{ID: "p", Status: StatusFilled, Qty: 10, FilledQty: 10, FilledAvgPrice: decimal.NewFromInt(100)},
	}
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec.Quantity != 10 || len(fb.cancelled) != 0 {
		t.Fatalf("unexpected record %+v cancels %v", rec, fb.cancelled)
	}
}

func TestExecuteRejectedIsFailed(t *testing.T) {
	fb := newFakeBroker()
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		return broker.Order{ID: "r", ClientOrderID: req.ClientOrderID, Status: StatusRejected, Qty: req.Qty}
	}
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if rec.Outcome != state.OutcomeFailed || rec.Quantity != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestExecuteSubmitErrorFindsLandedOrder(t *testing.T) {
	fb := newFakeBroker()
	fb.placeErr = errors.New("connection reset")
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	if err == nil || rec.Outcome != state.OutcomeFailed {
		t.Fatalf("expected failure, got %+v, %v", rec, err)
	}

	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != StageSubmit || !execErr.Unresolved() {
		t.Fatalf("expected unresolved submit failure, got %v", err)
	}

	fb.placeErr = nil
	fb.byClient["SPY-20240102-BUY"] = broker.Order{ID: "landed", Status: StatusFilled, FilledQty: 10, FilledAvgPrice: decimal.NewFromInt(100)}
	rec, err = exec.Execute(context.Background(), testOrder())
	if err != nil || rec.OrderID != "landed" {
		t.Fatalf("expected landed order, got %+v, %v", rec, err)
	}
}

func TestExecuteOrderStillOpenIsUnresolved(t *testing.T) {
	fb := newFakeBroker()
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		return broker.Order{ID: "stuck", ClientOrderID: req.ClientOrderID, Status: "new", Qty: req.Qty}
	}
	exec := New(fb, testConfig())

	rec, err := exec.Execute(context.Background(), testOrder())
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != StageOpen || !execErr.Unresolved() {
		t.Fatalf("expected unresolved open order, got %v", err)
	}
	if rec.Outcome != state.OutcomeFailed || len(fb.cancelled) != 1 {
		t.Fatalf("expected failed record after cancel attempt, got %+v cancels %v", rec, fb.cancelled)
	}
}

func TestExecuteRejectedIsResolved(t *testing.T) {
	fb := newFakeBroker()
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		return broker.Order{ID: "r", ClientOrderID: req.ClientOrderID, Status: StatusRejected, Qty: req.Qty}
	}
	exec := New(fb, testConfig())

	_, err := exec.Execute(context.Background(), testOrder())
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != StageFill || execErr.Unresolved() {
		t.Fatalf("expected resolved fill failure, got %v", err)
	}
}

func TestHoldings(t *testing.T) {
	fb := newFakeBroker()
	fb.position = broker.Position{Symbol: "SPY", Qty: 12, AvgEntry: decimal.NewFromInt(101)}
	fb.account = broker.Account{Cash: decimal.NewFromInt(5000)}
	exec := New(fb, testConfig())

	h, err := exec.Holdings(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("holdings: %v", err)
	}
	if h.Shares != 12 || !h.AvgEntry.Equal(decimal.NewFromInt(101)) || !h.Cash.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected holdings %+v", h)
	}

	fb.accountErr = errors.New("503")
	if _, err := exec.Holdings(context.Background(), "SPY"); err == nil {
		t.Fatalf("expected account error")
	}
}

func TestExecuteLookupFailureDoesNotSubmit(t *testing.T) {
	fb := newFakeBroker()
	fb.lookupErr = errors.New("503")
	exec := New(fb, testConfig())

	if _, err := exec.Execute(context.Background(), testOrder()); err == nil {
		t.Fatalf("expected error")
	}
	if len(fb.placed) != 0 {
		t.Fatalf("submitted despite failed lookup")
	}
}

func TestExecuteMarketableLimit(t *testing.T) {
	fb := newFakeBroker()
	cfg := testConfig()
	cfg.OrderType = "limit"
	exec := New(fb, cfg)

	sell := testOrder()
	sell.Side = state.SideSell
	if _, err := exec.Execute(context.Background(), sell); err != nil {
		t.Fatalf("execute: %v", err)
	}
	req := fb.placed[0]
	if req.Type != alpaca.Limit || req.LimitPrice == nil || !req.LimitPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("expected sell limit at 99, got %+v", req)
	}
}

func TestExecuteIgnoresCancelledRunContext(t *testing.T) {
	fb := newFakeBroker()
	fb.afterPolls["p"] = []broker.Order{
		{ID: "p", Status: StatusFilled, Qty: 10, FilledQty: 10, FilledAvgPrice: decimal.NewFromInt(100)},
	}
	exec := New(fb, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	fb.onPlace = func(req broker.OrderRequest) broker.Order {
		cancel()
		return broker.Order{ID: "p", ClientOrderID: req.ClientOrderID, Status: "new", Qty: req.Qty}
	}
	rec, err := exec.Execute(ctx, testOrder())
	if err != nil || rec.Quantity != 10 {
		t.Fatalf("expected fill after run cancel, got %+v, %v", rec, err)
	}
}

func TestRecoverWithoutSubmission(t *testing.T) {
	fb := newFakeBroker()
	exec := New(fb, testConfig())

	_, found, err := exec.Recover(context.Background(), testOrder())
	if err != nil || found {
		t.Fatalf("expected nothing to recover, got found=%v err=%v", found, err)
	}
	if len(fb.placed) != 0 {
		t.Fatalf("recover must never submit")
	}

	fb.byClient["SPY-20240102-BUY"] = broker.Order{ID: "x", Status: StatusFilled, FilledQty: 10, FilledAvgPrice: decimal.NewFromInt(100)}
	rec, found, err := exec.Recover(context.Background(), testOrder())
	if err != nil || !found || rec.Outcome != state.OutcomeExecuted {
		t.Fatalf("unexpected recovery %+v found=%v err=%v", rec, found, err)
	}
}
