package broker

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRequest struct {
	Symbol        string
	Qty           int64
	Side          alpaca.Side
	Type          alpaca.OrderType
	TimeInForce   alpaca.TimeInForce
	ClientOrderID string
	LimitPrice    *decimal.Decimal
}

// Order is the broker's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           alpaca.Side
	Status         string
	Qty            int64
	FilledQty      int64
	FilledAvgPrice decimal.Decimal
}

type Position struct {
	Symbol   string
	Qty      int64
	AvgEntry decimal.Decimal
}

type Account struct {
	Cash        decimal.Decimal
	Equity      decimal.Decimal
	BuyingPower decimal.Decimal
}

// Broker is the order surface the executor depends on.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	Order(ctx context.Context, id string) (Order, error)
	OrderByClientID(ctx context.Context, clientOrderID string) (Order, error)
	CancelOrder(ctx context.Context, id string) error
	Position(ctx context.Context, symbol string) (Position, error)
	Account(ctx context.Context) (Account, error)
}

type Client struct {
	client *alpaca.Client
}

func New(apiKey, apiSecret, baseURL string) *Client {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &Client{client: alpaca.NewClient(opts)}
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	qty := decimal.NewFromInt(req.Qty)
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
		LimitPrice:    req.LimitPrice,
	}

	order, err := call(ctx, func() (*alpaca.Order, error) { return c.client.PlaceOrder(orderReq) })
	if err != nil {
		log.Error().Err(err).
			Str("side", string(req.Side)).
			Str("symbol", req.Symbol).
			Int64("qty", req.Qty).
			Str("type", string(req.Type)).
			Str("client_order_id", req.ClientOrderID).
			Msg("place order failed")
		return Order{}, err
	}

	log.Info().
		Str("order_id", order.ID).
		Str("side", string(req.Side)).
		Str("symbol", req.Symbol).
		Int64("qty", req.Qty).
		Str("type", string(req.Type)).
		Str("status", string(order.Status)).
		Msg("place order success")
	return fromAlpaca(order), nil
}

func (c *Client) Order(ctx context.Context, id string) (Order, error) {
	order, err := call(ctx, func() (*alpaca.Order, error) { return c.client.GetOrder(id) })
	if err != nil {
		if isNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_id", id).Msg("fetch order failed")
		return Order{}, err
	}
	return fromAlpaca(order), nil
}

func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (Order, error) {
	order, err := call(ctx, func() (*alpaca.Order, error) { return c.client.GetOrderByClientOrderID(clientOrderID) })
	if err != nil {
		if isNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		log.Error().Err(err).Str("client_order_id", clientOrderID).Msg("fetch order failed")
		return Order{}, err
	}
	return fromAlpaca(order), nil
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	_, err := call(ctx, func() (struct{}, error) { return struct{}{}, c.client.CancelOrder(id) })
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("cancel order failed")
		return err
	}
	log.Info().Str("order_id", id).Msg("cancel order requested")
	return nil
}

func (c *Client) Position(ctx context.Context, symbol string) (Position, error) {
	pos, err := call(ctx, func() (*alpaca.Position, error) { return c.client.GetPosition(symbol) })
	if err != nil {
		if isNotFound(err) {
			return Position{Symbol: symbol}, nil
		}
		log.Error().Err(err).Str("symbol", symbol).Msg("fetch position failed")
		return Position{}, err
	}

	qty := pos.Qty.IntPart()
	log.Info().Str("symbol", symbol).Int64("qty", qty).Str("avg_entry", pos.AvgEntryPrice.String()).Msg("position fetched")
	return Position{Symbol: pos.Symbol, Qty: qty, AvgEntry: pos.AvgEntryPrice}, nil
}

func (c *Client) Account(ctx context.Context) (Account, error) {
	acct, err := call(ctx, func() (*alpaca.Account, error) { return c.client.GetAccount() })
	if err != nil {
		log.Error().Err(err).Msg("fetch account failed")
		return Account{}, err
	}

	log.Info().Str("equity", acct.Equity.String()).Str("buying_power", acct.BuyingPower.String()).Msg("account fetched")
	return Account{Cash: acct.Cash, Equity: acct.Equity, BuyingPower: acct.BuyingPower}, nil
}

func WaitForContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// call runs a blocking SDK request and gives up when ctx ends. The SDK takes
// no context, so the request itself may still complete in the background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-done:
		return r.v, r.err
	}
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func fromAlpaca(o *alpaca.Order) Order {
	out := Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Status:        string(o.Status),
		FilledQty:     o.FilledQty.IntPart(),
	}
	if o.Qty != nil {
		out.Qty = o.Qty.IntPart()
	}
	if o.FilledAvgPrice != nil {
		out.FilledAvgPrice = *o.FilledAvgPrice
	}
	return out
}
