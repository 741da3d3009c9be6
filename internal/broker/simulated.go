package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Simulated fills every order in full at a reference price. Dry runs use it in
// place of the trading API.
type Simulated struct {
	mu       sync.Mutex
	price    decimal.Decimal
	orders   map[string]Order
	byClient map[string]string
	position Position
	cash     decimal.Decimal
}

func NewSimulated(price, cash decimal.Decimal, shares int64) *Simulated {
	return &Simulated{
		price:    price,
		orders:   make(map[string]Order),
		byClient: make(map[string]string),
		position: Position{Qty: shares},
		cash:     cash,
	}
}

func (s *Simulated) PlaceOrder(_ context.Context, req OrderRequest) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Qty <= 0 {
		return Order{}, fmt.Errorf("simulated order qty %d", req.Qty)
	}
	if _, ok := s.byClient[req.ClientOrderID]; ok && req.ClientOrderID != "" {
		return Order{}, fmt.Errorf("client order id %s already used", req.ClientOrderID)
	}

	fill := s.price
	if req.Type == alpaca.Limit && req.LimitPrice != nil {
		limit := *req.LimitPrice
		if (req.Side == alpaca.Buy && limit.LessThan(fill)) || (req.Side == alpaca.Sell && limit.GreaterThan(fill)) {
			fill = limit
		}
	}
	qty := decimal.NewFromInt(req.Qty)
	switch req.Side {
	case alpaca.Buy:
		s.cash = s.cash.Sub(qty.Mul(fill))
		s.position.Qty += req.Qty
	case alpaca.Sell:
		s.cash = s.cash.Add(qty.Mul(fill))
		s.position.Qty -= req.Qty
	}
	s.position.Symbol = req.Symbol

	order := Order{
		ID:             uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         "filled",
		Qty:            req.Qty,
		FilledQty:      req.Qty,
		FilledAvgPrice: fill,
	}
	s.orders[order.ID] = order
	if req.ClientOrderID != "" {
		s.byClient[req.ClientOrderID] = order.ID
	}
	log.Info().
		Str("order_id", order.ID).
		Str("side", string(req.Side)).
		Str("symbol", req.Symbol).
		Int64("qty", req.Qty).
		Str("fill_price", fill.String()).
		Msg("simulated fill")
	return order, nil
}

func (s *Simulated) Order(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *Simulated) OrderByClientID(_ context.Context, clientOrderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byClient[clientOrderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return s.orders[id], nil
}

// CancelOrder is a no-op: simulated orders are filled on submission.
func (s *Simulated) CancelOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[id]; !ok {
		return ErrOrderNotFound
	}
	return nil
}

func (s *Simulated) Position(_ context.Context, symbol string) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.position
	pos.Symbol = symbol
	return pos, nil
}

func (s *Simulated) Account(_ context.Context) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	equity := s.cash.Add(decimal.NewFromInt(s.position.Qty).Mul(s.price))
	return Account{Cash: s.cash, Equity: equity, BuyingPower: s.cash}, nil
}
