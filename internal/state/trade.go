package state

import (
	"time"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeExecuted Outcome = "EXECUTED"
	OutcomeBlocked  Outcome = "BLOCKED"
	OutcomeFailed   Outcome = "FAILED"
)

// ReasonReconciled marks an execution booked from broker holdings.
const ReasonReconciled = "reconciled"

type TradeRecord struct {
	Timestamp    time.Time       `json:"timestamp"`
	Date         string          `json:"date"`
	Symbol       string          `json:"symbol"`
	Action       string          `json:"action"`
	RequestedQty int64           `json:"requested_qty"`
	Quantity     int64           `json:"quantity"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	Outcome      Outcome         `json:"outcome"`
	Reason       string          `json:"reason,omitempty"`
	OrderKey     string          `json:"order_key,omitempty"`
	OrderID      string          `json:"order_id,omitempty"`
}
