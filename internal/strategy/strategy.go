package strategy

import (
	"context"
	"encoding/json"
	"strings"

	"dailytrader/internal/packet"
)

type Action string

const (
	Hold Action = "HOLD"
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Confidence is low, medium or high. The empty value means undefined and
// marshals to null.
type Confidence string

const (
	ConfidenceUndefined Confidence = ""
	ConfidenceLow       Confidence = "low"
	ConfidenceMedium    Confidence = "medium"
	ConfidenceHigh      Confidence = "high"
)

func (c Confidence) MarshalJSON() ([]byte, error) {
	if c == ConfidenceUndefined {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = ConfidenceUndefined
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Confidence(s)
	return nil
}

// Decision is a recommendation before guardrails and sizing.
type Decision struct {
	Action           Action     `json:"action"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Probability      *float64   `json:"probability"`
	KeyDrivers       []string   `json:"key_drivers,omitempty"`
	MarketDivergence string     `json:"market_divergence,omitempty"`
	Confidence       Confidence `json:"confidence"`
	Source           string     `json:"source"`
	// Reason explains a forced HOLD, such as an unavailable or malformed reply.
	Reason string `json:"reason,omitempty"`
	// Raw is the reply text when it could not be parsed.
	Raw string `json:"raw,omitempty"`
}

// HoldDecision is the fail-safe default.
func HoldDecision(source, reason string) Decision {
	return Decision{Action: Hold, Confidence: ConfidenceUndefined, Source: source, Reason: reason}
}

type Strategy interface {
	Name() string
	Decide(ctx context.Context, p packet.Packet) Decision
}

func normalizeAction(action string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case string(Buy):
		return Buy, true
	case string(Sell):
		return Sell, true
	case string(Hold):
		return Hold, true
	default:
		return Hold, false
	}
}

func normalizeConfidence(value string) (Confidence, bool) {
	switch Confidence(strings.ToLower(strings.TrimSpace(value))) {
	case ConfidenceLow:
		return ConfidenceLow, true
	case ConfidenceMedium:
		return ConfidenceMedium, true
	case ConfidenceHigh:
		return ConfidenceHigh, true
	default:
		return ConfidenceUndefined, false
	}
}
