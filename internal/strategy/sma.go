package strategy

import (
	"context"
	"fmt"

	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
)

const sourceRules = "sma"

// SMA is an offline rule set over the trend filter and RSI. It needs no
// reasoning service and is used for dry runs and as a baseline.
type SMA struct {
	OversoldRSI   float64
	OverboughtRSI float64
}

func DefaultSMA() SMA {
	return SMA{OversoldRSI: 40, OverboughtRSI: 80}
}

func (s SMA) Name() string {
	return sourceRules
}

func (s SMA) Decide(_ context.Context, p packet.Packet) Decision {
	rsi, rsiOK := p.Snapshot.RSI.Float64()
	if _, ok := p.Snapshot.SMA200.Float64(); !ok || !rsiOK {
		return s.decision(Hold, ConfidenceLow, "insufficient history for sma_200 or rsi")
	}
	holding := p.Portfolio.Shares > 0

	switch p.Regime.Trend {
	case regime.TrendBullish:
		if !holding && rsi < s.OversoldRSI {
			return s.decision(Buy, ConfidenceMedium, fmt.Sprintf("bullish trend with rsi %.1f below %.0f", rsi, s.OversoldRSI))
		}
		if holding && rsi > s.OverboughtRSI {
			return s.decision(Sell, ConfidenceLow, fmt.Sprintf("rsi %.1f above %.0f in bullish trend", rsi, s.OverboughtRSI))
		}
	case regime.TrendBearish:
		if holding {
			return s.decision(Sell, ConfidenceMedium, "bearish trend, exiting position")
		}
	}
	return s.decision(Hold, ConfidenceLow, "no_signal")
}

func (s SMA) decision(action Action, confidence Confidence, reasoning string) Decision {
	return Decision{Action: action, Confidence: confidence, Reasoning: reasoning, Source: sourceRules}
}
