package regime

import (
	"dailytrader/internal/indicator"
	"dailytrader/internal/md"
)

type Volatility string

const (
	VolatilityLow    Volatility = "low"
	VolatilityNormal Volatility = "normal"
	VolatilityHigh   Volatility = "high"
)

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Thresholds are the volatility ratio cutoffs. A ratio at or above HighRatio
// is high volatility, at or below LowRatio is low.
type Thresholds struct {
	HighRatio      float64 `yaml:"high_ratio" default:"2.0" validate:"gt=1"`
	LowRatio       float64 `yaml:"low_ratio" default:"0.5" validate:"gt=0,lt=1"`
	TrailingWindow int     `yaml:"trailing_window" default:"14" validate:"gt=0"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{HighRatio: 2.0, LowRatio: 0.5, TrailingWindow: 14}
}

type Regime struct {
	Volatility Volatility      `json:"volatility"`
	Ratio      indicator.Value `json:"volatility_ratio"`
	Trend      Trend           `json:"trend"`
}

func (r Regime) HighVolatility() bool {
	return r.Volatility == VolatilityHigh
}

// Classify derives the regime from the ATR history and the snapshot's
// price and moving averages. The last value of atrSeries is the current ATR;
// the trailing average covers the values before it.
func Classify(atrSeries []float64, snap indicator.Snapshot, th Thresholds) Regime {
	r := Regime{Volatility: VolatilityNormal, Trend: TrendNeutral}

	if current, ok := snap.ATR.Float64(); ok && len(atrSeries) > 0 {
		trailing := md.NewRingBuffer(th.TrailingWindow)
		trailing.AddAll(atrSeries[:len(atrSeries)-1])
		if avg, ok := trailing.Mean(th.TrailingWindow); ok && avg > 0 {
			ratio := current / avg
			r.Ratio = indicator.Defined(ratio)
			switch {
			case ratio >= th.HighRatio:
				r.Volatility = VolatilityHigh
			case ratio <= th.LowRatio:
				r.Volatility = VolatilityLow
			}
		}
	}

	r.Trend = classifyTrend(snap.Close, snap.SMA50, snap.SMA200)
	return r
}

func classifyTrend(price float64, sma50, sma200 indicator.Value) Trend {
	slow, ok := sma200.Float64()
	if !ok {
		return TrendNeutral
	}
	if price > slow {
		return TrendBullish
	}
	if fast, ok := sma50.Float64(); ok && price < fast {
		return TrendBearish
	}
	return TrendNeutral
}
