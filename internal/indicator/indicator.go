package indicator

import (
	"errors"
	"math"
	"time"

	"dailytrader/internal/md"
)

var ErrInsufficientData = errors.New("insufficient data")

type Params struct {
	RSIPeriod    int `yaml:"rsi_period" default:"14" validate:"gt=1"`
	ATRPeriod    int `yaml:"atr_period" default:"14" validate:"gt=0"`
	SMAFast      int `yaml:"sma_fast" default:"50" validate:"gt=0"`
	SMASlow      int `yaml:"sma_slow" default:"200" validate:"gtfield=SMAFast"`
	VolumeWindow int `yaml:"volume_window" default:"20" validate:"gt=0"`
}

func DefaultParams() Params {
	return Params{RSIPeriod: 14, ATRPeriod: 14, SMAFast: 50, SMASlow: 200, VolumeWindow: 20}
}

// Lookback is the number of bars needed for every indicator to be defined.
func (p Params) Lookback() int {
	n := p.SMASlow
	for _, w := range []int{p.SMAFast, p.RSIPeriod + 1, p.ATRPeriod, p.VolumeWindow} {
		if w > n {
			n = w
		}
	}
	return n
}

// Snapshot is the indicator state as of the newest bar.
type Snapshot struct {
	AsOf           time.Time `json:"as_of"`
	Date           string    `json:"date"`
	Close          float64   `json:"close"`
	Volume         float64   `json:"volume"`
	RSI            Value     `json:"rsi"`
	ATR            Value     `json:"atr"`
	SMA50          Value     `json:"sma_50"`
	SMA200         Value     `json:"sma_200"`
	AvgVolume20    Value     `json:"avg_volume_20"`
	RelativeVolume Value     `json:"relative_volume"`
}

type Result struct {
	Snapshot Snapshot
	// ATRSeries holds every defined ATR value, oldest first.
	ATRSeries []float64
}

// Compute derives the snapshot for the newest bar. Bars must be ordered
// oldest first.
func Compute(bars []md.Bar, p Params) (Result, error) {
	if len(bars) == 0 {
		return Result{}, ErrInsufficientData
	}
	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return Result{}, ErrInsufficientData
	}

	closes := md.Closes(bars)
	volumes := md.Volumes(bars)
	atrSeries := ATRSeries(bars, p.ATRPeriod)

	snap := Snapshot{
		AsOf:        last.Date,
		Date:        last.TradingDate(),
		Close:       last.Close,
		Volume:      last.Volume,
		RSI:         RSI(closes, p.RSIPeriod),
		SMA50:       SMA(closes, p.SMAFast),
		SMA200:      SMA(closes, p.SMASlow),
		AvgVolume20: SMA(volumes, p.VolumeWindow),
	}
	if len(atrSeries) > 0 {
		snap.ATR = Defined(atrSeries[len(atrSeries)-1])
	}
	if avg, ok := snap.AvgVolume20.Float64(); ok && avg > 0 {
		snap.RelativeVolume = Defined(last.Volume / avg)
	}
	return Result{Snapshot: snap, ATRSeries: atrSeries}, nil
}

// SMA averages the last window values.
func SMA(values []float64, window int) Value {
	if window <= 0 || len(values) < window {
		return Undefined
	}
	sum := 0.0
	for _, v := range values[len(values)-window:] {
		sum += v
	}
	return Defined(sum / float64(window))
}

// RSI uses Wilder smoothing: the first average is a simple mean of period
// changes, later ones are avg = (prev*(period-1) + x) / period.
func RSI(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period+1 {
		return Undefined
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		var g, l float64
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}
	switch {
	case avgGain == 0 && avgLoss == 0:
		return Defined(50)
	case avgLoss == 0:
		return Defined(100)
	}
	rs := avgGain / avgLoss
	return Defined(100 - 100/(1+rs))
}

// TrueRanges returns one true range per bar. The first bar has no previous
// close and uses high - low.
func TrueRanges(bars []md.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries is the rolling mean of true range over period bars, one value per
// bar once period bars are available.
func ATRSeries(bars []md.Bar, period int) []float64 {
	if period <= 0 || len(bars) < period {
		return nil
	}
	tr := TrueRanges(bars)
	out := make([]float64, 0, len(bars)-period+1)
	window := md.NewRingBuffer(period)
	for _, v := range tr {
		window.Add(v)
		if mean, ok := window.Mean(period); ok {
			out = append(out, mean)
		}
	}
	return out
}
