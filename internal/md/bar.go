package md

import (
	"time"
	_ "time/tzdata"
)

// DateLayout is the layout of trading dates used across state and logs.
const DateLayout = "2006-01-02"

// NewYork is the exchange timezone; trading dates are computed in it.
var NewYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// TradingDate formats the bar's session date in exchange time.
func (b Bar) TradingDate() string {
	return DateOf(b.Date)
}

func DateOf(t time.Time) string {
	return t.In(NewYork).Format(DateLayout)
}

// ParseDate parses a trading date as midnight exchange time.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, NewYork)
}

func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
