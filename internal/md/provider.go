package md

import (
	"context"
	"fmt"
	"sort"
)

// Provider returns daily bars for a symbol, oldest first.
type Provider interface {
	Bars(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}

// FetchError is a transient market data failure.
type FetchError struct {
	Source string
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s bars from %s: %v", e.Symbol, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// trimBars sorts bars by date, drops non-positive closes and keeps the last lookback.
func trimBars(bars []Bar, lookback int) []Bar {
	clean := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		clean = append(clean, b)
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return clean[i].Date.Before(clean[j].Date)
	})
	if lookback > 0 && len(clean) > lookback {
		clean = clean[len(clean)-lookback:]
	}
	return clean
}

// calendarSpan converts a lookback in trading days into a calendar window wide
// enough to cover weekends and holidays.
func calendarSpan(lookback int) int {
	return lookback*7/5 + 10
}
