package md

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/rs/zerolog/log"
)

// YahooProvider reads daily bars from the Yahoo Finance chart API.
type YahooProvider struct {
	now func() time.Time
}

func NewYahooProvider() *YahooProvider {
	return &YahooProvider{now: time.Now}
}

func (p *YahooProvider) Bars(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	end := p.now()
	start := end.AddDate(0, 0, -calendarSpan(lookback))

	type result struct {
		bars []Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		params := &chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&start),
			End:      datetime.New(&end),
			Interval: datetime.OneDay,
		}
		iter := chart.Get(params)

		bars := make([]Bar, 0, lookback)
		for iter.Next() {
			bar := iter.Bar()
			open, _ := bar.Open.Float64()
			high, _ := bar.High.Float64()
			low, _ := bar.Low.Float64()
			closePrice, _ := bar.Close.Float64()
			bars = append(bars, Bar{
				Date:   time.Unix(int64(bar.Timestamp), 0),
				Open:   open,
				High:   high,
				Low:    low,
				Close:  closePrice,
				Volume: float64(bar.Volume),
			})
		}
		if err := iter.Err(); err != nil {
			done <- result{err: fmt.Errorf("chart request: %w", err)}
			return
		}
		done <- result{bars: bars}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, &FetchError{Source: "yahoo", Symbol: symbol, Err: ctx.Err()}
	case res = <-done:
	}
	if res.err != nil {
		log.Error().Err(res.err).Str("symbol", symbol).Msg("fetch bars failed")
		return nil, &FetchError{Source: "yahoo", Symbol: symbol, Err: res.err}
	}

	bars := trimBars(res.bars, lookback)
	log.Info().Str("symbol", symbol).Int("count", len(bars)).Msg("bars fetched")
	return bars, nil
}
