package md

import (
	"context"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog/log"
)

// AlpacaProvider reads daily bars from the Alpaca market data REST API.
type AlpacaProvider struct {
	client *marketdata.Client
	feed   marketdata.Feed
	now    func() time.Time
}

func NewAlpacaProvider(apiKey, apiSecret, baseURL, feed string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		feed:   parseFeed(feed),
		now:    time.Now,
	}
}

func (p *AlpacaProvider) Bars(ctx context.Context, symbol string, lookback int) ([]Bar, error) {
	end := p.now()
	start := end.AddDate(0, 0, -calendarSpan(lookback))

	type result struct {
		bars []marketdata.Bar
		err  error
	}
	done := make(chan result, 1)
	go func() {
		bars, err := p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Split,
			Start:      start,
			End:        end,
			Feed:       p.feed,
		})
		done <- result{bars: bars, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, &FetchError{Source: "alpaca", Symbol: symbol, Err: ctx.Err()}
	case res = <-done:
	}
	if res.err != nil {
		log.Error().Err(res.err).Str("symbol", symbol).Msg("fetch bars failed")
		return nil, &FetchError{Source: "alpaca", Symbol: symbol, Err: res.err}
	}

	bars := make([]Bar, 0, len(res.bars))
	for _, b := range res.bars {
		bars = append(bars, Bar{
			Date:   b.Timestamp,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}
	bars = trimBars(bars, lookback)
	log.Info().Str("symbol", symbol).Int("count", len(bars)).Msg("bars fetched")
	return bars, nil
}

func parseFeed(feed string) marketdata.Feed {
	switch feed {
	case "sip":
		return marketdata.SIP
	default:
		return marketdata.IEX
	}
}
