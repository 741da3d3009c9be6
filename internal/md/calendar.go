package md

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// Calendar answers exchange session questions for a calendar day.
type Calendar interface {
	IsTradingDay(ctx context.Context, day time.Time) (bool, error)
	PreviousTradingDay(ctx context.Context, day time.Time) (time.Time, error)
}

// maxCalendarGap bounds how far back PreviousTradingDay searches.
const maxCalendarGap = 10

// WeekdayCalendar treats Monday to Friday as sessions, minus listed holidays.
type WeekdayCalendar struct {
	Holidays map[string]bool
}

func (c WeekdayCalendar) IsTradingDay(_ context.Context, day time.Time) (bool, error) {
	local := day.In(NewYork)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	return !c.Holidays[DateOf(local)], nil
}

func (c WeekdayCalendar) PreviousTradingDay(ctx context.Context, day time.Time) (time.Time, error) {
	local := day.In(NewYork)
	for i := 1; i <= maxCalendarGap; i++ {
		candidate := local.AddDate(0, 0, -i)
		open, _ := c.IsTradingDay(ctx, candidate)
		if open {
			return candidate, nil
		}
	}
	return time.Time{}, fmt.Errorf("no trading day in the %d days before %s", maxCalendarGap, DateOf(local))
}

// AlpacaCalendar reads the exchange calendar from the Alpaca trading API.
type AlpacaCalendar struct {
	client *alpaca.Client
}

func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *AlpacaCalendar {
	return &AlpacaCalendar{client: alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})}
}

func (c *AlpacaCalendar) sessions(ctx context.Context, start, end time.Time) ([]string, error) {
	type result struct {
		days []alpaca.CalendarDay
		err  error
	}
	done := make(chan result, 1)
	go func() {
		days, err := c.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		done <- result{days: days, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("get calendar: %w", res.err)
		}
		dates := make([]string, 0, len(res.days))
		for _, d := range res.days {
			dates = append(dates, d.Date)
		}
		return dates, nil
	}
}

func (c *AlpacaCalendar) IsTradingDay(ctx context.Context, day time.Time) (bool, error) {
	local := day.In(NewYork)
	dates, err := c.sessions(ctx, local, local)
	if err != nil {
		return false, err
	}
	want := DateOf(local)
	for _, d := range dates {
		if d == want {
			return true, nil
		}
	}
	return false, nil
}

func (c *AlpacaCalendar) PreviousTradingDay(ctx context.Context, day time.Time) (time.Time, error) {
	local := day.In(NewYork)
	dates, err := c.sessions(ctx, local.AddDate(0, 0, -maxCalendarGap), local.AddDate(0, 0, -1))
	if err != nil {
		return time.Time{}, err
	}
	today := DateOf(local)
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] < today {
			return ParseDate(dates[i])
		}
	}
	return time.Time{}, fmt.Errorf("no trading day in the %d days before %s", maxCalendarGap, today)
}
