package md

import (
	"context"
	"errors"
	"testing"
	"time"
)

func day(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := ParseDate(value)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	return d.Add(17 * time.Hour)
}

func barsEnding(t *testing.T, date string) []Bar {
	return []Bar{{Date: day(t, date), Close: 100}}
}

func TestCheckFreshnessAcceptsToday(t *testing.T) {
	today := day(t, "2024-03-13")
	if err := CheckFreshness(context.Background(), WeekdayCalendar{}, barsEnding(t, "2024-03-13"), today); err != nil {
		t.Fatalf("expected fresh, got %v", err)
	}
}

func TestCheckFreshnessAcceptsPreviousTradingDay(t *testing.T) {
	monday := day(t, "2024-03-11")
	if err := CheckFreshness(context.Background(), WeekdayCalendar{}, barsEnding(t, "2024-03-08"), monday); err != nil {
		t.Fatalf("friday bar should be fresh on monday, got %v", err)
	}
}

func TestCheckFreshnessRejectsTwoSessionsBehind(t *testing.T) {
	wednesday := day(t, "2024-03-13")
	err := CheckFreshness(context.Background(), WeekdayCalendar{}, barsEnding(t, "2024-03-11"), wednesday)
	var stale *StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("expected StaleDataError, got %v", err)
	}
	if stale.Expected != "2024-03-12" {
		t.Fatalf("expected 2024-03-12, got %s", stale.Expected)
	}
}

func TestCheckFreshnessSkipsHoliday(t *testing.T) {
	cal := WeekdayCalendar{Holidays: map[string]bool{"2024-07-04": true}}
	friday := day(t, "2024-07-05")
	if err := CheckFreshness(context.Background(), cal, barsEnding(t, "2024-07-03"), friday); err != nil {
		t.Fatalf("bar before holiday should be fresh, got %v", err)
	}
}

func TestCheckFreshnessNoBars(t *testing.T) {
	if err := CheckFreshness(context.Background(), WeekdayCalendar{}, nil, time.Now()); !errors.Is(err, ErrNoBars) {
		t.Fatalf("expected ErrNoBars, got %v", err)
	}
}

func TestWeekdayCalendarWeekend(t *testing.T) {
	open, err := WeekdayCalendar{}.IsTradingDay(context.Background(), day(t, "2024-03-09"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open {
		t.Fatalf("saturday should not be a trading day")
	}
}

func TestTrimBarsSortsAndDropsInvalid(t *testing.T) {
	bars := []Bar{
		{Date: day(t, "2024-03-12"), Close: 11},
		{Date: day(t, "2024-03-11"), Close: 10},
		{Date: day(t, "2024-03-13"), Close: 0},
		{Date: day(t, "2024-03-14"), Close: 12},
	}
	got := trimBars(bars, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(got))
	}
	if got[0].Close != 11 || got[1].Close != 12 {
		t.Fatalf("unexpected order: %+v", got)
	}
}
