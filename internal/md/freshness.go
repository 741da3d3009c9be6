package md

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNoBars = errors.New("no bars returned")

// StaleDataError reports that the newest bar is older than the most recent
// completed session.
type StaleDataError struct {
	Latest   string
	Expected string
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale data: latest bar %s, expected %s or later", e.Latest, e.Expected)
}

// CheckFreshness accepts the newest bar when it is dated today or on the
// previous trading day.
func CheckFreshness(ctx context.Context, cal Calendar, bars []Bar, today time.Time) error {
	if len(bars) == 0 {
		return ErrNoBars
	}
	latest := bars[len(bars)-1].TradingDate()
	if latest >= DateOf(today) {
		return nil
	}
	prev, err := cal.PreviousTradingDay(ctx, today)
	if err != nil {
		return fmt.Errorf("previous trading day: %w", err)
	}
	expected := DateOf(prev)
	if latest >= expected {
		return nil
	}
	return &StaleDataError{Latest: latest, Expected: expected}
}
