package regime

import (
	"testing"

	"dailytrader/internal/indicator"
)

func series(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestClassifyHighVolatility(t *testing.T) {
	atr := append(series(14, 1), 15)
	snap := indicator.Snapshot{Close: 100, ATR: indicator.Defined(15)}
	r := Classify(atr, snap, DefaultThresholds())
	if r.Volatility != VolatilityHigh {
		t.Fatalf("expected high volatility, got %s (ratio %v)", r.Volatility, r.Ratio)
	}
	if !r.HighVolatility() {
		t.Fatalf("HighVolatility should report true")
	}
}

func TestClassifyLowAndNormalVolatility(t *testing.T) {
	atr := append(series(14, 4), 1)
	r := Classify(atr, indicator.Snapshot{ATR: indicator.Defined(1)}, DefaultThresholds())
	if r.Volatility != VolatilityLow {
		t.Fatalf("expected low volatility, got %s (ratio %v)", r.Volatility, r.Ratio)
	}

	r = Classify(series(15, 3), indicator.Snapshot{ATR: indicator.Defined(3)}, DefaultThresholds())
	if r.Volatility != VolatilityNormal {
		t.Fatalf("expected normal volatility, got %s", r.Volatility)
	}
}

func TestClassifyExcludesCurrentATRFromAverage(t *testing.T) {
	// 2 / mean(14 x 1) = 2.0 is high; averaging the current value in would
	// give 2 / (15/14) and read as normal.
	atr := append(series(14, 1), 2)
	r := Classify(atr, indicator.Snapshot{ATR: indicator.Defined(2)}, DefaultThresholds())
	if r.Volatility != VolatilityHigh {
		t.Fatalf("expected high volatility, got %s (ratio %v)", r.Volatility, r.Ratio)
	}
	if v, _ := r.Ratio.Float64(); v != 2 {
		t.Fatalf("expected ratio 2, got %v", v)
	}
}

func TestClassifyUndefinedATR(t *testing.T) {
	r := Classify(nil, indicator.Snapshot{}, DefaultThresholds())
	if r.Volatility != VolatilityNormal || r.Ratio.Valid {
		t.Fatalf("expected normal with undefined ratio, got %+v", r)
	}
}

func TestClassifyShortATRHistoryKeepsRatioUndefined(t *testing.T) {
	r := Classify(series(5, 2), indicator.Snapshot{ATR: indicator.Defined(2)}, DefaultThresholds())
	if r.Ratio.Valid {
		t.Fatalf("expected undefined ratio, got %v", r.Ratio)
	}
}

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		name   string
		price  float64
		sma50  indicator.Value
		sma200 indicator.Value
		want   Trend
	}{
		{"above sma200", 110, indicator.Defined(105), indicator.Defined(100), TrendBullish},
		{"undefined sma200", 110, indicator.Defined(100), indicator.Undefined, TrendNeutral},
		{"below both", 90, indicator.Defined(95), indicator.Defined(100), TrendBearish},
		{"between", 97, indicator.Defined(95), indicator.Defined(100), TrendNeutral},
	}
	for _, tc := range cases {
		snap := indicator.Snapshot{Close: tc.price, SMA50: tc.sma50, SMA200: tc.sma200}
		if got := Classify(nil, snap, DefaultThresholds()).Trend; got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}
