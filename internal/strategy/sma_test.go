package strategy

import (
	"context"
	"testing"

	"dailytrader/internal/indicator"
	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
)

func rulesPacket(trend regime.Trend, rsi float64, shares int64) packet.Packet {
	p := testPacket()
	p.Regime.Trend = trend
	p.Snapshot.RSI = indicator.Defined(rsi)
	p.Portfolio.Shares = shares
	return p
}

func TestSMABuySignal(t *testing.T) {
	d := DefaultSMA().Decide(context.Background(), rulesPacket(regime.TrendBullish, 32, 0))
	if d.Action != Buy {
		t.Fatalf("expected BUY, got %+v", d)
	}
}

func TestSMASellSignal(t *testing.T) {
	d := DefaultSMA().Decide(context.Background(), rulesPacket(regime.TrendBearish, 50, 3))
	if d.Action != Sell {
		t.Fatalf("expected SELL, got %+v", d)
	}
	d = DefaultSMA().Decide(context.Background(), rulesPacket(regime.TrendBullish, 85, 3))
	if d.Action != Sell {
		t.Fatalf("expected overbought SELL, got %+v", d)
	}
}

func TestSMAHoldsWithoutSMA200(t *testing.T) {
	p := rulesPacket(regime.TrendBullish, 20, 0)
	p.Snapshot.SMA200 = indicator.Undefined
	if d := DefaultSMA().Decide(context.Background(), p); d.Action != Hold {
		t.Fatalf("expected HOLD, got %+v", d)
	}
}

func TestSMANoSignal(t *testing.T) {
	if d := DefaultSMA().Decide(context.Background(), rulesPacket(regime.TrendNeutral, 50, 0)); d.Action != Hold {
		t.Fatalf("expected HOLD, got %+v", d)
	}
}
