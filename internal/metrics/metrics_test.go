package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRunCountsByOutcome(t *testing.T) {
	r := New()
	r.RecordRun("SPY", "SKIPPED", "market-closed", time.Unix(100, 0))
	r.RecordRun("SPY", "SKIPPED", "market-closed", time.Unix(200, 0))
	r.RecordRun("SPY", "TRADED", "", time.Unix(300, 0))

	if got := testutil.ToFloat64(r.runs.WithLabelValues("SPY", "SKIPPED", "market-closed")); got != 2 {
		t.Fatalf("expected 2 skipped runs, got %v", got)
	}
	if got := testutil.ToFloat64(r.lastRun.WithLabelValues("SPY")); got != 300 {
		t.Fatalf("expected last run 300, got %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordPortfolio("SPY", 10500, 500, 100, 0.02)
	r.RecordBlock("SPY", "MAX_ATR")

	path := filepath.Join(t.TempDir(), "textfile", "dailytrader.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, want := range []string{
		`dailytrader_equity{symbol="SPY"} 10500`,
		`dailytrader_guardrail_blocks_total{reason="MAX_ATR",symbol="SPY"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("expected %q in output:\n%s", want, data)
		}
	}
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	if err := New().WriteTextfile(""); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
