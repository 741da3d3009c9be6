package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects the metrics of one run on a private registry so they can
// be written out for the node_exporter textfile collector.
type Recorder struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	blocks        *prometheus.CounterVec
	orders        *prometheus.CounterVec
	equity        *prometheus.GaugeVec
	cash          *prometheus.GaugeVec
	shares        *prometheus.GaugeVec
	drawdown      *prometheus.GaugeVec
	lastRun       *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailytrader_runs_total",
				Help: "Runs by outcome and skip reason",
			},
			[]string{"symbol", "outcome", "reason"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailytrader_decisions_total",
				Help: "Strategy decisions by action and source",
			},
			[]string{"symbol", "action", "source"},
		),
		blocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailytrader_guardrail_blocks_total",
				Help: "Trades blocked by guardrail reason",
			},
			[]string{"symbol", "reason"},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailytrader_orders_total",
				Help: "Orders by side and trade outcome",
			},
			[]string{"symbol", "side", "outcome"},
		),
		equity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dailytrader_equity",
				Help: "Portfolio equity at the run's close price",
			},
			[]string{"symbol"},
		),
		cash: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dailytrader_cash",
				Help: "Portfolio cash",
			},
			[]string{"symbol"},
		),
		shares: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dailytrader_shares",
				Help: "Shares held",
			},
			[]string{"symbol"},
		),
		drawdown: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dailytrader_drawdown_ratio",
				Help: "Decline of equity from its high-water mark",
			},
			[]string{"symbol"},
		),
		lastRun: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dailytrader_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"symbol"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dailytrader_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) RecordRun(symbol, outcome, reason string, at time.Time) {
	r.runs.WithLabelValues(symbol, outcome, reason).Inc()
	r.lastRun.WithLabelValues(symbol).Set(float64(at.Unix()))
}

func (r *Recorder) RecordDecision(symbol, action, source string) {
	r.decisions.WithLabelValues(symbol, action, source).Inc()
}

func (r *Recorder) RecordBlock(symbol, reason string) {
	r.blocks.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordOrder(symbol, side, outcome string) {
	r.orders.WithLabelValues(symbol, side, outcome).Inc()
}

func (r *Recorder) RecordPortfolio(symbol string, equity, cash float64, shares int64, drawdown float64) {
	r.equity.WithLabelValues(symbol).Set(equity)
	r.cash.WithLabelValues(symbol).Set(cash)
	r.shares.WithLabelValues(symbol).Set(float64(shares))
	r.drawdown.WithLabelValues(symbol).Set(drawdown)
}

// ObserveStage records how long a stage took since start.
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	r.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all metrics to path atomically. An empty path is a
// no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
