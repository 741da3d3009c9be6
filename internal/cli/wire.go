package cli

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"dailytrader/internal/broker"
	"dailytrader/internal/config"
	"dailytrader/internal/engine"
	"dailytrader/internal/execution"
	"dailytrader/internal/llm"
	"dailytrader/internal/llm/ollama"
	"dailytrader/internal/llm/openai"
	"dailytrader/internal/md"
	"dailytrader/internal/metrics"
	"dailytrader/internal/state"
	"dailytrader/internal/state/redislock"
	"dailytrader/internal/strategy"
)

func newStore(cfg config.Config) *state.Store {
	return state.NewStore(cfg.Paths, decimal.NewFromFloat(cfg.InitialCapital))
}

func newLock(cfg config.Config) (state.Locker, func() error, error) {
	switch cfg.Lock.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		return redislock.New(client, cfg.Lock.RedisKey, cfg.Lock.RedisTTL), client.Close, nil
	case "file", "":
		return state.NewFileLock(cfg.Paths.Lock), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported lock backend: %s", cfg.Lock.Backend)
	}
}

func newProvider(cfg config.Config) (md.Provider, error) {
	switch cfg.DataSource {
	case "alpaca":
		return md.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed), nil
	case "yahoo":
		return md.NewYahooProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported data source: %s", cfg.DataSource)
	}
}

func newCalendar(cfg config.Config) (md.Calendar, error) {
	switch cfg.Calendar {
	case "alpaca":
		return md.NewAlpacaCalendar(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.TradingURL), nil
	case "weekday":
		return md.WeekdayCalendar{Holidays: cfg.HolidaySet()}, nil
	default:
		return nil, fmt.Errorf("unsupported calendar: %s", cfg.Calendar)
	}
}

func newStrategy(cfg config.Config) (strategy.Strategy, error) {
	switch cfg.Strategy {
	case config.StrategySMA:
		return strategy.DefaultSMA(), nil
	case config.StrategyLLM:
		var provider llm.Provider
		switch cfg.LLM.Provider {
		case "openai":
			provider = openai.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
		case "ollama":
			provider = ollama.New(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.Timeout)
		default:
			return nil, fmt.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
		}
		return strategy.NewLLMStrategy(
			llm.New(provider),
			cfg.LLM.Retry,
			cfg.LLM.Timeout,
			cfg.LLM.Temperature,
			cfg.LLM.SystemPrompt,
			cfg.LLM.DecisionPrompt,
		), nil
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", cfg.Strategy)
	}
}

// newEngine wires the collaborators for one run. The returned func releases
// connections the run opened.
func newEngine(cfg config.Config, rec *metrics.Recorder) (*engine.Engine, func() error, error) {
	provider, err := newProvider(cfg)
	if err != nil {
		return nil, nil, err
	}
	calendar, err := newCalendar(cfg)
	if err != nil {
		return nil, nil, err
	}
	strat, err := newStrategy(cfg)
	if err != nil {
		return nil, nil, err
	}
	lock, closeLock, err := newLock(cfg)
	if err != nil {
		return nil, nil, err
	}

	deps := engine.Deps{
		Provider: provider,
		Calendar: calendar,
		Strategy: strat,
		Store:    newStore(cfg),
		Lock:     lock,
		Metrics:  rec,
	}
	if !cfg.DryRun {
		client := broker.New(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.TradingURL)
		deps.Executor = execution.New(client, cfg.Execution)
	}

	opts := engine.Options{
		Symbol:            cfg.Symbol,
		Indicators:        cfg.Indicators,
		Regime:            cfg.Regime,
		Constraints:       cfg.Constraints,
		HistoryWindow:     cfg.HistoryWindow,
		MaxQty:            cfg.MaxQty,
		KillSwitch:        cfg.KillSwitch,
		DryRun:            cfg.DryRun,
		IgnoreMarketCheck: cfg.IgnoreMarketCheck,
		FetchRetry:        cfg.Retry,
		CalendarTimeout:   cfg.Timeouts.Calendar,
		FetchTimeout:      cfg.Timeouts.Fetch,
		Execution:         cfg.Execution,
	}
	return engine.New(deps, opts), closeLock, nil
}
