package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"dailytrader/internal/execution"
	"dailytrader/internal/indicator"
	"dailytrader/internal/logging"
	"dailytrader/internal/packet"
	"dailytrader/internal/regime"
	"dailytrader/internal/retry"
	"dailytrader/internal/state"
)

const (
	StrategyLLM = "llm"
	StrategySMA = "sma"

	DefaultPath = "config.yaml"
)

type LLMConfig struct {
	Provider       string        `yaml:"provider" default:"openai" validate:"oneof=openai ollama"`
	Model          string        `yaml:"model" default:"grok-4-1-fast-reasoning-latest" validate:"required"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Temperature    float64       `yaml:"temperature" default:"0.2" validate:"gte=0,lte=2"`
	Timeout        time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	SystemPrompt   string        `yaml:"system_prompt"`
	DecisionPrompt string        `yaml:"decision_prompt"`
	Retry          retry.Policy  `yaml:"retry"`
}

type AlpacaConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	TradingURL string `yaml:"trading_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	DataURL    string `yaml:"data_url"`
	Feed       string `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
}

type LockConfig struct {
	Backend       string        `yaml:"backend" default:"file" validate:"oneof=file redis"`
	RedisTTL      time.Duration `yaml:"redis_ttl" default:"2h" validate:"gt=0"`
	RedisAddr     string        `yaml:"redis_addr" default:"localhost:6379"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	RedisKey      string        `yaml:"redis_key" default:"dailytrader:run-lock"`
}

type Timeouts struct {
	Calendar time.Duration `yaml:"calendar" default:"15s" validate:"gt=0"`
	Fetch    time.Duration `yaml:"fetch" default:"30s" validate:"gt=0"`
}

type Config struct {
	Symbol            string             `yaml:"symbol" default:"MSFT" validate:"required,uppercase"`
	Strategy          string             `yaml:"strategy" default:"llm" validate:"oneof=llm sma"`
	DataSource        string             `yaml:"data_source" default:"alpaca" validate:"oneof=alpaca yahoo"`
	Calendar          string             `yaml:"calendar" default:"alpaca" validate:"oneof=alpaca weekday"`
	Holidays          []string           `yaml:"holidays" validate:"dive,datetime=2006-01-02"`
	InitialCapital    float64            `yaml:"initial_capital" default:"100000" validate:"gt=0"`
	MaxQty            int64              `yaml:"max_qty" validate:"gte=0"`
	HistoryWindow     int                `yaml:"history_window" default:"60" validate:"gt=0"`
	KillSwitch        bool               `yaml:"kill_switch"`
	DryRun            bool               `yaml:"dry_run"`
	IgnoreMarketCheck bool               `yaml:"ignore_market_check"`
	MetricsPath       string             `yaml:"metrics_path"`
	LLM               LLMConfig          `yaml:"llm"`
	Alpaca            AlpacaConfig       `yaml:"alpaca"`
	Constraints       packet.Constraints `yaml:"constraints"`
	Indicators        indicator.Params   `yaml:"indicators"`
	Regime            regime.Thresholds  `yaml:"regime"`
	Execution         execution.Config   `yaml:"execution"`
	Retry             retry.Policy       `yaml:"retry"`
	Paths             state.Paths        `yaml:"paths"`
	Lock              LockConfig         `yaml:"lock"`
	Timeouts          Timeouts           `yaml:"timeouts"`
	Logging           logging.Config     `yaml:"logging"`
}

// RegisterFlags adds the overridable settings to fs. Only flags the user set
// take effect in Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to YAML config file")
	fs.String("symbol", "", "instrument to trade")
	fs.String("strategy", "", "decision strategy: llm or sma")
	fs.String("data-source", "", "market data source: alpaca or yahoo")
	fs.Int64("max-qty", 0, "hard cap on shares per order (0 = none)")
	fs.Bool("dry-run", false, "run the full pipeline against a simulated broker without writing state")
	fs.Bool("ignore-market-check", false, "run even when the market calendar says closed")
	fs.Bool("kill-switch", false, "block every BUY and SELL")
	fs.String("log-level", "", "log level: trace, debug, info, warn, error")
	fs.String("log-format", "", "log format: json or console")
}

// Load builds the configuration. Later sources win: struct defaults, the YAML
// file, .env, the environment, then flags.
func Load(flags *pflag.FlagSet) (Config, error) {
	return load(flags, true)
}

// LoadLocal is Load without the credential checks, for commands that only
// read local state.
func LoadLocal(flags *pflag.FlagSet) (Config, error) {
	return load(flags, false)
}

func load(flags *pflag.FlagSet, credentials bool) (Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("apply defaults: %w", err)
	}

	path := ""
	if flags != nil {
		path, _ = flags.GetString("config")
	}
	if err := loadFile(&cfg, path); err != nil {
		return cfg, err
	}

	if err := loadDotEnv(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)

	if flags != nil {
		if err := applyFlags(&cfg, flags); err != nil {
			return cfg, err
		}
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	if credentials {
		if err := checkCredentials(cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// loadDotEnv reads KEY=VALUE pairs from path without overriding variables
// that are already set.
func loadDotEnv(path string) error {
	return godotenv.Load(path)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("APCA_API_BASE_URL"); v != "" {
		cfg.Alpaca.TradingURL = v
	}
	if v := firstEnv("LLM_API_KEY", "GROK_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TRADER_SYMBOL"); v != "" {
		cfg.Symbol = strings.ToUpper(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || flags.Lookup(name) == nil || !flags.Changed(name) {
			return
		}
		if applyErr := apply(); applyErr != nil {
			err = fmt.Errorf("flag --%s: %w", name, applyErr)
		}
	}
	str := func(dst *string, name string) func() error {
		return func() error {
			v, e := flags.GetString(name)
			*dst = v
			return e
		}
	}
	boolean := func(dst *bool, name string) func() error {
		return func() error {
			v, e := flags.GetBool(name)
			*dst = v
			return e
		}
	}

	set("symbol", str(&cfg.Symbol, "symbol"))
	set("strategy", str(&cfg.Strategy, "strategy"))
	set("data-source", str(&cfg.DataSource, "data-source"))
	set("log-level", str(&cfg.Logging.Level, "log-level"))
	set("log-format", str(&cfg.Logging.Format, "log-format"))
	set("dry-run", boolean(&cfg.DryRun, "dry-run"))
	set("ignore-market-check", boolean(&cfg.IgnoreMarketCheck, "ignore-market-check"))
	set("kill-switch", boolean(&cfg.KillSwitch, "kill-switch"))
	set("max-qty", func() error {
		v, e := flags.GetInt64("max-qty")
		cfg.MaxQty = v
		return e
	})
	cfg.Symbol = strings.ToUpper(cfg.Symbol)
	return err
}

func validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.Regime.LowRatio >= cfg.Regime.HighRatio {
		return fmt.Errorf("regime.low_ratio must be below regime.high_ratio")
	}
	return nil
}

func checkCredentials(cfg Config) error {
	if cfg.Strategy == StrategyLLM && cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY (or GROK_API_KEY) is required for the llm strategy")
	}
	if cfg.NeedsAlpaca() && (cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "") {
		return fmt.Errorf("APCA_API_KEY_ID and APCA_API_SECRET_KEY are required")
	}
	return nil
}

// NeedsAlpaca reports whether any configured component talks to Alpaca.
func (c Config) NeedsAlpaca() bool {
	return !c.DryRun || c.DataSource == "alpaca" || c.Calendar == "alpaca"
}

// HolidaySet returns the configured holidays keyed by date.
func (c Config) HolidaySet() map[string]bool {
	out := make(map[string]bool, len(c.Holidays))
	for _, day := range c.Holidays {
		out[day] = true
	}
	return out
}
