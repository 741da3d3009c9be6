package prompts

import (
	_ "embed"
	"os"
	"strings"
	"text/template"
)

//go:embed system.md
var defaultSystemPrompt string

//go:embed decision.md
var defaultDecisionPrompt string

// DecisionData is the template view of a decision packet. Indicator fields
// are preformatted so undefined readings render as "n/a".
type DecisionData struct {
	Symbol          string
	Date            string
	Close           float64
	RSI             string
	ATR             string
	SMA50           string
	SMA200          string
	AvgVolume20     string
	RelativeVolume  string
	Volatility      string
	VolatilityRatio string
	Trend           string
	StopPrice       string
	TakeProfitPrice string

	Cash             float64
	Shares           int64
	CostBasis        float64
	Equity           float64
	PositionPct      float64
	DrawdownPct      float64
	UnrealizedPnLPct float64

	MaxPositionPct  float64
	RiskPerTradePct float64
	MaxDrawdownPct  float64
	DrawdownBlocked bool
	MinATR          float64
	MaxATR          float64

	History    []float64
	PacketJSON string
}

func DefaultSystemPrompt() string {
	return defaultSystemPrompt
}

func DefaultDecisionPrompt() string {
	return defaultDecisionPrompt
}

func LoadTemplate(path string, fallback string) string {
	if path == "" {
		return fallback
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return string(contents)
}

var funcs = template.FuncMap{
	"pct": func(v float64) float64 { return v * 100 },
}

func RenderDecisionPrompt(templateText string, data DecisionData) (string, error) {
	tmpl, err := template.New("decision").Funcs(funcs).Option("missingkey=error").Parse(templateText)
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}
