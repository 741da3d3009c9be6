package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dailytrader/internal/engine"
	"dailytrader/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED"))

	boxStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(14)

	outcomeStyles = map[string]lipgloss.Style{
		string(engine.OutcomeTraded):  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#10B981")),
		string(engine.OutcomeBlocked): lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EF4444")),
		string(engine.OutcomeHeld):    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F59E0B")),
		string(engine.OutcomeSkipped): lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6B7280")),
		string(state.OutcomeExecuted): lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")),
		string(state.OutcomeFailed):   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
)

func styledOutcome(outcome string) string {
	if style, ok := outcomeStyles[outcome]; ok {
		return style.Render(outcome)
	}
	return outcome
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderReport(r engine.Report) string {
	outcome := styledOutcome(string(r.Outcome))
	if r.Reason != "" {
		outcome += " (" + r.Reason + ")"
	}
	rows := []string{
		titleStyle.Render(fmt.Sprintf("%s %s", r.Symbol, r.Date)),
		row("outcome", outcome),
	}
	if r.Decision != nil {
		rows = append(rows, row("decision", fmt.Sprintf("%s via %s", r.Decision.Action, r.Decision.Source)))
	}
	if r.Quantity > 0 {
		rows = append(rows, row("quantity", fmt.Sprintf("%d", r.Quantity)))
	}
	if r.Trade != nil && r.Trade.OrderID != "" {
		rows = append(rows, row("order", r.Trade.OrderID))
	}
	if r.Outcome != engine.OutcomeSkipped || r.Reason == engine.SkipAlreadyProcessed {
		rows = append(rows,
			row("cash", r.State.Cash.StringFixed(2)),
			row("shares", fmt.Sprintf("%d", r.State.Shares)),
		)
	}
	if r.Recovered {
		rows = append(rows, row("recovered", "yes"))
	}
	if r.DryRun {
		rows = append(rows, row("mode", "dry run, nothing persisted"))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func renderState(symbol string, st state.PortfolioState) string {
	rows := []string{
		titleStyle.Render(symbol + " portfolio"),
		row("cash", st.Cash.StringFixed(2)),
		row("shares", fmt.Sprintf("%d", st.Shares)),
		row("cost basis", st.CostBasis.StringFixed(4)),
		row("peak equity", st.PeakEquity.StringFixed(2)),
		row("initial", st.InitialCapital.StringFixed(2)),
		row("processed", valueOr(st.LastProcessedDate, "never")),
	}
	if st.Pending != nil {
		rows = append(rows, row("pending", fmt.Sprintf("%s %s x%d", st.Pending.Key, st.Pending.Side, st.Pending.Quantity)))
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

func renderTrades(trades []state.TradeRecord) string {
	if len(trades) == 0 {
		return "no trades recorded"
	}
	lines := make([]string, 0, len(trades)+1)
	lines = append(lines, titleStyle.Render(fmt.Sprintf("%-10s %-6s %6s %10s %-9s %s", "date", "action", "qty", "price", "outcome", "reason")))
	for _, t := range trades {
		lines = append(lines, fmt.Sprintf("%-10s %-6s %6d %10s %s %s",
			t.Date,
			t.Action,
			t.Quantity,
			t.FillPrice.StringFixed(2),
			pad(styledOutcome(string(t.Outcome)), len(t.Outcome), 9),
			t.Reason,
		))
	}
	return strings.Join(lines, "\n")
}

// pad left-aligns styled text, whose escape codes do not count as width.
func pad(styled string, width, to int) string {
	if width >= to {
		return styled
	}
	return styled + strings.Repeat(" ", to-width)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
