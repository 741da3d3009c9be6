package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"dailytrader/internal/llm"
	"dailytrader/internal/llm/prompts"
	"dailytrader/internal/packet"
	"dailytrader/internal/retry"
)

const sourceLLM = "llm"

// LLMStrategy asks the reasoning service for a decision and parses the reply
// with the labeled-field grammar. Every failure path returns HOLD.
type LLMStrategy struct {
	client         *llm.Client
	retry          retry.Policy
	timeout        time.Duration
	temperature    float64
	systemPrompt   string
	decisionPrompt string
}

func NewLLMStrategy(
	client *llm.Client,
	policy retry.Policy,
	timeout time.Duration,
	temperature float64,
	systemPromptPath string,
	decisionPromptPath string,
) *LLMStrategy {
	systemPrompt := prompts.LoadTemplate(systemPromptPath, prompts.DefaultSystemPrompt())
	if systemPromptPath != "" {
		systemPrompt = strings.TrimSpace(systemPrompt)
	}
	return &LLMStrategy{
		client:         client,
		retry:          policy,
		timeout:        timeout,
		temperature:    temperature,
		systemPrompt:   systemPrompt,
		decisionPrompt: prompts.LoadTemplate(decisionPromptPath, prompts.DefaultDecisionPrompt()),
	}
}

func (s *LLMStrategy) Name() string {
	return sourceLLM
}

func (s *LLMStrategy) Decide(ctx context.Context, p packet.Packet) Decision {
	prompt, err := prompts.RenderDecisionPrompt(s.decisionPrompt, decisionData(p))
	if err != nil {
		log.Error().Err(err).Msg("render decision prompt failed")
		return HoldDecision(sourceLLM, "llm_prompt_error")
	}

	var reply string
	err = s.retry.Do(ctx, "llm.complete", func(ctx context.Context) error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		resp, err := s.client.Complete(callCtx, prompt,
			llm.WithSystemPrompt(s.systemPrompt),
			llm.WithTemperature(s.temperature),
		)
		if err != nil {
			var httpErr *llm.HTTPError
			if errors.As(err, &httpErr) && !httpErr.Temporary() {
				return retry.Permanent(err)
			}
			return err
		}
		reply = resp.Message.Content
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("provider", s.client.Provider()).Msg("reasoning service unavailable")
		return HoldDecision(sourceLLM, "llm_unavailable")
	}

	result := ParseReply(reply)
	decision := result.Decision()
	decision.Source = sourceLLM
	if result.IsMalformed() {
		log.Warn().Err(result.Err()).Msg("reasoning reply malformed, holding")
		return decision
	}
	log.Info().
		Str("action", string(decision.Action)).
		Str("confidence", string(decision.Confidence)).
		Float64("probability", *decision.Probability).
		Msg("reasoning decision")
	return decision
}

func decisionData(p packet.Packet) prompts.DecisionData {
	snap := p.Snapshot
	packetJSON, _ := json.Marshal(p)
	return prompts.DecisionData{
		Symbol:          p.Symbol,
		Date:            snap.Date,
		Close:           snap.Close,
		RSI:             snap.RSI.String(),
		ATR:             snap.ATR.String(),
		SMA50:           snap.SMA50.String(),
		SMA200:          snap.SMA200.String(),
		AvgVolume20:     snap.AvgVolume20.String(),
		RelativeVolume:  snap.RelativeVolume.String(),
		Volatility:      string(p.Regime.Volatility),
		VolatilityRatio: p.Regime.Ratio.String(),
		Trend:           string(p.Regime.Trend),
		StopPrice:       p.StopPrice.String(),
		TakeProfitPrice: p.TakeProfitPrice.String(),

		Cash:             p.Portfolio.Cash,
		Shares:           p.Portfolio.Shares,
		CostBasis:        p.Portfolio.CostBasis,
		Equity:           p.Portfolio.Equity,
		PositionPct:      p.Portfolio.PositionPct,
		DrawdownPct:      p.Portfolio.DrawdownPct,
		UnrealizedPnLPct: p.Portfolio.UnrealizedPnLPct,

		MaxPositionPct:  p.Constraints.MaxPositionPct,
		RiskPerTradePct: p.Constraints.RiskPerTradePct,
		MaxDrawdownPct:  p.Constraints.MaxDrawdownPct,
		DrawdownBlocked: p.DrawdownBlocked,
		MinATR:          p.Constraints.MinATR,
		MaxATR:          p.Constraints.MaxATR,

		History:    p.History(),
		PacketJSON: string(packetJSON),
	}
}
