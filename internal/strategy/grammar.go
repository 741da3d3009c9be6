package strategy

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Reply labels, in the order the prompt asks for them.
const (
	fieldReasoning        = "REASONING"
	fieldProbability      = "PROBABILITY"
	fieldKeyDrivers       = "KEY_DRIVERS"
	fieldMarketDivergence = "MARKET_DIVERGENCE"
	fieldConfidence       = "CONFIDENCE"
	fieldAction           = "ACTION"
)

var mandatoryFields = []string{fieldReasoning, fieldProbability, fieldConfidence, fieldAction}

var labelLine = regexp.MustCompile(`^\s*\**\s*(REASONING|PROBABILITY|KEY_DRIVERS|MARKET_DIVERGENCE|CONFIDENCE|ACTION)\s*\**\s*:\s*\**\s*(.*?)\s*$`)

type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return "malformed reply: " + e.Reason
	}
	return fmt.Sprintf("malformed reply: %s: %s", e.Field, e.Reason)
}

// ParseResult is either Parsed or Malformed. A malformed result only ever
// yields the HOLD default, never partial fields.
type ParseResult struct {
	decision Decision
	raw      string
	err      *ParseError
}

func Parsed(d Decision) ParseResult {
	return ParseResult{decision: d}
}

func Malformed(raw string, err *ParseError) ParseResult {
	return ParseResult{raw: raw, err: err}
}

func (r ParseResult) IsMalformed() bool {
	return r.err != nil
}

// Err is nil for a parsed reply.
func (r ParseResult) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r ParseResult) Decision() Decision {
	if r.err != nil {
		d := HoldDecision("", "malformed_reply")
		d.Raw = r.raw
		return d
	}
	return r.decision
}

// ParseReply applies the labeled-field grammar. Each label appears at most
// once; a value continues on following lines until the next label. Text
// before the first label is rejected.
func ParseReply(text string) ParseResult {
	fields := map[string]string{}
	current := ""
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := labelLine.FindStringSubmatch(line); m != nil {
			label := m[1]
			if _, dup := fields[label]; dup {
				return Malformed(text, &ParseError{Field: label, Reason: "duplicate field"})
			}
			fields[label] = m[2]
			current = label
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if current == "" {
			return Malformed(text, &ParseError{Reason: "text before first field"})
		}
		if fields[current] == "" {
			fields[current] = trimmed
		} else {
			fields[current] += "\n" + trimmed
		}
	}

	for _, label := range mandatoryFields {
		if strings.TrimSpace(fields[label]) == "" {
			return Malformed(text, &ParseError{Field: label, Reason: "missing"})
		}
	}

	action, ok := normalizeAction(fields[fieldAction])
	if !ok {
		return Malformed(text, &ParseError{Field: fieldAction, Reason: fmt.Sprintf("unknown action %q", fields[fieldAction])})
	}
	confidence, ok := normalizeConfidence(fields[fieldConfidence])
	if !ok {
		return Malformed(text, &ParseError{Field: fieldConfidence, Reason: fmt.Sprintf("unknown confidence %q", fields[fieldConfidence])})
	}
	probability, err := parseProbability(fields[fieldProbability])
	if err != nil {
		return Malformed(text, &ParseError{Field: fieldProbability, Reason: err.Error()})
	}

	divergence := strings.TrimSpace(fields[fieldMarketDivergence])
	if strings.EqualFold(divergence, "none") {
		divergence = ""
	}

	return Parsed(Decision{
		Action:           action,
		Reasoning:        strings.TrimSpace(fields[fieldReasoning]),
		Probability:      &probability,
		KeyDrivers:       splitDrivers(fields[fieldKeyDrivers]),
		MarketDivergence: divergence,
		Confidence:       confidence,
	})
}

// parseProbability accepts a fraction in [0,1] or a percentage like "65%".
func parseProbability(value string) (float64, error) {
	v := strings.TrimSpace(value)
	percent := strings.HasSuffix(v, "%")
	v = strings.TrimSpace(strings.TrimSuffix(v, "%"))
	p, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("not a number: %q", value)
	}
	if percent {
		p /= 100
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("out of range: %q", value)
	}
	return p, nil
}

func splitDrivers(value string) []string {
	var out []string
	for _, line := range strings.Split(value, "\n") {
		for _, part := range strings.Split(line, ";") {
			part = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(part), "-*•"))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
