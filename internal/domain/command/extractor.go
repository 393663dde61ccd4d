package command

import (
	"sort"
	"strings"
)

// Extractor pulls typed parameters out of a parsed command's raw text.
type Extractor struct {
	rules []ExtractionRule
}

func NewExtractor(rules *RuleSet) *Extractor {
	return &Extractor{rules: rules.Extraction}
}

// Extract runs every rule applicable to the command's operation and
// entities, in table order. All non-overlapping matches of a rule are kept.
// A value whose span was already claimed by an earlier rule is skipped, so
// no text is reported twice. The combined sequence is returned in order of
// appearance and may be empty; deciding whether it is sufficient is the
// synthesizer's job.
func (x *Extractor) Extract(cmd *ParsedCommand) []ExtractedParameter {
	if cmd == nil || cmd.RawText == "" {
		return nil
	}

	var (
		params  []ExtractedParameter
		claimed []Span
	)
	for _, rule := range x.rules {
		if !rule.appliesTo(cmd) {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringSubmatchIndex(cmd.RawText, -1) {
			if loc[2] < 0 {
				continue
			}
			span := Span{Start: loc[2], End: loc[3]}
			value := strings.TrimSpace(cmd.RawText[span.Start:span.End])
			if value == "" || overlapsAny(span, claimed) {
				continue
			}
			claimed = append(claimed, span)
			if rule.Upper {
				value = strings.ToUpper(value)
			}
			params = append(params, ExtractedParameter{Role: rule.Role, Value: value, SourceSpan: span})
		}
	}
	sort.SliceStable(params, func(i, j int) bool {
		return params[i].SourceSpan.Start < params[j].SourceSpan.Start
	})
	return params
}

func overlapsAny(s Span, spans []Span) bool {
	for _, o := range spans {
		if s.overlaps(o) {
			return true
		}
	}
	return false
}

// ByRole returns the parameters with the given role, in extraction order.
func ByRole(params []ExtractedParameter, role Role) []ExtractedParameter {
	var out []ExtractedParameter
	for _, p := range params {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}
