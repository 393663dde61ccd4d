package command

import (
	"regexp"
	"strings"

	"github.com/ehr/voicedb/internal/domain/schema"
)

// Confidence points, in tenths, so the sum stays exact.
const (
	baseConfidence        = 5
	operationConfidence   = 3
	entityConfidence      = 2
	multiEntityConfidence = 1
	maxConfidence         = 10
)

type entityMatcher struct {
	name    schema.EntityName
	pattern *regexp.Regexp
}

// Normalizer classifies the operation and mentioned entities of an
// utterance. It holds no mutable state and may be shared across requests.
type Normalizer struct {
	registry *schema.Registry
	rules    *RuleSet
	entities []entityMatcher
}

// NewNormalizer builds a normalizer over the registry's spoken forms and the
// rule set's operation signatures.
func NewNormalizer(reg *schema.Registry, rules *RuleSet) *Normalizer {
	n := &Normalizer{registry: reg, rules: rules}
	for _, name := range reg.Names() {
		forms := reg.Forms(name)
		alts := make([]string, len(forms))
		for i, f := range forms {
			alts[i] = formPattern(f)
		}
		n.entities = append(n.entities, entityMatcher{
			name:    name,
			pattern: regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`),
		})
	}
	return n
}

// Normalize parses raw text into a ParsedCommand. Blank input yields
// OpUnknown with zero confidence.
func (n *Normalizer) Normalize(raw string) *ParsedCommand {
	trimmed := strings.TrimSpace(raw)
	cmd := &ParsedCommand{RawText: trimmed, Operation: OpUnknown}
	if trimmed == "" {
		return cmd
	}

	cmd.Normalized = strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")

	for _, sig := range n.rules.Signatures {
		if sig.Pattern.MatchString(cmd.Normalized) {
			cmd.Operation = sig.Operation
			break
		}
	}

	first := -1
	for _, m := range n.entities {
		loc := m.pattern.FindStringIndex(cmd.Normalized)
		if loc == nil {
			continue
		}
		cmd.MatchedEntities = append(cmd.MatchedEntities, m.name)
		if first == -1 || loc[0] < first {
			first = loc[0]
			cmd.PrimaryEntity = m.name
		}
		if e, err := n.registry.Lookup(m.name); err == nil && e.IsPhiSensitive {
			cmd.IsPhiContext = true
		}
	}

	points := baseConfidence
	if cmd.Operation != OpUnknown {
		points += operationConfidence
	}
	if len(cmd.MatchedEntities) >= 1 {
		points += entityConfidence
	}
	if len(cmd.MatchedEntities) >= 2 {
		points += multiEntityConfidence
	}
	if points > maxConfidence {
		points = maxConfidence
	}
	cmd.Confidence = float64(points) / 10

	return cmd
}
