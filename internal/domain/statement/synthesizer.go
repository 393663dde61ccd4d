package statement

import (
	"errors"
	"strings"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/schema"
)

// Synthesizer turns a parsed command and its parameters into a Statement.
type Synthesizer struct {
	reg     *schema.Registry
	catalog *Catalog
}

// NewSynthesizer creates a synthesizer over a registry and template catalog.
func NewSynthesizer(reg *schema.Registry, catalog *Catalog) *Synthesizer {
	return &Synthesizer{reg: reg, catalog: catalog}
}

// Synthesize selects the template for the command's operation and primary
// entity and binds parameters to it by role.
//
// Exactly one of the results is non-nil. A Declined is an expected outcome;
// an error means the catalog itself is inconsistent.
func (s *Synthesizer) Synthesize(cmd *command.ParsedCommand, params []command.ExtractedParameter) (*Statement, *Declined, error) {
	if cmd == nil || cmd.Operation == command.OpUnknown || cmd.PrimaryEntity == "" {
		return nil, &Declined{Reason: ReasonNoMatch}, nil
	}

	entity, err := s.reg.Lookup(cmd.PrimaryEntity)
	if errors.Is(err, schema.ErrNotFound) {
		return nil, &Declined{Reason: reasonNotSupported + string(cmd.PrimaryEntity)}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	tmpl, ok := s.catalog.Lookup(cmd.Operation, entity.Name)
	if !ok {
		return nil, &Declined{Reason: reasonNotSupported + string(entity.Name)}, nil
	}

	bound, missing := bind(tmpl, params)
	if missing != "" {
		return nil, &Declined{Reason: reasonMissingParam + missing}, nil
	}
	if err := CheckBinding(tmpl.Body, bound); err != nil {
		return nil, nil, err
	}

	return &Statement{
		Operation:         tmpl.Operation,
		TargetEntity:      entity.Name,
		TemplateID:        tmpl.ID,
		Body:              tmpl.Body,
		BoundParameters:   bound,
		TouchesPhi:        entity.IsPhiSensitive,
		IsDestructive:     tmpl.IsDestructive,
		ReturnsRows:       tmpl.ReturnsRows,
		SuspectParameters: ScreenParameters(bound),
	}, nil, nil
}

// bind fills the template slots in order. It returns the name of the first
// unsatisfied requirement, or "" when every requirement is met.
func bind(t *Template, params []command.ExtractedParameter) ([]any, string) {
	bound := make([]any, len(t.Slots))
	groups := make(map[string]bool)
	var groupOrder []string

	for i, slot := range t.Slots {
		vals := command.ByRole(params, slot.Role)
		if slot.Occurrence < len(vals) {
			bound[i] = split(vals[slot.Occurrence].Value, slot.Part)
		} else if slot.Required {
			return nil, string(slot.Role)
		}
		if slot.AnyOf != "" {
			if _, seen := groups[slot.AnyOf]; !seen {
				groupOrder = append(groupOrder, slot.AnyOf)
			}
			groups[slot.AnyOf] = groups[slot.AnyOf] || bound[i] != nil
		}
	}
	for _, g := range groupOrder {
		if !groups[g] {
			return nil, g
		}
	}
	return bound, ""
}

func split(v string, p Part) string {
	if p == PartWhole {
		return v
	}
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return ""
	}
	if p == PartFirst {
		return fields[0]
	}
	return strings.Join(fields[1:], " ")
}
