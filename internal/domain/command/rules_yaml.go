package command

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ehr/voicedb/internal/domain/schema"
)

// ruleFile is the on-disk layout of a rule-set override.
//
//	operations:
//	  - operation: read
//	    pattern: '\b(?:show|list)\b.*\b(?:{entities})\b'
//	parameters:
//	  - role: identifier
//	    pattern: '\b(MRN\d+)\b'
//	    operations: [read, delete]
//	    entities: [patient]
//
// A section left out falls back to the built-in table.
type ruleFile struct {
	Operations []SignatureSpec `yaml:"operations"`
	Parameters []RuleSpec      `yaml:"parameters"`
}

// ParseRuleSet compiles a YAML rule-set document against reg.
func ParseRuleSet(reg *schema.Registry, data []byte) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	sigs := f.Operations
	if len(sigs) == 0 {
		sigs = DefaultSignatureSpecs()
	}
	rules := f.Parameters
	if len(rules) == 0 {
		rules = DefaultRuleSpecs()
	}
	return CompileRuleSet(reg, sigs, rules)
}

// LoadRuleSet reads a YAML rule set from path. An empty path yields the
// built-in rule set.
func LoadRuleSet(reg *schema.Registry, path string) (*RuleSet, error) {
	if path == "" {
		return DefaultRuleSet(reg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set %s: %w", path, err)
	}
	return ParseRuleSet(reg, data)
}
