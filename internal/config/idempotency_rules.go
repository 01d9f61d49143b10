package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IdempotencyRule overrides the global idempotency strategy for one event
// type, letting a producer mix e.g. hash-based dedup for one event type
// with uuid-based tokens for another without redeploying with a different
// OUTBOX_IDEMPOTENCY_STRATEGY.
type IdempotencyRule struct {
	EventType string `yaml:"event_type"`
	Strategy  string `yaml:"strategy"`
}

type idempotencyRulesYAML struct {
	Rules []IdempotencyRule `yaml:"rules"`
}

// LoadIdempotencyRules reads a YAML rule table from path. A missing or
// unreadable file is returned as an error; callers that treat the table as
// optional fall back to the single global strategy on error.
func LoadIdempotencyRules(path string) ([]IdempotencyRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.load_idempotency_rules: %w", err)
	}
	var doc idempotencyRulesYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("op=config.load_idempotency_rules_parse: %w", err)
	}
	return doc.Rules, nil
}
