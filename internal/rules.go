package internal

import (
	"fmt"
	"log"

	"github.com/Knetic/govaluate"
)

// DropRule is an operator-configured veto: an event matching When is
// discarded before the duplicate check runs. The built-in filter always
// applies first; rules can only drop more, never resurrect.
type DropRule struct {
	When string `yaml:"when"`
}

type compiledRule struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// RuleEngine evaluates drop rules against the flattened event environment.
type RuleEngine struct {
	rules  []compiledRule
	logger *log.Logger
}

// NewRuleEngine compiles the configured rules. A rule that does not parse
// aborts startup.
func NewRuleEngine(rules []DropRule, logger *log.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = NewLogger("rules")
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.When == "" {
			return nil, fmt.Errorf("drop rule with empty when clause")
		}
		expr, err := govaluate.NewEvaluableExpression(rule.When)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.When, err)
		}
		compiled = append(compiled, compiledRule{source: rule.When, expr: expr})
	}
	return &RuleEngine{rules: compiled, logger: logger}, nil
}

// Drop reports whether any rule matches the event, along with the matching
// rule's source for logging. Evaluation errors skip the rule; a rule that
// cannot be evaluated must not silently swallow events.
func (r *RuleEngine) Drop(e *Event) (bool, string) {
	if r == nil || len(r.rules) == 0 {
		return false, ""
	}
	env := RuleEnv(e)
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(env)
		if err != nil {
			r.logger.Printf("rule %q eval failed: %v", rule.source, err)
			continue
		}
		if matched, _ := result.(bool); matched {
			return true, rule.source
		}
	}
	return false, ""
}
