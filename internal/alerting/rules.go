package alerting

import (
	"fmt"
	"os"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"gopkg.in/yaml.v3"
)

// Action types a rule may carry. Unknown types are skipped at execution time,
// not rejected at load time, so rule files can stay forward compatible.
const (
	ActionNotify   = "notify"
	ActionEscalate = "escalate"
	ActionAssign   = "assign"
	ActionWebhook  = "webhook"
)

// RuleAction is one step of a rule, executed in file order.
type RuleAction struct {
	Type     string   `yaml:"type"`
	Channels []string `yaml:"channels,omitempty"`
	To       string   `yaml:"to,omitempty"`
	Reason   string   `yaml:"reason,omitempty"`
	Assignee string   `yaml:"assignee,omitempty"`
	URL      string   `yaml:"url,omitempty"`
}

// Rule matches alerts by severity and an optional expression condition.
type Rule struct {
	ID              string       `yaml:"id"`
	Description     string       `yaml:"description,omitempty"`
	MatchSeverities []Severity   `yaml:"match_severities"`
	Condition       string       `yaml:"condition,omitempty"`
	Actions         []RuleAction `yaml:"actions"`

	program *vm.Program
}

type ruleFile struct {
	Rules []*Rule `yaml:"rules"`
}

// LoadRules reads and compiles a YAML rule file. Rules keep file order.
func LoadRules(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for _, rule := range file.Rules {
		if err := rule.compile(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

// compile validates the rule and compiles its condition, if any.
func (r *Rule) compile() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	for _, sev := range r.MatchSeverities {
		if _, err := ParseSeverity(string(sev)); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	if r.Condition == "" {
		return nil
	}

	program, err := expr.Compile(r.Condition, expr.Env(conditionEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("rule %s: failed to compile condition: %w", r.ID, err)
	}
	r.program = program
	return nil
}

// conditionEnv is the variable set a rule condition may reference.
type conditionEnv struct {
	Severity   string   `expr:"severity"`
	RiskLevel  string   `expr:"risk_level"`
	Confidence float64  `expr:"confidence"`
	Patterns   []string `expr:"patterns"`
	SessionID  string   `expr:"session_id"`
	ChildID    string   `expr:"child_id"`
}

// matches evaluates the rule against an alert. Caller holds the alert's mutex
// or owns it exclusively.
func (r *Rule) matches(a *Alert) (bool, error) {
	matched := len(r.MatchSeverities) == 0
	for _, sev := range r.MatchSeverities {
		if sev == a.Severity {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	if r.program == nil {
		return true, nil
	}

	env := conditionEnv{
		Severity:   string(a.Severity),
		RiskLevel:  a.RiskLevel,
		Confidence: a.Confidence,
		Patterns:   a.Patterns,
		SessionID:  a.SessionID,
		ChildID:    a.ChildID,
	}
	out, err := expr.Run(r.program, env)
	if err != nil {
		return false, fmt.Errorf("rule %s: condition evaluation failed: %w", r.ID, err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule %s: condition did not evaluate to bool", r.ID)
	}
	return result, nil
}

// DefaultRules returns the built-in rule set used when no rules file is
// configured: immediate full-channel response for critical and emergency
// alerts, guardian notification for high.
func DefaultRules() []*Rule {
	rules := []*Rule{
		{
			ID:              "critical_grooming",
			Description:     "Immediate response to critical grooming detection",
			MatchSeverities: []Severity{SeverityCritical, SeverityEmergency},
			Actions: []RuleAction{
				{Type: ActionNotify, Channels: []string{"email", "sms", "push", "dashboard"}},
				{Type: ActionEscalate, To: string(LevelLawEnforcement), Reason: "Critical grooming pattern detected"},
			},
		},
		{
			ID:              "high_risk",
			Description:     "Guardian notification for high risk activity",
			MatchSeverities: []Severity{SeverityHigh},
			Actions: []RuleAction{
				{Type: ActionNotify, Channels: []string{"email", "push", "dashboard"}},
			},
		},
	}
	for _, rule := range rules {
		// Built-ins carry no conditions; compile only validates severities.
		if err := rule.compile(); err != nil {
			panic(err)
		}
	}
	return rules
}
