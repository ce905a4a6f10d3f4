package domain

// RuleConfig defines a theft detection rule configuration.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluated over the consumption feature set
	Expression string `json:"expression"`

	// Outcome bands for score-to-severity mapping
	Bands []RuleBand `json:"bands"`

	// Rule weight (reserved for custom aggregation strategies)
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// RuleBand maps a score range to a severity outcome.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g., ".pass", ".medium", ".critical"
	Reason     string   `json:"reason"`
}

// RuleResult is the output of a rule evaluation.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	RuleName   string  `json:"ruleName"`
	TenantID   string  `json:"tenantId"`
	ProfileID  string  `json:"profileId"`
	SubRuleRef string  `json:"subRuleRef"` // severity outcome
	Score      float64 `json:"score"`      // The computed expression value
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}

// Predefined rule outcomes, ordered by severity.
const (
	RuleOutcomeCritical = ".critical"
	RuleOutcomeHigh     = ".high"
	RuleOutcomeMedium   = ".medium"
	RuleOutcomeLow      = ".low"
	RuleOutcomePass     = ".pass"
	RuleOutcomeError    = ".err"
)

// SeverityWeights maps severity outcomes to their contribution in the
// aggregate rule score.
var SeverityWeights = map[string]float64{
	RuleOutcomeCritical: 1.0,
	RuleOutcomeHigh:     0.7,
	RuleOutcomeMedium:   0.4,
	RuleOutcomeLow:      0.2,
}

// Severity returns the severity weight of the result's outcome,
// or 0 for pass/error outcomes.
func (r *RuleResult) Severity() float64 {
	return SeverityWeights[r.SubRuleRef]
}
