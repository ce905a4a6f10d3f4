package rules

import "github.com/gridwatch/kestrel/internal/domain"

func limit(v float64) *float64 { return &v }

// BuiltinRules returns the stock theft-detection rule set. They are
// seeded into the database on first start and can be tuned or disabled
// through the rules API afterwards.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "zero-consumption",
			Name:        "Zero consumption run",
			Description: "Sustained zero readings suggest meter bypass or tampering",
			Version:     "1.0.0",
			Expression:  "zero_ratio",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(0.1), SubRuleRef: domain.RuleOutcomePass, Reason: "occasional zero readings"},
				{LowerLimit: limit(0.1), UpperLimit: limit(0.3), SubRuleRef: domain.RuleOutcomeHigh, Reason: "frequent zero readings"},
				{LowerLimit: limit(0.3), SubRuleRef: domain.RuleOutcomeCritical, Reason: "sustained zero consumption"},
			},
		},
		{
			ID:          "negative-readings",
			Name:        "Negative readings",
			Description: "Negative consumption indicates meter reversal",
			Version:     "1.0.0",
			Expression:  "negative_count > 0.0 ? 1.0 : 0.0",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(1), SubRuleRef: domain.RuleOutcomePass, Reason: "no negative readings"},
				{LowerLimit: limit(1), SubRuleRef: domain.RuleOutcomeCritical, Reason: "negative readings present"},
			},
		},
		{
			ID:          "abnormally-low-mean",
			Name:        "Abnormally low consumption",
			Description: "Mean consumption far below any plausible household load",
			Version:     "1.0.0",
			Expression:  "mean",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				// No lower bound: a negative mean is at least as suspicious
				// as a near-zero one.
				{UpperLimit: limit(0.15), SubRuleRef: domain.RuleOutcomeHigh, Reason: "consumption near zero"},
				{LowerLimit: limit(0.15), UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeMedium, Reason: "consumption unusually low"},
				{LowerLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "consumption in normal range"},
			},
		},
		{
			ID:          "constant-load",
			Name:        "Constant load",
			Description: "Near-zero variance suggests a fixed resistor feeding the meter",
			Version:     "1.0.0",
			Expression:  "mean > 0.0 ? std : 1.0",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(0.1), SubRuleRef: domain.RuleOutcomeHigh, Reason: "consumption suspiciously flat"},
				{LowerLimit: limit(0.1), UpperLimit: limit(0.3), SubRuleRef: domain.RuleOutcomeMedium, Reason: "consumption variance low"},
				{LowerLimit: limit(0.3), SubRuleRef: domain.RuleOutcomePass, Reason: "normal load variation"},
			},
		},
		{
			ID:          "erratic-variability",
			Name:        "Erratic variability",
			Description: "Extreme coefficient of variation points at intermittent tampering",
			Version:     "1.0.0",
			Expression:  "cv",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(1.2), SubRuleRef: domain.RuleOutcomePass, Reason: "variation in normal range"},
				{LowerLimit: limit(1.2), UpperLimit: limit(2.0), SubRuleRef: domain.RuleOutcomeMedium, Reason: "consumption highly variable"},
				{LowerLimit: limit(2.0), SubRuleRef: domain.RuleOutcomeHigh, Reason: "consumption extremely erratic"},
			},
		},
		{
			ID:          "missing-peaks",
			Name:        "Missing daily peaks",
			Description: "Households show morning and evening peaks; their absence is suspicious",
			Version:     "1.0.0",
			Expression:  "reading_count >= 24 && mean > 0.0 ? hourly_range : 1.0",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(0.2), SubRuleRef: domain.RuleOutcomeMedium, Reason: "daily peaks absent"},
				{LowerLimit: limit(0.2), UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeLow, Reason: "daily peaks dampened"},
				{LowerLimit: limit(0.5), SubRuleRef: domain.RuleOutcomePass, Reason: "normal daily peaks"},
			},
		},
		{
			ID:          "low-consumption-share",
			Name:        "Low consumption share",
			Description: "Large share of readings far below the profile's own mean",
			Version:     "1.0.0",
			Expression:  "low_consumption_ratio",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(0.3), SubRuleRef: domain.RuleOutcomePass, Reason: "low readings within norm"},
				{LowerLimit: limit(0.3), UpperLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeMedium, Reason: "many low readings"},
				{LowerLimit: limit(0.5), SubRuleRef: domain.RuleOutcomeHigh, Reason: "majority of readings abnormally low"},
			},
		},
		{
			ID:          "declining-trend",
			Name:        "Declining trend",
			Description: "Steady decline across the profile matches gradual meter slowdown",
			Version:     "1.0.0",
			Expression:  "0.0 - trend_slope",
			Enabled:     true,
			Weight:      1.0,
			Bands: []domain.RuleBand{
				{LowerLimit: limit(0), UpperLimit: limit(0.02), SubRuleRef: domain.RuleOutcomePass, Reason: "no meaningful decline"},
				{LowerLimit: limit(0.02), UpperLimit: limit(0.05), SubRuleRef: domain.RuleOutcomeMedium, Reason: "consumption declining"},
				{LowerLimit: limit(0.05), SubRuleRef: domain.RuleOutcomeHigh, Reason: "consumption declining sharply"},
			},
		},
	}
}
