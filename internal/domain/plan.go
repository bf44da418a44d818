package domain

// Plan enumerates the subscription tiers. Quotas and feature gates hang off
// the owning account's plan, not the form.
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanStarter    Plan = "STARTER"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// PlanConfig holds the per-tier limits and feature gates.
type PlanConfig struct {
	Name                string
	SubmissionsPerMonth int
	MaxForms            int // 0 = unlimited
	FileUploads         bool
	Webhooks            bool
	AISpamFilter        bool
	EmailRouting        bool
}

var plans = map[Plan]PlanConfig{
	PlanFree: {
		Name:                "Free",
		SubmissionsPerMonth: 500,
		MaxForms:            3,
	},
	PlanStarter: {
		Name:                "Starter",
		SubmissionsPerMonth: 2500,
		MaxForms:            25,
		FileUploads:         true,
		Webhooks:            true,
		AISpamFilter:        true,
		EmailRouting:        true,
	},
	PlanPro: {
		Name:                "Pro",
		SubmissionsPerMonth: 10000,
		FileUploads:         true,
		Webhooks:            true,
		AISpamFilter:        true,
		EmailRouting:        true,
	},
	PlanEnterprise: {
		Name:                "Enterprise",
		SubmissionsPerMonth: 50000,
		FileUploads:         true,
		Webhooks:            true,
		AISpamFilter:        true,
		EmailRouting:        true,
	},
}

// Config returns the plan's limits. Unknown plans resolve to Free so a bad
// DB value degrades to the most restrictive tier instead of panicking.
func (p Plan) Config() PlanConfig {
	if cfg, ok := plans[p]; ok {
		return cfg
	}
	return plans[PlanFree]
}

// SubmissionLimit returns the plan's monthly non-spam submission quota.
func (p Plan) SubmissionLimit() int {
	return p.Config().SubmissionsPerMonth
}

// WithinSubmissionLimit reports whether a month with currentCount accepted
// submissions still has room for one more.
func (p Plan) WithinSubmissionLimit(currentCount int) bool {
	return currentCount < p.Config().SubmissionsPerMonth
}
