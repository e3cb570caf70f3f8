package limits

import "github.com/plugflow/plugflow/internal/models"

// Unlimited disables a quota dimension for a plan.
const Unlimited = -1

type PlanLimits struct {
	MonthlyPublishes int
	MonthlyPlugFires int
}

var planLimits = map[string]PlanLimits{
	models.PlanFree:   {MonthlyPublishes: 10, MonthlyPlugFires: 5},
	models.PlanPro:    {MonthlyPublishes: 100, MonthlyPlugFires: 100},
	models.PlanAgency: {MonthlyPublishes: Unlimited, MonthlyPlugFires: Unlimited},
}

// LimitsForPlan falls back to the free tier for unknown plan values so
// a bad row never grants unlimited quota.
func LimitsForPlan(plan string) PlanLimits {
	if limits, ok := planLimits[plan]; ok {
		return limits
	}
	return planLimits[models.PlanFree]
}
