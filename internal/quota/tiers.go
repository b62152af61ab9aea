package quota

import "slackcoach/internal/models"

// Limits is the monthly allowance per operation for one tier.
type Limits struct {
	AutoCoach int
	Rephrase  int
	Feedback  int
}

var tierLimits = map[string]Limits{
	models.TierFree: {AutoCoach: 10, Rephrase: 5, Feedback: 1},
	models.TierPro:  {AutoCoach: 1000, Rephrase: 500, Feedback: 30},
}

// LimitsFor resolves a tier name; unknown tiers get the free limits so
// a bad billing sync can never mint unlimited usage.
func LimitsFor(tier string) Limits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[models.TierFree]
}

// For returns the limit for one operation kind.
func (l Limits) For(op models.OperationKind) int {
	switch op {
	case models.OpAutoCoach:
		return l.AutoCoach
	case models.OpRephrase:
		return l.Rephrase
	case models.OpFeedback:
		return l.Feedback
	}
	return 0
}
