package services

import (
	"strings"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
)

// Decision is the policy outcome plus the variant that triggered it, if any.
type Decision struct {
	Status    entities.ResultStatus
	VariantID string
}

// DecisionPolicy turns per-variant results into an overall experiment status.
type DecisionPolicy interface {
	Name() string
	Determine(results []entities.VariantResult, successThreshold float64, minSampleSize int) Decision
}

const (
	DecisionPolicyFirstMatch = "first_match"
	DecisionPolicyBestEffect = "best_effect"
)

// NewDecisionPolicy resolves a policy by name; unknown names use first match.
func NewDecisionPolicy(name string) DecisionPolicy {
	if strings.EqualFold(strings.TrimSpace(name), DecisionPolicyBestEffect) {
		return BestEffectPolicy{}
	}
	return FirstMatchPolicy{}
}

// FirstMatchPolicy returns on the first significant non-control variant, in
// result order, whose improvement crosses the threshold in either direction.
type FirstMatchPolicy struct{}

func (FirstMatchPolicy) Name() string { return DecisionPolicyFirstMatch }

func (FirstMatchPolicy) Determine(results []entities.VariantResult, successThreshold float64, minSampleSize int) Decision {
	if underSampled(results, minSampleSize) {
		return Decision{Status: entities.ResultStatusCollectingData}
	}
	for _, result := range results {
		if result.Variant.IsControl || result.Significance == nil || !result.Significance.IsSignificant {
			continue
		}
		improvement := result.Significance.ImprovementPercentage
		if improvement >= successThreshold {
			return Decision{Status: entities.ResultStatusWinnerFound, VariantID: result.Variant.VariantID}
		}
		if improvement <= -successThreshold {
			return Decision{Status: entities.ResultStatusControlBetter, VariantID: result.Variant.VariantID}
		}
	}
	return Decision{Status: entities.ResultStatusInconclusive}
}

// BestEffectPolicy prefers the significant variant with the largest winning
// improvement; control_better is reported only when no variant wins.
type BestEffectPolicy struct{}

func (BestEffectPolicy) Name() string { return DecisionPolicyBestEffect }

func (BestEffectPolicy) Determine(results []entities.VariantResult, successThreshold float64, minSampleSize int) Decision {
	if underSampled(results, minSampleSize) {
		return Decision{Status: entities.ResultStatusCollectingData}
	}
	var winner, loser *entities.VariantResult
	for i := range results {
		result := &results[i]
		if result.Variant.IsControl || result.Significance == nil || !result.Significance.IsSignificant {
			continue
		}
		improvement := result.Significance.ImprovementPercentage
		if improvement >= successThreshold &&
			(winner == nil || improvement > winner.Significance.ImprovementPercentage) {
			winner = result
		}
		if improvement <= -successThreshold &&
			(loser == nil || improvement < loser.Significance.ImprovementPercentage) {
			loser = result
		}
	}
	switch {
	case winner != nil:
		return Decision{Status: entities.ResultStatusWinnerFound, VariantID: winner.Variant.VariantID}
	case loser != nil:
		return Decision{Status: entities.ResultStatusControlBetter, VariantID: loser.Variant.VariantID}
	default:
		return Decision{Status: entities.ResultStatusInconclusive}
	}
}

func underSampled(results []entities.VariantResult, minSampleSize int) bool {
	for _, result := range results {
		if result.Metrics.SampleSize < minSampleSize {
			return true
		}
	}
	return false
}

var (
	_ DecisionPolicy = FirstMatchPolicy{}
	_ DecisionPolicy = BestEffectPolicy{}
)
