package services

import (
	"math"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
)

// SignificanceStrategy compares a control value distribution with a treatment
// distribution. The decision policy only reads IsSignificant and
// ImprovementPercentage, so alternative tests can be swapped in.
type SignificanceStrategy interface {
	Evaluate(controlValues []float64, treatmentValues []float64) entities.SignificanceVerdict
}

// Critical |t| boundaries for the significance bands.
const (
	bandCritical001 = 2.576
	bandCritical005 = 1.96
	bandCritical010 = 1.645
)

// BandedTTest runs a pooled-variance two-sample t-test and maps |t| onto a
// coarse significance band (0.01, 0.05, 0.10, 0.20) instead of computing an
// exact p-value.
type BandedTTest struct {
	// ConfidenceLevel selects the interval critical value: 1.96 when it is
	// 0.95, 2.576 otherwise. Zero means 0.95.
	ConfidenceLevel float64
}

// InconclusiveVerdict is returned for degenerate input.
func InconclusiveVerdict() entities.SignificanceVerdict {
	return entities.SignificanceVerdict{
		PValue:          1.0,
		IsSignificant:   false,
		ConfidenceLevel: 0,
	}
}

func (b BandedTTest) Evaluate(controlValues []float64, treatmentValues []float64) entities.SignificanceVerdict {
	n1, n2 := len(controlValues), len(treatmentValues)
	if n1 < 2 || n2 < 2 {
		return InconclusiveVerdict()
	}

	controlMean, controlVar := meanAndVariance(controlValues)
	treatmentMean, treatmentVar := meanAndVariance(treatmentValues)
	improvement := improvementPercentage(controlMean, treatmentMean)

	pooledVar := (float64(n1-1)*controlVar + float64(n2-1)*treatmentVar) / float64(n1+n2-2)
	standardError := math.Sqrt(pooledVar * (1/float64(n1) + 1/float64(n2)))
	if standardError == 0 || math.IsNaN(standardError) || math.IsInf(standardError, 0) {
		// Zero variance on both sides leaves t undefined.
		verdict := InconclusiveVerdict()
		verdict.ImprovementPercentage = improvement
		return verdict
	}

	t := (treatmentMean - controlMean) / standardError
	band := SignificanceBand(math.Abs(t))

	margin := b.criticalValue() * standardError
	diff := controlMean - treatmentMean
	return entities.SignificanceVerdict{
		PValue:                  band,
		IsSignificant:           band < 0.05,
		ConfidenceLevel:         Round2((1 - band) * 100),
		ImprovementPercentage:   improvement,
		ConfidenceIntervalLower: Round2(diff - margin),
		ConfidenceIntervalUpper: Round2(diff + margin),
	}
}

func (b BandedTTest) criticalValue() float64 {
	level := b.ConfidenceLevel
	if level == 0 || level == 0.95 {
		return 1.96
	}
	return 2.576
}

// SignificanceBand maps an absolute t statistic to its approximate band.
func SignificanceBand(absT float64) float64 {
	switch {
	case absT > bandCritical001:
		return 0.01
	case absT > bandCritical005:
		return 0.05
	case absT > bandCritical010:
		return 0.10
	default:
		return 0.20
	}
}

func improvementPercentage(controlMean float64, treatmentMean float64) float64 {
	if controlMean == 0 {
		return 0
	}
	return Round2((treatmentMean - controlMean) / controlMean * 100)
}

// meanAndVariance returns the sample mean and the n-1 sample variance.
func meanAndVariance(values []float64) (float64, float64) {
	sum := 0.0
	for _, value := range values {
		sum += value
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	squares := 0.0
	for _, value := range values {
		delta := value - mean
		squares += delta * delta
	}
	return mean, squares / float64(len(values)-1)
}

var _ SignificanceStrategy = BandedTTest{}
