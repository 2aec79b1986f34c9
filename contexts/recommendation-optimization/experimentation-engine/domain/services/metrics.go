package services

import (
	"math"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
)

// AggregateVariant folds the assignments of one variant into summary metrics
// for metricName. A subject with several events of that name counts once in
// UniqueConversions but contributes every value to RawValues.
func AggregateVariant(variantID string, assignments []entities.Assignment, metricName string) entities.VariantMetrics {
	metrics := entities.VariantMetrics{
		VariantID:  variantID,
		SampleSize: len(assignments),
		RawValues:  make([]float64, 0),
	}

	total := 0.0
	for _, assignment := range assignments {
		entries, ok := assignment.Events[metricName]
		if !ok || len(entries) == 0 {
			continue
		}
		metrics.UniqueConversions++
		for _, entry := range entries {
			metrics.RawValues = append(metrics.RawValues, entry.Value)
			total += entry.Value
		}
	}

	metrics.TotalValue = Round2(total)
	if metrics.SampleSize > 0 {
		metrics.ConversionRate = Round2(float64(metrics.UniqueConversions) / float64(metrics.SampleSize) * 100)
	}
	if metrics.UniqueConversions > 0 {
		metrics.AverageValue = Round2(total / float64(metrics.UniqueConversions))
	}
	return metrics
}

// Round2 rounds half away from zero to two decimals.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}
