package entities

import "time"

type ResultStatus string

const (
	ResultStatusCollectingData ResultStatus = "collecting_data"
	ResultStatusWinnerFound    ResultStatus = "winner_found"
	ResultStatusControlBetter  ResultStatus = "control_better"
	ResultStatusInconclusive   ResultStatus = "inconclusive"
)

// VariantMetrics is the per-variant summary folded from assignment logs.
type VariantMetrics struct {
	VariantID         string
	SampleSize        int
	UniqueConversions int
	ConversionRate    float64
	AverageValue      float64
	TotalValue        float64
	RawValues         []float64
}

// SignificanceVerdict compares one treatment variant against the control.
// PValue holds the discretized significance band, not an exact p-value.
type SignificanceVerdict struct {
	ComparedTo              string
	PValue                  float64
	IsSignificant           bool
	ConfidenceLevel         float64
	ImprovementPercentage   float64
	ConfidenceIntervalLower float64
	ConfidenceIntervalUpper float64
}

type VariantResult struct {
	Variant      Variant
	Metrics      VariantMetrics
	Significance *SignificanceVerdict
}

type ResultsReport struct {
	Experiment         Experiment
	Variants           []VariantResult
	Status             ResultStatus
	RecommendedVariant string
	GeneratedAt        time.Time
}

// ResultSnapshot is the flattened audit record written at completion.
type ResultSnapshot struct {
	SnapshotID              string
	ExperimentID            string
	VariantID               string
	IsControl               bool
	SampleSize              int
	UniqueConversions       int
	ConversionRate          float64
	AverageValue            float64
	TotalValue              float64
	PValue                  float64
	IsSignificant           bool
	ConfidenceLevel         float64
	ImprovementPercentage   float64
	ConfidenceIntervalLower float64
	ConfidenceIntervalUpper float64
	Status                  ResultStatus
	WinningVariantID        string
	RecordedAt              time.Time
}
