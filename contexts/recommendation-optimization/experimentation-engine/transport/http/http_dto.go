package http

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
)

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("rawjson", validateRawJSON)
}

// validateRawJSON accepts an empty payload or any syntactically valid JSON.
func validateRawJSON(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice {
		return false
	}
	raw := field.Bytes()
	return len(raw) == 0 || json.Valid(raw)
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateExperimentRequest struct {
	Name             string  `json:"name" validate:"required,max=200"`
	Description      string  `json:"description,omitempty" validate:"max=2000"`
	Hypothesis       string  `json:"hypothesis,omitempty" validate:"max=2000"`
	TargetMetric     string  `json:"target_metric" validate:"required,max=100"`
	SuccessThreshold float64 `json:"success_threshold" validate:"gte=0"`
	MinSampleSize    int     `json:"min_sample_size" validate:"gte=0"`
	DurationDays     int     `json:"duration_days,omitempty" validate:"gte=0,lte=3650"`
}

func (r *CreateExperimentRequest) Validate() error {
	return requestValidate.Struct(r)
}

type AddVariantRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Description       string          `json:"description,omitempty" validate:"max=2000"`
	Config            json.RawMessage `json:"config,omitempty" validate:"omitempty,rawjson"`
	TrafficPercentage float64         `json:"traffic_percentage" validate:"gte=0,lte=100"`
	IsControl         bool            `json:"is_control"`
}

func (r *AddVariantRequest) Validate() error {
	return requestValidate.Struct(r)
}

type AssignRequest struct {
	SubjectID string `json:"subject_id" validate:"required,max=200"`
}

func (r *AssignRequest) Validate() error {
	return requestValidate.Struct(r)
}

type RecordConversionRequest struct {
	SubjectID string         `json:"subject_id" validate:"required,max=200"`
	EventName string         `json:"event_name" validate:"required,max=100"`
	Value     *float64       `json:"value,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (r *RecordConversionRequest) Validate() error {
	return requestValidate.Struct(r)
}

type CompleteExperimentRequest struct {
	WinningVariantID string `json:"winning_variant_id,omitempty" validate:"max=200"`
}

func (r *CompleteExperimentRequest) Validate() error {
	return requestValidate.Struct(r)
}

type ExperimentResponse struct {
	ExperimentID     string    `json:"experiment_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Hypothesis       string    `json:"hypothesis,omitempty"`
	TargetMetric     string    `json:"target_metric"`
	SuccessThreshold float64   `json:"success_threshold"`
	MinSampleSize    int       `json:"min_sample_size"`
	Status           string    `json:"status"`
	StartDate        time.Time `json:"start_date"`
	EndDate          time.Time `json:"end_date"`
	WinningVariantID string    `json:"winning_variant_id,omitempty"`
	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Replayed         bool      `json:"replayed,omitempty"`
}

type VariantResponse struct {
	VariantID         string          `json:"variant_id"`
	ExperimentID      string          `json:"experiment_id"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Config            json.RawMessage `json:"config,omitempty"`
	TrafficPercentage float64         `json:"traffic_percentage"`
	IsControl         bool            `json:"is_control"`
}

type ListExperimentsResponse struct {
	Items []ExperimentResponse `json:"items"`
}

type ListVariantsResponse struct {
	Items []VariantResponse `json:"items"`
}

// TransitionResponse reports a lifecycle operation. Applied false with a
// reason is a refusal, not an error.
type TransitionResponse struct {
	Applied    bool               `json:"applied"`
	Reason     string             `json:"reason,omitempty"`
	Experiment ExperimentResponse `json:"experiment"`
}

type AssignResponse struct {
	ExperimentID string `json:"experiment_id"`
	SubjectID    string `json:"subject_id"`
	VariantID    string `json:"variant_id,omitempty"`
	Assigned     bool   `json:"assigned"`
	Created      bool   `json:"created"`
	Reason       string `json:"reason,omitempty"`
}

type ConversionResponse struct {
	Recorded bool   `json:"recorded"`
	Reason   string `json:"reason,omitempty"`
	EventID  string `json:"event_id,omitempty"`
}

type MetricsResponse struct {
	SampleSize        int       `json:"sample_size"`
	UniqueConversions int       `json:"unique_conversions"`
	ConversionRate    float64   `json:"conversion_rate"`
	AverageValue      float64   `json:"average_value"`
	TotalValue        float64   `json:"total_value"`
	RawValues         []float64 `json:"raw_values"`
}

type SignificanceResponse struct {
	ComparedTo              string  `json:"compared_to"`
	PValue                  float64 `json:"p_value"`
	IsSignificant           bool    `json:"is_significant"`
	ConfidenceLevel         float64 `json:"confidence_level"`
	ImprovementPercentage   float64 `json:"improvement_percentage"`
	ConfidenceIntervalLower float64 `json:"confidence_interval_lower"`
	ConfidenceIntervalUpper float64 `json:"confidence_interval_upper"`
}

type VariantResultResponse struct {
	VariantID    string                `json:"variant_id"`
	Name         string                `json:"name"`
	IsControl    bool                  `json:"is_control"`
	Metrics      MetricsResponse       `json:"metrics"`
	Significance *SignificanceResponse `json:"significance,omitempty"`
}

type ResultsResponse struct {
	ExperimentID       string                  `json:"experiment_id"`
	ExperimentStatus   string                  `json:"experiment_status"`
	Status             string                  `json:"status"`
	RecommendedVariant string                  `json:"recommended_variant_id,omitempty"`
	Variants           []VariantResultResponse `json:"variants"`
	GeneratedAt        time.Time               `json:"generated_at"`
}

type SnapshotResponse struct {
	SnapshotID            string    `json:"snapshot_id"`
	VariantID             string    `json:"variant_id"`
	IsControl             bool      `json:"is_control"`
	SampleSize            int       `json:"sample_size"`
	UniqueConversions     int       `json:"unique_conversions"`
	ConversionRate        float64   `json:"conversion_rate"`
	AverageValue          float64   `json:"average_value"`
	TotalValue            float64   `json:"total_value"`
	PValue                float64   `json:"p_value"`
	IsSignificant         bool      `json:"is_significant"`
	ConfidenceLevel       float64   `json:"confidence_level"`
	ImprovementPercentage float64   `json:"improvement_percentage"`
	Status                string    `json:"status"`
	WinningVariantID      string    `json:"winning_variant_id,omitempty"`
	RecordedAt            time.Time `json:"recorded_at"`
}

type ListSnapshotsResponse struct {
	Items []SnapshotResponse `json:"items"`
}
