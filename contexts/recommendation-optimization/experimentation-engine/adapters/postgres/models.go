package postgresadapter

import (
	"encoding/json"
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
)

type experimentModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	Name             string    `gorm:"column:name"`
	Description      string    `gorm:"column:description"`
	Hypothesis       string    `gorm:"column:hypothesis"`
	TargetMetric     string    `gorm:"column:target_metric"`
	SuccessThreshold float64   `gorm:"column:success_threshold"`
	MinSampleSize    int       `gorm:"column:min_sample_size"`
	Status           string    `gorm:"column:status;index"`
	StartDate        time.Time `gorm:"column:start_date"`
	EndDate          time.Time `gorm:"column:end_date"`
	WinningVariantID *string   `gorm:"column:winning_variant_id"`
	CreatedBy        string    `gorm:"column:created_by"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (experimentModel) TableName() string {
	return "experiments"
}

func experimentModelFromEntity(experiment entities.Experiment) experimentModel {
	row := experimentModel{
		ID:               experiment.ExperimentID,
		Name:             experiment.Name,
		Description:      experiment.Description,
		Hypothesis:       experiment.Hypothesis,
		TargetMetric:     experiment.TargetMetric,
		SuccessThreshold: experiment.SuccessThreshold,
		MinSampleSize:    experiment.MinSampleSize,
		Status:           string(experiment.Status),
		StartDate:        experiment.StartDate.UTC(),
		EndDate:          experiment.EndDate.UTC(),
		CreatedBy:        experiment.CreatedBy,
		CreatedAt:        experiment.CreatedAt.UTC(),
		UpdatedAt:        experiment.UpdatedAt.UTC(),
	}
	if experiment.WinningVariantID != "" {
		winner := experiment.WinningVariantID
		row.WinningVariantID = &winner
	}
	return row
}

func (m experimentModel) toEntity() entities.Experiment {
	experiment := entities.Experiment{
		ExperimentID:     m.ID,
		Name:             m.Name,
		Description:      m.Description,
		Hypothesis:       m.Hypothesis,
		TargetMetric:     m.TargetMetric,
		SuccessThreshold: m.SuccessThreshold,
		MinSampleSize:    m.MinSampleSize,
		Status:           entities.ExperimentStatus(m.Status),
		StartDate:        m.StartDate.UTC(),
		EndDate:          m.EndDate.UTC(),
		CreatedBy:        m.CreatedBy,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
	if m.WinningVariantID != nil {
		experiment.WinningVariantID = *m.WinningVariantID
	}
	return experiment
}

type variantModel struct {
	ID                string    `gorm:"column:id;primaryKey"`
	ExperimentID      string    `gorm:"column:experiment_id;index"`
	Name              string    `gorm:"column:name"`
	Description       string    `gorm:"column:description"`
	Config            []byte    `gorm:"column:config;type:jsonb"`
	TrafficPercentage float64   `gorm:"column:traffic_percentage"`
	IsControl         bool      `gorm:"column:is_control"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

func (variantModel) TableName() string {
	return "experiment_variants"
}

func variantModelFromEntity(variant entities.Variant) variantModel {
	config := []byte(variant.Config)
	if len(config) == 0 {
		config = []byte("{}")
	}
	return variantModel{
		ID:                variant.VariantID,
		ExperimentID:      variant.ExperimentID,
		Name:              variant.Name,
		Description:       variant.Description,
		Config:            config,
		TrafficPercentage: variant.TrafficPercentage,
		IsControl:         variant.IsControl,
		CreatedAt:         variant.CreatedAt.UTC(),
	}
}

func (m variantModel) toEntity() entities.Variant {
	return entities.Variant{
		VariantID:         m.ID,
		ExperimentID:      m.ExperimentID,
		Name:              m.Name,
		Description:       m.Description,
		Config:            append(json.RawMessage(nil), m.Config...),
		TrafficPercentage: m.TrafficPercentage,
		IsControl:         m.IsControl,
		CreatedAt:         m.CreatedAt.UTC(),
	}
}

// assignmentModel has a composite primary key, which is the unique
// constraint insert-or-fetch relies on.
type assignmentModel struct {
	ExperimentID string    `gorm:"column:experiment_id;primaryKey"`
	SubjectID    string    `gorm:"column:subject_id;primaryKey"`
	VariantID    string    `gorm:"column:variant_id;index"`
	AssignedAt   time.Time `gorm:"column:assigned_at"`
}

func (assignmentModel) TableName() string {
	return "experiment_assignments"
}

func (m assignmentModel) toEntity(events entities.EventLog) entities.Assignment {
	if events == nil {
		events = entities.EventLog{}
	}
	return entities.Assignment{
		ExperimentID: m.ExperimentID,
		SubjectID:    m.SubjectID,
		VariantID:    m.VariantID,
		AssignedAt:   m.AssignedAt.UTC(),
		Events:       events,
	}
}

type conversionEventModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	ExperimentID string    `gorm:"column:experiment_id;index:idx_conversion_subject"`
	SubjectID    string    `gorm:"column:subject_id;index:idx_conversion_subject"`
	EventName    string    `gorm:"column:event_name"`
	Value        float64   `gorm:"column:value"`
	Metadata     []byte    `gorm:"column:metadata;type:jsonb"`
	OccurredAt   time.Time `gorm:"column:occurred_at"`
	Seq          int64     `gorm:"column:seq;autoIncrement"`
}

func (conversionEventModel) TableName() string {
	return "experiment_conversion_events"
}

func (m conversionEventModel) toEntity() entities.ConversionEvent {
	metadata := map[string]any{}
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	return entities.ConversionEvent{
		EventID:      m.ID,
		ExperimentID: m.ExperimentID,
		SubjectID:    m.SubjectID,
		EventName:    m.EventName,
		Value:        m.Value,
		Metadata:     metadata,
		OccurredAt:   m.OccurredAt.UTC(),
	}
}

type resultSnapshotModel struct {
	ID                      string    `gorm:"column:id;primaryKey"`
	ExperimentID            string    `gorm:"column:experiment_id;index"`
	VariantID               string    `gorm:"column:variant_id"`
	IsControl               bool      `gorm:"column:is_control"`
	SampleSize              int       `gorm:"column:sample_size"`
	UniqueConversions       int       `gorm:"column:unique_conversions"`
	ConversionRate          float64   `gorm:"column:conversion_rate"`
	AverageValue            float64   `gorm:"column:average_value"`
	TotalValue              float64   `gorm:"column:total_value"`
	PValue                  float64   `gorm:"column:p_value"`
	IsSignificant           bool      `gorm:"column:is_significant"`
	ConfidenceLevel         float64   `gorm:"column:confidence_level"`
	ImprovementPercentage   float64   `gorm:"column:improvement_percentage"`
	ConfidenceIntervalLower float64   `gorm:"column:confidence_interval_lower"`
	ConfidenceIntervalUpper float64   `gorm:"column:confidence_interval_upper"`
	Status                  string    `gorm:"column:status"`
	WinningVariantID        string    `gorm:"column:winning_variant_id"`
	RecordedAt              time.Time `gorm:"column:recorded_at"`
}

func (resultSnapshotModel) TableName() string {
	return "experiment_results"
}

func resultSnapshotModelFromEntity(snapshot entities.ResultSnapshot) resultSnapshotModel {
	return resultSnapshotModel{
		ID:                      snapshot.SnapshotID,
		ExperimentID:            snapshot.ExperimentID,
		VariantID:               snapshot.VariantID,
		IsControl:               snapshot.IsControl,
		SampleSize:              snapshot.SampleSize,
		UniqueConversions:       snapshot.UniqueConversions,
		ConversionRate:          snapshot.ConversionRate,
		AverageValue:            snapshot.AverageValue,
		TotalValue:              snapshot.TotalValue,
		PValue:                  snapshot.PValue,
		IsSignificant:           snapshot.IsSignificant,
		ConfidenceLevel:         snapshot.ConfidenceLevel,
		ImprovementPercentage:   snapshot.ImprovementPercentage,
		ConfidenceIntervalLower: snapshot.ConfidenceIntervalLower,
		ConfidenceIntervalUpper: snapshot.ConfidenceIntervalUpper,
		Status:                  string(snapshot.Status),
		WinningVariantID:        snapshot.WinningVariantID,
		RecordedAt:              snapshot.RecordedAt.UTC(),
	}
}

func (m resultSnapshotModel) toEntity() entities.ResultSnapshot {
	return entities.ResultSnapshot{
		SnapshotID:              m.ID,
		ExperimentID:            m.ExperimentID,
		VariantID:               m.VariantID,
		IsControl:               m.IsControl,
		SampleSize:              m.SampleSize,
		UniqueConversions:       m.UniqueConversions,
		ConversionRate:          m.ConversionRate,
		AverageValue:            m.AverageValue,
		TotalValue:              m.TotalValue,
		PValue:                  m.PValue,
		IsSignificant:           m.IsSignificant,
		ConfidenceLevel:         m.ConfidenceLevel,
		ImprovementPercentage:   m.ImprovementPercentage,
		ConfidenceIntervalLower: m.ConfidenceIntervalLower,
		ConfidenceIntervalUpper: m.ConfidenceIntervalUpper,
		Status:                  entities.ResultStatus(m.Status),
		WinningVariantID:        m.WinningVariantID,
		RecordedAt:              m.RecordedAt.UTC(),
	}
}

type idempotencyModel struct {
	Key          string    `gorm:"column:key;primaryKey"`
	RequestHash  string    `gorm:"column:request_hash"`
	ExperimentID string    `gorm:"column:experiment_id"`
	ExpiresAt    time.Time `gorm:"column:expires_at"`
}

func (idempotencyModel) TableName() string {
	return "experimentation_idempotency"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload;type:jsonb"`
	Status       string     `gorm:"column:status;index"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "experimentation_outbox"
}

// Models lists the tables owned by this module, in migration order.
func Models() []any {
	return []any{
		&experimentModel{},
		&variantModel{},
		&assignmentModel{},
		&conversionEventModel{},
		&resultSnapshotModel{},
		&idempotencyModel{},
		&outboxModel{},
	}
}
