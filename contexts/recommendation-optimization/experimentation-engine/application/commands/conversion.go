package commands

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

const ReasonNotAssigned = "not_assigned"

// DefaultConversionValue is used when the caller omits a value.
const DefaultConversionValue = 1.0

type RecordConversionCommand struct {
	ExperimentID string
	SubjectID    string
	EventName    string
	// Value nil means DefaultConversionValue.
	Value    *float64
	Metadata map[string]any
}

type ConversionResult struct {
	Recorded bool
	Reason   string
	EventID  string
}

// ConversionUseCase appends conversion events against existing assignments.
// Events are never merged or deduplicated.
type ConversionUseCase struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventLogRepository
	Clock       ports.Clock
	IDGen       ports.IDGenerator
	Logger      *slog.Logger
}

func (uc ConversionUseCase) RecordConversion(ctx context.Context, cmd RecordConversionCommand) (ConversionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.RecordConversion")
	defer span.End()

	cmd.ExperimentID = strings.TrimSpace(cmd.ExperimentID)
	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	cmd.EventName = strings.TrimSpace(cmd.EventName)
	value := DefaultConversionValue
	if cmd.Value != nil {
		value = *cmd.Value
	}
	if cmd.ExperimentID == "" ||
		cmd.SubjectID == "" ||
		cmd.EventName == "" ||
		math.IsNaN(value) || math.IsInf(value, 0) {
		application.ConversionsTotal.WithLabelValues("invalid").Inc()
		return ConversionResult{}, domainerrors.ErrInvalidConversionInput
	}

	_, found, err := uc.Assignments.GetAssignment(ctx, cmd.ExperimentID, cmd.SubjectID)
	if err != nil {
		application.ConversionsTotal.WithLabelValues("error").Inc()
		return ConversionResult{}, domainerrors.Storage("get_assignment", err)
	}
	if !found {
		return uc.skip(logger, cmd, ReasonNotAssigned), nil
	}
	experiment, err := uc.Experiments.GetExperiment(ctx, cmd.ExperimentID)
	if err != nil {
		application.ConversionsTotal.WithLabelValues("error").Inc()
		return ConversionResult{}, domainerrors.Storage("get_experiment", err)
	}
	if experiment.Status != entities.ExperimentStatusActive {
		return uc.skip(logger, cmd, ReasonExperimentNotActive), nil
	}

	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ConversionResult{}, err
	}
	metadata := cmd.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if err := uc.Events.AppendConversionEvent(ctx, entities.ConversionEvent{
		EventID:      eventID,
		ExperimentID: cmd.ExperimentID,
		SubjectID:    cmd.SubjectID,
		EventName:    cmd.EventName,
		Value:        value,
		Metadata:     metadata,
		OccurredAt:   uc.now(),
	}); err != nil {
		application.ConversionsTotal.WithLabelValues("error").Inc()
		return ConversionResult{}, domainerrors.Storage("append_conversion_event", err)
	}

	application.ConversionsTotal.WithLabelValues("recorded").Inc()
	logger.Debug("conversion recorded",
		"event", "experimentation_conversion_recorded",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", cmd.ExperimentID,
		"subject_id", cmd.SubjectID,
		"event_name", cmd.EventName,
		"value", value,
	)
	return ConversionResult{Recorded: true, EventID: eventID}, nil
}

func (uc ConversionUseCase) skip(logger *slog.Logger, cmd RecordConversionCommand, reason string) ConversionResult {
	application.ConversionsTotal.WithLabelValues(reason).Inc()
	logger.Debug("conversion skipped",
		"event", "experimentation_conversion_skipped",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", cmd.ExperimentID,
		"subject_id", cmd.SubjectID,
		"event_name", cmd.EventName,
		"reason", reason,
	)
	return ConversionResult{Reason: reason}
}

func (uc ConversionUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
