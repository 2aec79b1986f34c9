package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

const (
	ReasonExperimentNotActive = "experiment_not_active"
	ReasonExperimentExpired   = "experiment_expired"
	ReasonNoVariants          = "no_variants"
)

type AssignCommand struct {
	ExperimentID string
	SubjectID    string
}

// AssignResult is a typed outcome: Assigned false with a Reason is a valid
// "no variant" answer, not a failure.
type AssignResult struct {
	VariantID string
	Assigned  bool
	Created   bool
	Reason    string
}

// AssignmentUseCase deterministically binds a subject to one variant of an
// active experiment.
type AssignmentUseCase struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Clock       ports.Clock
	Salting     services.BucketSalting
	Logger      *slog.Logger
}

func (uc AssignmentUseCase) Assign(ctx context.Context, cmd AssignCommand) (AssignResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.Assign")
	defer span.End()

	cmd.ExperimentID = strings.TrimSpace(cmd.ExperimentID)
	cmd.SubjectID = strings.TrimSpace(cmd.SubjectID)
	if cmd.ExperimentID == "" || cmd.SubjectID == "" {
		application.AssignmentsTotal.WithLabelValues("invalid").Inc()
		return AssignResult{}, domainerrors.ErrInvalidAssignmentInput
	}
	span.SetAttributes(attribute.String("experiment_id", cmd.ExperimentID))

	existing, found, err := uc.Assignments.GetAssignment(ctx, cmd.ExperimentID, cmd.SubjectID)
	if err != nil {
		application.AssignmentsTotal.WithLabelValues("error").Inc()
		return AssignResult{}, domainerrors.Storage("get_assignment", err)
	}
	if found {
		application.AssignmentsTotal.WithLabelValues("existing").Inc()
		return AssignResult{VariantID: existing.VariantID, Assigned: true}, nil
	}

	experiment, err := uc.Experiments.GetExperiment(ctx, cmd.ExperimentID)
	if err != nil {
		application.AssignmentsTotal.WithLabelValues("error").Inc()
		return AssignResult{}, domainerrors.Storage("get_experiment", err)
	}
	now := uc.now()
	if experiment.Status != entities.ExperimentStatusActive {
		return uc.skip(logger, cmd, ReasonExperimentNotActive), nil
	}
	if experiment.Expired(now) {
		return uc.skip(logger, cmd, ReasonExperimentExpired), nil
	}

	variants, err := uc.Experiments.ListVariants(ctx, experiment.ExperimentID)
	if err != nil {
		application.AssignmentsTotal.WithLabelValues("error").Inc()
		return AssignResult{}, domainerrors.Storage("list_variants", err)
	}
	bucket := services.BucketValue(uc.Salting, experiment.ExperimentID, cmd.SubjectID)
	variant, ok := services.SelectVariant(variants, bucket)
	if !ok {
		return uc.skip(logger, cmd, ReasonNoVariants), nil
	}

	stored, created, err := uc.Assignments.InsertAssignment(ctx, entities.Assignment{
		ExperimentID: experiment.ExperimentID,
		SubjectID:    cmd.SubjectID,
		VariantID:    variant.VariantID,
		AssignedAt:   now,
	})
	if err != nil {
		application.AssignmentsTotal.WithLabelValues("error").Inc()
		return AssignResult{}, domainerrors.Storage("insert_assignment", err)
	}
	if !created {
		// A concurrent request won the insert; its variant is authoritative.
		application.AssignmentsTotal.WithLabelValues("existing").Inc()
		return AssignResult{VariantID: stored.VariantID, Assigned: true}, nil
	}

	application.AssignmentsTotal.WithLabelValues("created").Inc()
	logger.Debug("subject assigned",
		"event", "experimentation_subject_assigned",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experiment.ExperimentID,
		"subject_id", cmd.SubjectID,
		"variant_id", stored.VariantID,
		"bucket", bucket,
	)
	return AssignResult{VariantID: stored.VariantID, Assigned: true, Created: true}, nil
}

func (uc AssignmentUseCase) skip(logger *slog.Logger, cmd AssignCommand, reason string) AssignResult {
	application.AssignmentsTotal.WithLabelValues(reason).Inc()
	logger.Debug("assignment skipped",
		"event", "experimentation_assignment_skipped",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", cmd.ExperimentID,
		"subject_id", cmd.SubjectID,
		"reason", reason,
	)
	return AssignResult{Reason: reason}
}

func (uc AssignmentUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}
