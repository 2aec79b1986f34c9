package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

const (
	DefaultDurationDays = 14
	trafficTolerance    = 0.01
)

// Refusal reasons reported in place of an error for expected validation
// outcomes.
const (
	ReasonInvalidStatus        = "invalid_status"
	ReasonStatusChanged        = "status_changed"
	ReasonInsufficientVariants = "insufficient_variants"
	ReasonTrafficNot100        = "traffic_not_100"
	ReasonControlRequired      = "control_required"
	ReasonUnknownWinner        = "unknown_winning_variant"
)

// CreateExperimentCommand is the write-model input for experiment definition.
type CreateExperimentCommand struct {
	IdempotencyKey   string
	Name             string
	Description      string
	Hypothesis       string
	TargetMetric     string
	SuccessThreshold float64
	MinSampleSize    int
	DurationDays     int
	CreatedBy        string
}

type CreateExperimentResult struct {
	Experiment entities.Experiment
	Replayed   bool
}

type AddVariantCommand struct {
	ExperimentID      string
	Name              string
	Description       string
	Config            json.RawMessage
	TrafficPercentage float64
	IsControl         bool
}

type StartResult struct {
	Started    bool
	Reason     string
	Experiment entities.Experiment
}

type TransitionResult struct {
	Applied    bool
	Reason     string
	Experiment entities.Experiment
}

type CompleteExperimentCommand struct {
	ExperimentID     string
	WinningVariantID string
}

type CompleteResult struct {
	Completed  bool
	Reason     string
	Experiment entities.Experiment
	Snapshots  []entities.ResultSnapshot
}

// ResultsReader computes the on-demand results report used for the
// completion audit snapshot.
type ResultsReader interface {
	GetResults(ctx context.Context, experimentID string) (entities.ResultsReport, error)
}

// LifecycleUseCase owns experiment definition and the status state machine.
type LifecycleUseCase struct {
	Experiments    ports.ExperimentRepository
	Writer         ports.LifecycleWriter
	Results        ResultsReader
	Idempotency    ports.IdempotencyStore
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

// CreateExperiment stores a draft experiment. The end date is fixed at
// creation time; starting later does not move it. A repeated call with the
// same idempotency key and payload returns the original experiment.
func (uc LifecycleUseCase) CreateExperiment(ctx context.Context, cmd CreateExperimentCommand) (CreateExperimentResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.CreateExperiment")
	defer span.End()

	cmd.Name = strings.TrimSpace(cmd.Name)
	cmd.TargetMetric = strings.TrimSpace(cmd.TargetMetric)
	cmd.CreatedBy = strings.TrimSpace(cmd.CreatedBy)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if cmd.Name == "" ||
		cmd.TargetMetric == "" ||
		cmd.SuccessThreshold < 0 ||
		cmd.MinSampleSize < 0 ||
		cmd.DurationDays < 0 ||
		math.IsNaN(cmd.SuccessThreshold) || math.IsInf(cmd.SuccessThreshold, 0) {
		logger.Warn("experiment create validation failed",
			"event", "experimentation_experiment_create_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"name", cmd.Name,
			"target_metric", cmd.TargetMetric,
		)
		return CreateExperimentResult{}, domainerrors.ErrInvalidExperimentInput
	}

	now := uc.now()
	requestHash := hashCreateExperimentCommand(cmd)
	if cmd.IdempotencyKey != "" && uc.Idempotency != nil {
		record, found, err := uc.Idempotency.Get(ctx, cmd.IdempotencyKey, now)
		if err != nil {
			return CreateExperimentResult{}, domainerrors.Storage("get_idempotency", err)
		}
		if found {
			if record.RequestHash != requestHash {
				logger.Warn("experiment create idempotency conflict",
					"event", "experimentation_experiment_create_idempotency_conflict",
					"module", application.ModuleName,
					"layer", "application",
					"idempotency_key", cmd.IdempotencyKey,
				)
				return CreateExperimentResult{}, domainerrors.ErrIdempotencyConflict
			}
			experiment, err := uc.Experiments.GetExperiment(ctx, record.ExperimentID)
			if err != nil {
				return CreateExperimentResult{}, domainerrors.Storage("get_experiment", err)
			}
			logger.Info("experiment create replayed",
				"event", "experimentation_experiment_create_replayed",
				"module", application.ModuleName,
				"layer", "application",
				"experiment_id", experiment.ExperimentID,
			)
			return CreateExperimentResult{Experiment: experiment, Replayed: true}, nil
		}
	}

	experimentID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreateExperimentResult{}, err
	}
	durationDays := cmd.DurationDays
	if durationDays == 0 {
		durationDays = DefaultDurationDays
	}
	experiment := entities.Experiment{
		ExperimentID:     experimentID,
		Name:             cmd.Name,
		Description:      strings.TrimSpace(cmd.Description),
		Hypothesis:       strings.TrimSpace(cmd.Hypothesis),
		TargetMetric:     cmd.TargetMetric,
		SuccessThreshold: cmd.SuccessThreshold,
		MinSampleSize:    cmd.MinSampleSize,
		Status:           entities.ExperimentStatusDraft,
		StartDate:        now,
		EndDate:          now.Add(time.Duration(durationDays) * 24 * time.Hour),
		CreatedBy:        cmd.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	event, err := uc.buildExperimentEvent(ctx, "experiment.created", experiment, now, nil)
	if err != nil {
		return CreateExperimentResult{}, err
	}
	var reservation *ports.IdempotencyRecord
	if cmd.IdempotencyKey != "" {
		reservation = &ports.IdempotencyRecord{
			Key:          cmd.IdempotencyKey,
			RequestHash:  requestHash,
			ExperimentID: experiment.ExperimentID,
			ExpiresAt:    now.Add(uc.resolveIdempotencyTTL()),
		}
	}
	stored, replayed, err := uc.Writer.CreateExperimentWithOutbox(ctx, experiment, event, reservation)
	if err != nil {
		if errors.Is(err, domainerrors.ErrIdempotencyConflict) {
			logger.Warn("experiment create idempotency conflict",
				"event", "experimentation_experiment_create_idempotency_conflict",
				"module", application.ModuleName,
				"layer", "application",
				"idempotency_key", cmd.IdempotencyKey,
			)
			return CreateExperimentResult{}, domainerrors.ErrIdempotencyConflict
		}
		return CreateExperimentResult{}, domainerrors.Storage("create_experiment", err)
	}
	if replayed {
		logger.Info("experiment create replayed",
			"event", "experimentation_experiment_create_replayed",
			"module", application.ModuleName,
			"layer", "application",
			"experiment_id", stored.ExperimentID,
		)
		return CreateExperimentResult{Experiment: stored, Replayed: true}, nil
	}
	experiment = stored

	span.SetAttributes(attribute.String("experiment_id", experiment.ExperimentID))
	logger.Info("experiment created",
		"event", "experimentation_experiment_created",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experiment.ExperimentID,
		"target_metric", experiment.TargetMetric,
		"success_threshold", experiment.SuccessThreshold,
		"min_sample_size", experiment.MinSampleSize,
		"end_date", experiment.EndDate.Format(time.RFC3339),
	)
	return CreateExperimentResult{Experiment: experiment}, nil
}

// AddVariant registers an arm on a draft experiment. The traffic sum is not
// checked here; StartExperiment validates it.
func (uc LifecycleUseCase) AddVariant(ctx context.Context, cmd AddVariantCommand) (entities.Variant, error) {
	logger := application.ResolveLogger(uc.Logger)
	cmd.ExperimentID = strings.TrimSpace(cmd.ExperimentID)
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.ExperimentID == "" ||
		cmd.Name == "" ||
		math.IsNaN(cmd.TrafficPercentage) ||
		cmd.TrafficPercentage < 0 ||
		cmd.TrafficPercentage > 100 {
		logger.Warn("variant add validation failed",
			"event", "experimentation_variant_add_validation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"experiment_id", cmd.ExperimentID,
			"traffic_percentage", cmd.TrafficPercentage,
		)
		return entities.Variant{}, domainerrors.ErrInvalidVariantInput
	}
	if len(cmd.Config) > 0 && !json.Valid(cmd.Config) {
		return entities.Variant{}, domainerrors.ErrInvalidVariantInput
	}

	experiment, err := uc.Experiments.GetExperiment(ctx, cmd.ExperimentID)
	if err != nil {
		return entities.Variant{}, domainerrors.Storage("get_experiment", err)
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		return entities.Variant{}, domainerrors.ErrExperimentNotEditable
	}

	variantID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Variant{}, err
	}
	variant := entities.Variant{
		VariantID:         variantID,
		ExperimentID:      experiment.ExperimentID,
		Name:              cmd.Name,
		Description:       strings.TrimSpace(cmd.Description),
		Config:            append(json.RawMessage(nil), cmd.Config...),
		TrafficPercentage: cmd.TrafficPercentage,
		IsControl:         cmd.IsControl,
		CreatedAt:         uc.now(),
	}
	if err := uc.Experiments.InsertVariant(ctx, variant); err != nil {
		if errors.Is(err, domainerrors.ErrControlAlreadyExists) {
			logger.Warn("variant add rejected second control",
				"event", "experimentation_variant_add_control_conflict",
				"module", application.ModuleName,
				"layer", "application",
				"experiment_id", experiment.ExperimentID,
			)
		}
		return entities.Variant{}, domainerrors.Storage("insert_variant", err)
	}

	logger.Info("variant added",
		"event", "experimentation_variant_added",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", variant.ExperimentID,
		"variant_id", variant.VariantID,
		"traffic_percentage", variant.TrafficPercentage,
		"is_control", variant.IsControl,
	)
	return variant, nil
}

// StartExperiment moves a draft experiment to active. It refuses, without an
// error, when fewer than two variants exist, traffic does not sum to 100
// within 0.01, or no control variant is marked.
func (uc LifecycleUseCase) StartExperiment(ctx context.Context, experimentID string) (StartResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.StartExperiment",
		trace.WithAttributes(attribute.String("experiment_id", experimentID)))
	defer span.End()

	experiment, err := uc.Experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		return StartResult{}, domainerrors.Storage("get_experiment", err)
	}
	refuse := func(reason string, attrs ...any) (StartResult, error) {
		fields := append([]any{
			"event", "experimentation_experiment_start_refused",
			"module", application.ModuleName,
			"layer", "application",
			"experiment_id", experiment.ExperimentID,
			"reason", reason,
		}, attrs...)
		logger.Warn("experiment start refused", fields...)
		application.LifecycleTransitionsTotal.WithLabelValues(string(entities.ExperimentStatusActive), reason).Inc()
		return StartResult{Started: false, Reason: reason, Experiment: experiment}, nil
	}

	if experiment.Status != entities.ExperimentStatusDraft {
		return refuse(ReasonInvalidStatus, "status", string(experiment.Status))
	}
	variants, err := uc.Experiments.ListVariants(ctx, experiment.ExperimentID)
	if err != nil {
		return StartResult{}, domainerrors.Storage("list_variants", err)
	}
	if len(variants) < 2 {
		return refuse(ReasonInsufficientVariants, "variant_count", len(variants))
	}
	total, err := uc.Experiments.SumVariantTraffic(ctx, experiment.ExperimentID)
	if err != nil {
		return StartResult{}, domainerrors.Storage("sum_variant_traffic", err)
	}
	if math.Abs(total-100) > trafficTolerance {
		return refuse(ReasonTrafficNot100, "traffic_total", total)
	}
	if countControls(variants) != 1 {
		return refuse(ReasonControlRequired)
	}

	now := uc.now()
	started := experiment
	started.Status = entities.ExperimentStatusActive
	started.StartDate = now
	started.UpdatedAt = now
	event, err := uc.buildExperimentEvent(ctx, "experiment.started", started, now, map[string]any{
		"variant_count": len(variants),
	})
	if err != nil {
		return StartResult{}, err
	}
	if err := uc.Writer.TransitionWithOutbox(ctx, ports.StatusUpdate{
		ExperimentID: experiment.ExperimentID,
		From:         entities.ExperimentStatusDraft,
		To:           entities.ExperimentStatusActive,
		StartDate:    &now,
		UpdatedAt:    now,
	}, event); err != nil {
		if errors.Is(err, domainerrors.ErrConflict) {
			return refuse(ReasonStatusChanged)
		}
		return StartResult{}, domainerrors.Storage("start_experiment", err)
	}
	experiment = started
	application.LifecycleTransitionsTotal.WithLabelValues(string(entities.ExperimentStatusActive), "applied").Inc()
	logger.Info("experiment started",
		"event", "experimentation_experiment_started",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experiment.ExperimentID,
		"variant_count", len(variants),
	)
	return StartResult{Started: true, Experiment: experiment}, nil
}

// PauseExperiment stops new assignments and conversions on an active
// experiment.
func (uc LifecycleUseCase) PauseExperiment(ctx context.Context, experimentID string) (TransitionResult, error) {
	return uc.transition(ctx, experimentID, entities.ExperimentStatusPaused, "experiment.paused")
}

// ResumeExperiment reactivates a paused experiment. The end date is kept.
func (uc LifecycleUseCase) ResumeExperiment(ctx context.Context, experimentID string) (TransitionResult, error) {
	return uc.transition(ctx, experimentID, entities.ExperimentStatusActive, "experiment.resumed")
}

// CancelExperiment ends an experiment without a result snapshot. Records are
// kept; cancellation is a status.
func (uc LifecycleUseCase) CancelExperiment(ctx context.Context, experimentID string) (TransitionResult, error) {
	return uc.transition(ctx, experimentID, entities.ExperimentStatusCancelled, "experiment.cancelled")
}

// CompleteExperiment closes an active or paused experiment and writes one
// immutable snapshot per variant of the current results. The winning variant
// is advisory metadata only.
func (uc LifecycleUseCase) CompleteExperiment(ctx context.Context, cmd CompleteExperimentCommand) (CompleteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.CompleteExperiment",
		trace.WithAttributes(attribute.String("experiment_id", cmd.ExperimentID)))
	defer span.End()

	experiment, err := uc.Experiments.GetExperiment(ctx, strings.TrimSpace(cmd.ExperimentID))
	if err != nil {
		return CompleteResult{}, domainerrors.Storage("get_experiment", err)
	}
	if !experiment.Status.CanTransitionTo(entities.ExperimentStatusCompleted) {
		application.LifecycleTransitionsTotal.WithLabelValues(string(entities.ExperimentStatusCompleted), ReasonInvalidStatus).Inc()
		return CompleteResult{Reason: ReasonInvalidStatus, Experiment: experiment}, nil
	}

	winningVariantID := strings.TrimSpace(cmd.WinningVariantID)
	report, err := uc.Results.GetResults(ctx, experiment.ExperimentID)
	if err != nil {
		return CompleteResult{}, err
	}
	if winningVariantID != "" && !reportHasVariant(report, winningVariantID) {
		return CompleteResult{Reason: ReasonUnknownWinner, Experiment: experiment}, nil
	}

	now := uc.now()
	update := ports.StatusUpdate{
		ExperimentID: experiment.ExperimentID,
		From:         experiment.Status,
		To:           entities.ExperimentStatusCompleted,
		EndDate:      &now,
		UpdatedAt:    now,
	}
	if winningVariantID != "" {
		update.WinningVariantID = &winningVariantID
	}
	completed := experiment
	completed.Status = entities.ExperimentStatusCompleted
	completed.EndDate = now
	completed.WinningVariantID = winningVariantID
	completed.UpdatedAt = now

	snapshots, err := uc.buildSnapshots(ctx, report, winningVariantID, now)
	if err != nil {
		return CompleteResult{}, err
	}
	event, err := uc.buildExperimentEvent(ctx, "experiment.completed", completed, now, map[string]any{
		"winning_variant_id": winningVariantID,
		"result_status":      string(report.Status),
	})
	if err != nil {
		return CompleteResult{}, err
	}
	if err := uc.Writer.CompleteWithSnapshots(ctx, update, snapshots, event); err != nil {
		if errors.Is(err, domainerrors.ErrConflict) {
			return CompleteResult{Reason: ReasonStatusChanged, Experiment: experiment}, nil
		}
		return CompleteResult{}, domainerrors.Storage("complete_experiment", err)
	}
	experiment = completed

	application.LifecycleTransitionsTotal.WithLabelValues(string(entities.ExperimentStatusCompleted), "applied").Inc()
	logger.Info("experiment completed",
		"event", "experimentation_experiment_completed",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experiment.ExperimentID,
		"winning_variant_id", winningVariantID,
		"result_status", string(report.Status),
		"snapshot_count", len(snapshots),
	)
	return CompleteResult{Completed: true, Experiment: experiment, Snapshots: snapshots}, nil
}

func (uc LifecycleUseCase) transition(
	ctx context.Context,
	experimentID string,
	to entities.ExperimentStatus,
	eventType string,
) (TransitionResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	experiment, err := uc.Experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		return TransitionResult{}, domainerrors.Storage("get_experiment", err)
	}
	// Resume is the only way back to active; starting goes through
	// StartExperiment validation.
	allowed := experiment.Status.CanTransitionTo(to)
	if to == entities.ExperimentStatusActive && experiment.Status != entities.ExperimentStatusPaused {
		allowed = false
	}
	if !allowed {
		application.LifecycleTransitionsTotal.WithLabelValues(string(to), ReasonInvalidStatus).Inc()
		logger.Warn("experiment transition refused",
			"event", "experimentation_experiment_transition_refused",
			"module", application.ModuleName,
			"layer", "application",
			"experiment_id", experiment.ExperimentID,
			"from_status", string(experiment.Status),
			"to_status", string(to),
		)
		return TransitionResult{Reason: ReasonInvalidStatus, Experiment: experiment}, nil
	}

	now := uc.now()
	update := ports.StatusUpdate{
		ExperimentID: experiment.ExperimentID,
		From:         experiment.Status,
		To:           to,
		UpdatedAt:    now,
	}
	if to == entities.ExperimentStatusCancelled {
		update.EndDate = &now
	}
	from := experiment.Status
	next := experiment
	next.Status = to
	next.UpdatedAt = now
	if update.EndDate != nil {
		next.EndDate = now
	}
	event, err := uc.buildExperimentEvent(ctx, eventType, next, now, map[string]any{
		"from_status": string(from),
	})
	if err != nil {
		return TransitionResult{}, err
	}
	if err := uc.Writer.TransitionWithOutbox(ctx, update, event); err != nil {
		if errors.Is(err, domainerrors.ErrConflict) {
			return TransitionResult{Reason: ReasonStatusChanged, Experiment: experiment}, nil
		}
		return TransitionResult{}, domainerrors.Storage("transition_experiment", err)
	}
	experiment = next

	application.LifecycleTransitionsTotal.WithLabelValues(string(to), "applied").Inc()
	logger.Info("experiment transitioned",
		"event", "experimentation_experiment_transitioned",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experiment.ExperimentID,
		"from_status", string(from),
		"to_status", string(to),
	)
	return TransitionResult{Applied: true, Experiment: experiment}, nil
}

func (uc LifecycleUseCase) buildSnapshots(
	ctx context.Context,
	report entities.ResultsReport,
	winningVariantID string,
	recordedAt time.Time,
) ([]entities.ResultSnapshot, error) {
	snapshots := make([]entities.ResultSnapshot, 0, len(report.Variants))
	for _, result := range report.Variants {
		snapshotID, err := uc.IDGen.NewID(ctx)
		if err != nil {
			return nil, err
		}
		snapshot := entities.ResultSnapshot{
			SnapshotID:        snapshotID,
			ExperimentID:      report.Experiment.ExperimentID,
			VariantID:         result.Variant.VariantID,
			IsControl:         result.Variant.IsControl,
			SampleSize:        result.Metrics.SampleSize,
			UniqueConversions: result.Metrics.UniqueConversions,
			ConversionRate:    result.Metrics.ConversionRate,
			AverageValue:      result.Metrics.AverageValue,
			TotalValue:        result.Metrics.TotalValue,
			Status:            report.Status,
			WinningVariantID:  winningVariantID,
			RecordedAt:        recordedAt,
		}
		if result.Significance != nil {
			snapshot.PValue = result.Significance.PValue
			snapshot.IsSignificant = result.Significance.IsSignificant
			snapshot.ConfidenceLevel = result.Significance.ConfidenceLevel
			snapshot.ImprovementPercentage = result.Significance.ImprovementPercentage
			snapshot.ConfidenceIntervalLower = result.Significance.ConfidenceIntervalLower
			snapshot.ConfidenceIntervalUpper = result.Significance.ConfidenceIntervalUpper
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

func (uc LifecycleUseCase) buildExperimentEvent(
	ctx context.Context,
	eventType string,
	experiment entities.Experiment,
	occurredAt time.Time,
	metadata map[string]any,
) (ports.EventEnvelope, error) {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ports.EventEnvelope{}, err
	}
	data := map[string]any{
		"experiment_id": experiment.ExperimentID,
		"name":          experiment.Name,
		"status":        string(experiment.Status),
		"target_metric": experiment.TargetMetric,
		"start_date":    experiment.StartDate.Format(time.RFC3339),
		"end_date":      experiment.EndDate.Format(time.RFC3339),
		"occurred_at":   occurredAt.Format(time.RFC3339),
	}
	for key, value := range metadata {
		data[key] = value
	}
	return newExperimentEnvelope(eventID, eventType, experiment.ExperimentID, occurredAt, data)
}

func (uc LifecycleUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func (uc LifecycleUseCase) resolveIdempotencyTTL() time.Duration {
	if uc.IdempotencyTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return uc.IdempotencyTTL
}

func countControls(variants []entities.Variant) int {
	count := 0
	for _, variant := range variants {
		if variant.IsControl {
			count++
		}
	}
	return count
}

func reportHasVariant(report entities.ResultsReport, variantID string) bool {
	for _, result := range report.Variants {
		if result.Variant.VariantID == variantID {
			return true
		}
	}
	return false
}

func hashCreateExperimentCommand(cmd CreateExperimentCommand) string {
	payload := map[string]string{
		"name":              cmd.Name,
		"description":       strings.TrimSpace(cmd.Description),
		"hypothesis":        strings.TrimSpace(cmd.Hypothesis),
		"target_metric":     cmd.TargetMetric,
		"success_threshold": strconv.FormatFloat(cmd.SuccessThreshold, 'f', -1, 64),
		"min_sample_size":   strconv.Itoa(cmd.MinSampleSize),
		"duration_days":     strconv.Itoa(cmd.DurationDays),
		"created_by":        cmd.CreatedBy,
		"op":                "create_experiment",
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
