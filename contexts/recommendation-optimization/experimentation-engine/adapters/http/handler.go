package httpadapter

import (
	"context"
	"log/slog"

	"aegis/contexts/recommendation-optimization/experimentation-engine/application/commands"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/queries"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	httptransport "aegis/contexts/recommendation-optimization/experimentation-engine/transport/http"
)

// Handler maps transport DTOs onto experimentation use cases.
type Handler struct {
	Lifecycle   commands.LifecycleUseCase
	Assignment  commands.AssignmentUseCase
	Conversions commands.ConversionUseCase
	Results     queries.ResultsUseCase
	Experiments queries.ExperimentsUseCase
	Logger      *slog.Logger
}

func (h Handler) CreateExperimentHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.CreateExperimentRequest,
) (httptransport.ExperimentResponse, error) {
	result, err := h.Lifecycle.CreateExperiment(ctx, commands.CreateExperimentCommand{
		IdempotencyKey:   idempotencyKey,
		Name:             req.Name,
		Description:      req.Description,
		Hypothesis:       req.Hypothesis,
		TargetMetric:     req.TargetMetric,
		SuccessThreshold: req.SuccessThreshold,
		MinSampleSize:    req.MinSampleSize,
		DurationDays:     req.DurationDays,
		CreatedBy:        userID,
	})
	if err != nil {
		return httptransport.ExperimentResponse{}, err
	}
	response := mapExperiment(result.Experiment)
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetExperimentHandler(ctx context.Context, experimentID string) (httptransport.ExperimentResponse, error) {
	experiment, err := h.Experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return httptransport.ExperimentResponse{}, err
	}
	return mapExperiment(experiment), nil
}

func (h Handler) ListExperimentsHandler(ctx context.Context, status string) (httptransport.ListExperimentsResponse, error) {
	experiments, err := h.Experiments.ListExperiments(ctx, status)
	if err != nil {
		return httptransport.ListExperimentsResponse{}, err
	}
	items := make([]httptransport.ExperimentResponse, 0, len(experiments))
	for _, experiment := range experiments {
		items = append(items, mapExperiment(experiment))
	}
	return httptransport.ListExperimentsResponse{Items: items}, nil
}

func (h Handler) AddVariantHandler(
	ctx context.Context,
	experimentID string,
	req httptransport.AddVariantRequest,
) (httptransport.VariantResponse, error) {
	variant, err := h.Lifecycle.AddVariant(ctx, commands.AddVariantCommand{
		ExperimentID:      experimentID,
		Name:              req.Name,
		Description:       req.Description,
		Config:            req.Config,
		TrafficPercentage: req.TrafficPercentage,
		IsControl:         req.IsControl,
	})
	if err != nil {
		return httptransport.VariantResponse{}, err
	}
	return mapVariant(variant), nil
}

func (h Handler) ListVariantsHandler(ctx context.Context, experimentID string) (httptransport.ListVariantsResponse, error) {
	variants, err := h.Experiments.ListVariants(ctx, experimentID)
	if err != nil {
		return httptransport.ListVariantsResponse{}, err
	}
	items := make([]httptransport.VariantResponse, 0, len(variants))
	for _, variant := range variants {
		items = append(items, mapVariant(variant))
	}
	return httptransport.ListVariantsResponse{Items: items}, nil
}

func (h Handler) StartExperimentHandler(ctx context.Context, experimentID string) (httptransport.TransitionResponse, error) {
	result, err := h.Lifecycle.StartExperiment(ctx, experimentID)
	if err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		Applied:    result.Started,
		Reason:     result.Reason,
		Experiment: mapExperiment(result.Experiment),
	}, nil
}

func (h Handler) PauseExperimentHandler(ctx context.Context, experimentID string) (httptransport.TransitionResponse, error) {
	return mapTransition(h.Lifecycle.PauseExperiment(ctx, experimentID))
}

func (h Handler) ResumeExperimentHandler(ctx context.Context, experimentID string) (httptransport.TransitionResponse, error) {
	return mapTransition(h.Lifecycle.ResumeExperiment(ctx, experimentID))
}

func (h Handler) CancelExperimentHandler(ctx context.Context, experimentID string) (httptransport.TransitionResponse, error) {
	return mapTransition(h.Lifecycle.CancelExperiment(ctx, experimentID))
}

func (h Handler) CompleteExperimentHandler(
	ctx context.Context,
	experimentID string,
	req httptransport.CompleteExperimentRequest,
) (httptransport.TransitionResponse, error) {
	result, err := h.Lifecycle.CompleteExperiment(ctx, commands.CompleteExperimentCommand{
		ExperimentID:     experimentID,
		WinningVariantID: req.WinningVariantID,
	})
	if err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		Applied:    result.Completed,
		Reason:     result.Reason,
		Experiment: mapExperiment(result.Experiment),
	}, nil
}

func (h Handler) AssignHandler(
	ctx context.Context,
	experimentID string,
	req httptransport.AssignRequest,
) (httptransport.AssignResponse, error) {
	result, err := h.Assignment.Assign(ctx, commands.AssignCommand{
		ExperimentID: experimentID,
		SubjectID:    req.SubjectID,
	})
	if err != nil {
		return httptransport.AssignResponse{}, err
	}
	return httptransport.AssignResponse{
		ExperimentID: experimentID,
		SubjectID:    req.SubjectID,
		VariantID:    result.VariantID,
		Assigned:     result.Assigned,
		Created:      result.Created,
		Reason:       result.Reason,
	}, nil
}

func (h Handler) RecordConversionHandler(
	ctx context.Context,
	experimentID string,
	req httptransport.RecordConversionRequest,
) (httptransport.ConversionResponse, error) {
	result, err := h.Conversions.RecordConversion(ctx, commands.RecordConversionCommand{
		ExperimentID: experimentID,
		SubjectID:    req.SubjectID,
		EventName:    req.EventName,
		Value:        req.Value,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return httptransport.ConversionResponse{}, err
	}
	return httptransport.ConversionResponse{
		Recorded: result.Recorded,
		Reason:   result.Reason,
		EventID:  result.EventID,
	}, nil
}

func (h Handler) ResultsHandler(ctx context.Context, experimentID string) (httptransport.ResultsResponse, error) {
	report, err := h.Results.GetResults(ctx, experimentID)
	if err != nil {
		return httptransport.ResultsResponse{}, err
	}
	variants := make([]httptransport.VariantResultResponse, 0, len(report.Variants))
	for _, result := range report.Variants {
		item := httptransport.VariantResultResponse{
			VariantID: result.Variant.VariantID,
			Name:      result.Variant.Name,
			IsControl: result.Variant.IsControl,
			Metrics: httptransport.MetricsResponse{
				SampleSize:        result.Metrics.SampleSize,
				UniqueConversions: result.Metrics.UniqueConversions,
				ConversionRate:    result.Metrics.ConversionRate,
				AverageValue:      result.Metrics.AverageValue,
				TotalValue:        result.Metrics.TotalValue,
				RawValues:         result.Metrics.RawValues,
			},
		}
		if result.Significance != nil {
			item.Significance = &httptransport.SignificanceResponse{
				ComparedTo:              result.Significance.ComparedTo,
				PValue:                  result.Significance.PValue,
				IsSignificant:           result.Significance.IsSignificant,
				ConfidenceLevel:         result.Significance.ConfidenceLevel,
				ImprovementPercentage:   result.Significance.ImprovementPercentage,
				ConfidenceIntervalLower: result.Significance.ConfidenceIntervalLower,
				ConfidenceIntervalUpper: result.Significance.ConfidenceIntervalUpper,
			}
		}
		variants = append(variants, item)
	}
	return httptransport.ResultsResponse{
		ExperimentID:       report.Experiment.ExperimentID,
		ExperimentStatus:   string(report.Experiment.Status),
		Status:             string(report.Status),
		RecommendedVariant: report.RecommendedVariant,
		Variants:           variants,
		GeneratedAt:        report.GeneratedAt,
	}, nil
}

func (h Handler) ListSnapshotsHandler(ctx context.Context, experimentID string) (httptransport.ListSnapshotsResponse, error) {
	snapshots, err := h.Results.ListSnapshots(ctx, experimentID)
	if err != nil {
		return httptransport.ListSnapshotsResponse{}, err
	}
	items := make([]httptransport.SnapshotResponse, 0, len(snapshots))
	for _, snapshot := range snapshots {
		items = append(items, httptransport.SnapshotResponse{
			SnapshotID:            snapshot.SnapshotID,
			VariantID:             snapshot.VariantID,
			IsControl:             snapshot.IsControl,
			SampleSize:            snapshot.SampleSize,
			UniqueConversions:     snapshot.UniqueConversions,
			ConversionRate:        snapshot.ConversionRate,
			AverageValue:          snapshot.AverageValue,
			TotalValue:            snapshot.TotalValue,
			PValue:                snapshot.PValue,
			IsSignificant:         snapshot.IsSignificant,
			ConfidenceLevel:       snapshot.ConfidenceLevel,
			ImprovementPercentage: snapshot.ImprovementPercentage,
			Status:                string(snapshot.Status),
			WinningVariantID:      snapshot.WinningVariantID,
			RecordedAt:            snapshot.RecordedAt,
		})
	}
	return httptransport.ListSnapshotsResponse{Items: items}, nil
}

func mapTransition(result commands.TransitionResult, err error) (httptransport.TransitionResponse, error) {
	if err != nil {
		return httptransport.TransitionResponse{}, err
	}
	return httptransport.TransitionResponse{
		Applied:    result.Applied,
		Reason:     result.Reason,
		Experiment: mapExperiment(result.Experiment),
	}, nil
}

func mapExperiment(experiment entities.Experiment) httptransport.ExperimentResponse {
	return httptransport.ExperimentResponse{
		ExperimentID:     experiment.ExperimentID,
		Name:             experiment.Name,
		Description:      experiment.Description,
		Hypothesis:       experiment.Hypothesis,
		TargetMetric:     experiment.TargetMetric,
		SuccessThreshold: experiment.SuccessThreshold,
		MinSampleSize:    experiment.MinSampleSize,
		Status:           string(experiment.Status),
		StartDate:        experiment.StartDate,
		EndDate:          experiment.EndDate,
		WinningVariantID: experiment.WinningVariantID,
		CreatedBy:        experiment.CreatedBy,
		CreatedAt:        experiment.CreatedAt,
		UpdatedAt:        experiment.UpdatedAt,
	}
}

func mapVariant(variant entities.Variant) httptransport.VariantResponse {
	return httptransport.VariantResponse{
		VariantID:         variant.VariantID,
		ExperimentID:      variant.ExperimentID,
		Name:              variant.Name,
		Description:       variant.Description,
		Config:            variant.Config,
		TrafficPercentage: variant.TrafficPercentage,
		IsControl:         variant.IsControl,
	}
}
