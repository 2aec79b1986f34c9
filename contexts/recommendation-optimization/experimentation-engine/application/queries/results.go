package queries

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

// ResultsUseCase computes results reports on demand. Concurrent requests for
// the same experiment share one computation when Flights is set.
type ResultsUseCase struct {
	Experiments  ports.ExperimentRepository
	Assignments  ports.AssignmentRepository
	Snapshots    ports.ResultSnapshotRepository
	Significance services.SignificanceStrategy
	Policy       services.DecisionPolicy
	Flights      *singleflight.Group
	Clock        ports.Clock
	Logger       *slog.Logger
}

func (uc ResultsUseCase) GetResults(ctx context.Context, experimentID string) (entities.ResultsReport, error) {
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return entities.ResultsReport{}, domainerrors.ErrInvalidExperimentInput
	}
	if uc.Flights == nil {
		return uc.compute(ctx, experimentID)
	}
	// The flight outlives any single caller, so it runs detached from the
	// first caller's cancellation; each caller still stops waiting on its own.
	flight := uc.Flights.DoChan(experimentID, func() (any, error) {
		return uc.compute(context.WithoutCancel(ctx), experimentID)
	})
	select {
	case <-ctx.Done():
		return entities.ResultsReport{}, ctx.Err()
	case result := <-flight:
		if result.Err != nil {
			return entities.ResultsReport{}, result.Err
		}
		return result.Val.(entities.ResultsReport), nil
	}
}

func (uc ResultsUseCase) ListSnapshots(ctx context.Context, experimentID string) ([]entities.ResultSnapshot, error) {
	experimentID = strings.TrimSpace(experimentID)
	if _, err := uc.Experiments.GetExperiment(ctx, experimentID); err != nil {
		return nil, domainerrors.Storage("get_experiment", err)
	}
	if uc.Snapshots == nil {
		return []entities.ResultSnapshot{}, nil
	}
	snapshots, err := uc.Snapshots.ListResultSnapshots(ctx, experimentID)
	if err != nil {
		return nil, domainerrors.Storage("list_result_snapshots", err)
	}
	sortSnapshots(snapshots)
	return snapshots, nil
}

func (uc ResultsUseCase) compute(ctx context.Context, experimentID string) (entities.ResultsReport, error) {
	logger := application.ResolveLogger(uc.Logger)
	ctx, span := application.Tracer.Start(ctx, "experimentation.GetResults",
		trace.WithAttributes(attribute.String("experiment_id", experimentID)))
	defer span.End()
	startedAt := time.Now()

	experiment, err := uc.Experiments.GetExperiment(ctx, experimentID)
	if err != nil {
		return entities.ResultsReport{}, domainerrors.Storage("get_experiment", err)
	}
	variants, err := uc.Experiments.ListVariants(ctx, experimentID)
	if err != nil {
		return entities.ResultsReport{}, domainerrors.Storage("list_variants", err)
	}
	variants = services.SortVariantsForBucketing(variants)

	results := make([]entities.VariantResult, 0, len(variants))
	controlIndex := -1
	for _, variant := range variants {
		assignments, err := uc.Assignments.ListAssignmentsForVariant(ctx, experimentID, variant.VariantID)
		if err != nil {
			return entities.ResultsReport{}, domainerrors.Storage("list_assignments_for_variant", err)
		}
		if variant.IsControl && controlIndex < 0 {
			controlIndex = len(results)
		}
		results = append(results, entities.VariantResult{
			Variant: variant,
			Metrics: services.AggregateVariant(variant.VariantID, assignments, experiment.TargetMetric),
		})
	}

	if controlIndex >= 0 {
		strategy := uc.resolveSignificance()
		control := results[controlIndex]
		for i := range results {
			if i == controlIndex {
				continue
			}
			verdict := strategy.Evaluate(control.Metrics.RawValues, results[i].Metrics.RawValues)
			verdict.ComparedTo = control.Variant.VariantID
			results[i].Significance = &verdict
		}
	}

	decision := uc.resolvePolicy().Determine(results, experiment.SuccessThreshold, experiment.MinSampleSize)
	report := entities.ResultsReport{
		Experiment:  experiment,
		Variants:    results,
		Status:      decision.Status,
		GeneratedAt: uc.now(),
	}
	switch decision.Status {
	case entities.ResultStatusWinnerFound:
		report.RecommendedVariant = decision.VariantID
	case entities.ResultStatusControlBetter:
		report.RecommendedVariant = results[controlIndex].Variant.VariantID
	}

	application.ResultsDuration.WithLabelValues(string(report.Status)).Observe(time.Since(startedAt).Seconds())
	span.SetAttributes(attribute.String("result_status", string(report.Status)))
	logger.Debug("experiment results computed",
		"event", "experimentation_results_computed",
		"module", application.ModuleName,
		"layer", "application",
		"experiment_id", experimentID,
		"variant_count", len(results),
		"result_status", string(report.Status),
		"recommended_variant_id", report.RecommendedVariant,
	)
	return report, nil
}

func (uc ResultsUseCase) resolveSignificance() services.SignificanceStrategy {
	if uc.Significance == nil {
		return services.BandedTTest{}
	}
	return uc.Significance
}

func (uc ResultsUseCase) resolvePolicy() services.DecisionPolicy {
	if uc.Policy == nil {
		return services.FirstMatchPolicy{}
	}
	return uc.Policy
}

func (uc ResultsUseCase) now() time.Time {
	if uc.Clock == nil {
		return time.Now().UTC()
	}
	return uc.Clock.Now().UTC()
}

func sortSnapshots(snapshots []entities.ResultSnapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].RecordedAt.Equal(snapshots[j].RecordedAt) {
			return snapshots[i].VariantID < snapshots[j].VariantID
		}
		return snapshots[i].RecordedAt.Before(snapshots[j].RecordedAt)
	})
}
