package queries

import (
	"context"
	"strings"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

type ExperimentsUseCase struct {
	Experiments ports.ExperimentRepository
}

func (uc ExperimentsUseCase) GetExperiment(ctx context.Context, experimentID string) (entities.Experiment, error) {
	experiment, err := uc.Experiments.GetExperiment(ctx, strings.TrimSpace(experimentID))
	if err != nil {
		return entities.Experiment{}, domainerrors.Storage("get_experiment", err)
	}
	return experiment, nil
}

// ListExperiments filters by status; an empty status lists everything.
func (uc ExperimentsUseCase) ListExperiments(ctx context.Context, status string) ([]entities.Experiment, error) {
	status = strings.TrimSpace(status)
	if status != "" && !entities.ExperimentStatus(status).Valid() {
		return nil, domainerrors.ErrInvalidExperimentInput
	}
	items, err := uc.Experiments.ListExperimentsByStatus(ctx, entities.ExperimentStatus(status))
	if err != nil {
		return nil, domainerrors.Storage("list_experiments", err)
	}
	return items, nil
}

// ListVariants returns variants in bucketing order.
func (uc ExperimentsUseCase) ListVariants(ctx context.Context, experimentID string) ([]entities.Variant, error) {
	experimentID = strings.TrimSpace(experimentID)
	if _, err := uc.Experiments.GetExperiment(ctx, experimentID); err != nil {
		return nil, domainerrors.Storage("get_experiment", err)
	}
	variants, err := uc.Experiments.ListVariants(ctx, experimentID)
	if err != nil {
		return nil, domainerrors.Storage("list_variants", err)
	}
	return services.SortVariantsForBucketing(variants), nil
}
