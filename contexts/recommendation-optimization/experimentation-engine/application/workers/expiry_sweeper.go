package workers

import (
	"context"
	"log/slog"
	"time"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/commands"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

// Completer is the lifecycle operation the sweeper drives.
type Completer interface {
	CompleteExperiment(ctx context.Context, cmd commands.CompleteExperimentCommand) (commands.CompleteResult, error)
}

// ExpirySweeper completes active experiments whose end date has passed so
// their results get an audit snapshot. Assignment already refuses expired
// experiments; the sweep only closes them.
type ExpirySweeper struct {
	Experiments ports.ExperimentRepository
	Lifecycle   Completer
	Clock       ports.Clock
	Logger      *slog.Logger
}

// RunOnce returns how many experiments were completed. Per-experiment
// failures are logged and skipped; the first one is returned after the sweep.
func (s ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(s.Logger)
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	active, err := s.Experiments.ListExperimentsByStatus(ctx, entities.ExperimentStatusActive)
	if err != nil {
		logger.Error("experiment expiry list failed",
			"event", "experimentation_expiry_list_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}

	completed := 0
	var firstErr error
	for _, experiment := range active {
		if !experiment.Expired(now) {
			continue
		}
		result, err := s.Lifecycle.CompleteExperiment(ctx, commands.CompleteExperimentCommand{
			ExperimentID: experiment.ExperimentID,
		})
		if err != nil {
			logger.Error("experiment expiry completion failed",
				"event", "experimentation_expiry_complete_failed",
				"module", application.ModuleName,
				"layer", "worker",
				"experiment_id", experiment.ExperimentID,
				"error", err.Error(),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !result.Completed {
			logger.Warn("experiment expiry completion refused",
				"event", "experimentation_expiry_complete_refused",
				"module", application.ModuleName,
				"layer", "worker",
				"experiment_id", experiment.ExperimentID,
				"reason", result.Reason,
			)
			continue
		}
		completed++
	}

	if completed > 0 {
		logger.Info("experiment expiry sweep completed",
			"event", "experimentation_expiry_sweep_completed",
			"module", application.ModuleName,
			"layer", "worker",
			"completed_count", completed,
		)
	}
	return completed, firstErr
}
