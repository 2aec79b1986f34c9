package experimentationengine

import (
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	httpadapter "aegis/contexts/recommendation-optimization/experimentation-engine/adapters/http"
	"aegis/contexts/recommendation-optimization/experimentation-engine/adapters/memory"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/commands"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/queries"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/workers"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Sweeper workers.ExpirySweeper
	Store   *memory.Store
}

type Dependencies struct {
	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventLogRepository
	Snapshots   ports.ResultSnapshotRepository
	Idempotency ports.IdempotencyStore
	Writer      ports.LifecycleWriter
	Clock       ports.Clock
	IDGen       ports.IDGenerator

	Salting         services.BucketSalting
	DecisionPolicy  string
	ConfidenceLevel float64
	IdempotencyTTL  time.Duration
	Logger          *slog.Logger
}

func NewModule(deps Dependencies) Module {
	results := queries.ResultsUseCase{
		Experiments:  deps.Experiments,
		Assignments:  deps.Assignments,
		Snapshots:    deps.Snapshots,
		Significance: services.BandedTTest{ConfidenceLevel: deps.ConfidenceLevel},
		Policy:       services.NewDecisionPolicy(deps.DecisionPolicy),
		Flights:      &singleflight.Group{},
		Clock:        deps.Clock,
		Logger:       deps.Logger,
	}
	lifecycle := commands.LifecycleUseCase{
		Experiments:    deps.Experiments,
		Writer:         deps.Writer,
		Results:        results,
		Idempotency:    deps.Idempotency,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Lifecycle: lifecycle,
			Assignment: commands.AssignmentUseCase{
				Experiments: deps.Experiments,
				Assignments: deps.Assignments,
				Clock:       deps.Clock,
				Salting:     deps.Salting,
				Logger:      deps.Logger,
			},
			Conversions: commands.ConversionUseCase{
				Experiments: deps.Experiments,
				Assignments: deps.Assignments,
				Events:      deps.Events,
				Clock:       deps.Clock,
				IDGen:       deps.IDGen,
				Logger:      deps.Logger,
			},
			Results:     results,
			Experiments: queries.ExperimentsUseCase{Experiments: deps.Experiments},
			Logger:      deps.Logger,
		},
		Sweeper: workers.ExpirySweeper{
			Experiments: deps.Experiments,
			Lifecycle:   lifecycle,
			Clock:       deps.Clock,
			Logger:      deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.Experiment, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Experiments:    store,
		Assignments:    store,
		Events:         store,
		Snapshots:      store,
		Idempotency:    store,
		Writer:         store,
		Clock:          store,
		IDGen:          store,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
