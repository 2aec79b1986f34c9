package commands

import (
	"context"
	"testing"
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/adapters/memory"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/queries"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type harness struct {
	store       *memory.Store
	clock       *fixedClock
	lifecycle   LifecycleUseCase
	assignment  AssignmentUseCase
	conversions ConversionUseCase
	results     queries.ResultsUseCase
}

func newHarness() harness {
	store := memory.NewStore(nil)
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	results := queries.ResultsUseCase{
		Experiments:  store,
		Assignments:  store,
		Snapshots:    store,
		Significance: services.BandedTTest{},
		Policy:       services.FirstMatchPolicy{},
		Clock:        clock,
	}
	return harness{
		store: store,
		clock: clock,
		lifecycle: LifecycleUseCase{
			Experiments:    store,
			Writer:         store,
			Results:        results,
			Idempotency:    store,
			Clock:          clock,
			IDGen:          store,
			IdempotencyTTL: time.Hour,
		},
		assignment: AssignmentUseCase{
			Experiments: store,
			Assignments: store,
			Clock:       clock,
		},
		conversions: ConversionUseCase{
			Experiments: store,
			Assignments: store,
			Events:      store,
			Clock:       clock,
			IDGen:       store,
		},
		results: results,
	}
}

// activeExperiment creates and starts a 50/50 control/treatment experiment and
// returns its id with the control and treatment variant ids.
func (h harness) activeExperiment(t *testing.T, threshold float64, minSample int) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	created, err := h.lifecycle.CreateExperiment(ctx, CreateExperimentCommand{
		Name:             "checkout button",
		TargetMetric:     "purchase",
		SuccessThreshold: threshold,
		MinSampleSize:    minSample,
		CreatedBy:        "analyst-1",
	})
	if err != nil {
		t.Fatalf("create experiment failed: %v", err)
	}
	experimentID := created.Experiment.ExperimentID
	control, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{
		ExperimentID:      experimentID,
		Name:              "control",
		TrafficPercentage: 50,
		IsControl:         true,
	})
	if err != nil {
		t.Fatalf("add control failed: %v", err)
	}
	treatment, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{
		ExperimentID:      experimentID,
		Name:              "treatment",
		TrafficPercentage: 50,
	})
	if err != nil {
		t.Fatalf("add treatment failed: %v", err)
	}
	started, err := h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil {
		t.Fatalf("start experiment failed: %v", err)
	}
	if !started.Started {
		t.Fatalf("expected experiment to start, got reason %q", started.Reason)
	}
	return experimentID, control.VariantID, treatment.VariantID
}
