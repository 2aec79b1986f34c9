package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/adapters/memory"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

func TestCreateExperimentDefaultsAndDraftStatus(t *testing.T) {
	h := newHarness()
	result, err := h.lifecycle.CreateExperiment(context.Background(), CreateExperimentCommand{
		Name:         "homepage hero",
		TargetMetric: "signup",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	experiment := result.Experiment
	if experiment.Status != entities.ExperimentStatusDraft {
		t.Fatalf("expected draft, got %s", experiment.Status)
	}
	if !experiment.StartDate.Equal(h.clock.now) {
		t.Fatalf("expected start date %v, got %v", h.clock.now, experiment.StartDate)
	}
	want := h.clock.now.Add(DefaultDurationDays * 24 * time.Hour)
	if !experiment.EndDate.Equal(want) {
		t.Fatalf("expected end date %v, got %v", want, experiment.EndDate)
	}
}

func TestCreateExperimentRejectsMissingFields(t *testing.T) {
	h := newHarness()
	cases := []CreateExperimentCommand{
		{TargetMetric: "signup"},
		{Name: "no metric"},
		{Name: "negative sample", TargetMetric: "signup", MinSampleSize: -1},
		{Name: "negative duration", TargetMetric: "signup", DurationDays: -3},
	}
	for _, cmd := range cases {
		if _, err := h.lifecycle.CreateExperiment(context.Background(), cmd); !errors.Is(err, domainerrors.ErrInvalidExperimentInput) {
			t.Fatalf("expected invalid input for %+v, got %v", cmd, err)
		}
	}
}

func TestCreateExperimentIdempotencyReplayAndConflict(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cmd := CreateExperimentCommand{
		IdempotencyKey: "idem-1",
		Name:           "pricing page",
		TargetMetric:   "purchase",
		DurationDays:   7,
	}
	first, err := h.lifecycle.CreateExperiment(ctx, cmd)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	second, err := h.lifecycle.CreateExperiment(ctx, cmd)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if !second.Replayed || second.Experiment.ExperimentID != first.Experiment.ExperimentID {
		t.Fatalf("expected replay of %s, got %+v", first.Experiment.ExperimentID, second)
	}

	cmd.DurationDays = 30
	if _, err := h.lifecycle.CreateExperiment(ctx, cmd); !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestStartExperimentRefusals(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	created, err := h.lifecycle.CreateExperiment(ctx, CreateExperimentCommand{Name: "refusals", TargetMetric: "click"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	experimentID := created.Experiment.ExperimentID

	result, err := h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil || result.Started || result.Reason != ReasonInsufficientVariants {
		t.Fatalf("expected insufficient variants refusal, got %+v err=%v", result, err)
	}

	for _, traffic := range []float64{40, 40} {
		if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "arm", TrafficPercentage: traffic}); err != nil {
			t.Fatalf("add variant failed: %v", err)
		}
	}
	result, err = h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil || result.Started || result.Reason != ReasonTrafficNot100 {
		t.Fatalf("expected traffic refusal, got %+v err=%v", result, err)
	}

	if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "arm", TrafficPercentage: 19.995}); err != nil {
		t.Fatalf("add variant failed: %v", err)
	}
	result, err = h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil || result.Started || result.Reason != ReasonControlRequired {
		t.Fatalf("expected control refusal within traffic tolerance, got %+v err=%v", result, err)
	}

	experiment, err := h.store.GetExperiment(ctx, experimentID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		t.Fatalf("expected refused experiment to stay draft, got %s", experiment.Status)
	}
}

func TestStartExperimentResetsStartDateAndLocksVariants(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	created, err := h.lifecycle.CreateExperiment(ctx, CreateExperimentCommand{Name: "start", TargetMetric: "click"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	experimentID := created.Experiment.ExperimentID
	if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "a", TrafficPercentage: 50, IsControl: true}); err != nil {
		t.Fatalf("add control failed: %v", err)
	}
	if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "b", TrafficPercentage: 50, IsControl: true}); !errors.Is(err, domainerrors.ErrControlAlreadyExists) {
		t.Fatalf("expected second control to be rejected, got %v", err)
	}
	if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "b", TrafficPercentage: 50}); err != nil {
		t.Fatalf("add treatment failed: %v", err)
	}

	h.clock.Advance(time.Hour)
	result, err := h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil || !result.Started {
		t.Fatalf("expected start, got %+v err=%v", result, err)
	}
	if !result.Experiment.StartDate.Equal(h.clock.now) {
		t.Fatalf("expected start date reset to %v, got %v", h.clock.now, result.Experiment.StartDate)
	}
	if !result.Experiment.EndDate.Equal(created.Experiment.EndDate) {
		t.Fatalf("expected end date to stay %v, got %v", created.Experiment.EndDate, result.Experiment.EndDate)
	}

	if _, err := h.lifecycle.AddVariant(ctx, AddVariantCommand{ExperimentID: experimentID, Name: "late", TrafficPercentage: 0}); !errors.Is(err, domainerrors.ErrExperimentNotEditable) {
		t.Fatalf("expected late variant to be rejected, got %v", err)
	}
	again, err := h.lifecycle.StartExperiment(ctx, experimentID)
	if err != nil || again.Started || again.Reason != ReasonInvalidStatus {
		t.Fatalf("expected second start to be refused, got %+v err=%v", again, err)
	}
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	experimentID, _, _ := h.activeExperiment(t, 5, 1)

	paused, err := h.lifecycle.PauseExperiment(ctx, experimentID)
	if err != nil || !paused.Applied || paused.Experiment.Status != entities.ExperimentStatusPaused {
		t.Fatalf("expected pause, got %+v err=%v", paused, err)
	}
	resumed, err := h.lifecycle.ResumeExperiment(ctx, experimentID)
	if err != nil || !resumed.Applied || resumed.Experiment.Status != entities.ExperimentStatusActive {
		t.Fatalf("expected resume, got %+v err=%v", resumed, err)
	}
	resumedAgain, err := h.lifecycle.ResumeExperiment(ctx, experimentID)
	if err != nil || resumedAgain.Applied || resumedAgain.Reason != ReasonInvalidStatus {
		t.Fatalf("expected resume of active experiment to be refused, got %+v err=%v", resumedAgain, err)
	}
	cancelled, err := h.lifecycle.CancelExperiment(ctx, experimentID)
	if err != nil || !cancelled.Applied || cancelled.Experiment.Status != entities.ExperimentStatusCancelled {
		t.Fatalf("expected cancel, got %+v err=%v", cancelled, err)
	}
	if _, err := h.store.GetExperiment(ctx, experimentID); err != nil {
		t.Fatalf("expected cancelled experiment to remain stored: %v", err)
	}
	pausedAfterCancel, err := h.lifecycle.PauseExperiment(ctx, experimentID)
	if err != nil || pausedAfterCancel.Applied {
		t.Fatalf("expected terminal experiment to refuse pause, got %+v err=%v", pausedAfterCancel, err)
	}
}

func TestResumeRefusesDraft(t *testing.T) {
	h := newHarness()
	created, err := h.lifecycle.CreateExperiment(context.Background(), CreateExperimentCommand{Name: "draft", TargetMetric: "click"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	result, err := h.lifecycle.ResumeExperiment(context.Background(), created.Experiment.ExperimentID)
	if err != nil || result.Applied {
		t.Fatalf("expected resume of draft to be refused, got %+v err=%v", result, err)
	}
}

func TestCompleteExperimentWritesSnapshotsAndEvents(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	experimentID, controlID, treatmentID := h.activeExperiment(t, 5, 1)

	result, err := h.lifecycle.CompleteExperiment(ctx, CompleteExperimentCommand{
		ExperimentID:     experimentID,
		WinningVariantID: "no-such-variant",
	})
	if err != nil || result.Completed || result.Reason != ReasonUnknownWinner {
		t.Fatalf("expected unknown winner refusal, got %+v err=%v", result, err)
	}

	h.clock.Advance(2 * time.Hour)
	result, err = h.lifecycle.CompleteExperiment(ctx, CompleteExperimentCommand{
		ExperimentID:     experimentID,
		WinningVariantID: treatmentID,
	})
	if err != nil || !result.Completed {
		t.Fatalf("expected completion, got %+v err=%v", result, err)
	}
	if result.Experiment.WinningVariantID != treatmentID {
		t.Fatalf("expected advisory winner %s, got %s", treatmentID, result.Experiment.WinningVariantID)
	}
	if !result.Experiment.EndDate.Equal(h.clock.now) {
		t.Fatalf("expected end date %v, got %v", h.clock.now, result.Experiment.EndDate)
	}

	snapshots, err := h.store.ListResultSnapshots(ctx, experimentID)
	if err != nil {
		t.Fatalf("list snapshots failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected one snapshot per variant, got %d", len(snapshots))
	}
	seen := map[string]bool{}
	for _, snapshot := range snapshots {
		seen[snapshot.VariantID] = true
		if snapshot.WinningVariantID != treatmentID {
			t.Fatalf("expected snapshot winner %s, got %s", treatmentID, snapshot.WinningVariantID)
		}
	}
	if !seen[controlID] || !seen[treatmentID] {
		t.Fatalf("expected snapshots for both variants, got %+v", snapshots)
	}

	again, err := h.lifecycle.CompleteExperiment(ctx, CompleteExperimentCommand{ExperimentID: experimentID})
	if err != nil || again.Completed {
		t.Fatalf("expected second completion to be refused, got %+v err=%v", again, err)
	}

	pending, err := h.store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list outbox failed: %v", err)
	}
	types := map[string]int{}
	for _, row := range pending {
		types[row.EventType]++
	}
	for _, eventType := range []string{"experiment.created", "experiment.started", "experiment.completed"} {
		if types[eventType] != 1 {
			t.Fatalf("expected one %s event, got %v", eventType, types)
		}
	}
}

func TestLifecycleUnknownExperiment(t *testing.T) {
	h := newHarness()
	if _, err := h.lifecycle.StartExperiment(context.Background(), "missing"); !errors.Is(err, domainerrors.ErrExperimentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := h.lifecycle.AddVariant(context.Background(), AddVariantCommand{ExperimentID: "missing", Name: "a"}); !errors.Is(err, domainerrors.ErrExperimentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingCompletionWriter struct {
	*memory.Store
	err error
}

func (w failingCompletionWriter) CompleteWithSnapshots(
	context.Context,
	ports.StatusUpdate,
	[]entities.ResultSnapshot,
	ports.EventEnvelope,
) error {
	return w.err
}

func TestCompleteExperimentKeepsStatusWhenWriteFails(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	experimentID, _, _ := h.activeExperiment(t, 5, 0)

	failing := h.lifecycle
	failing.Writer = failingCompletionWriter{Store: h.store, err: errors.New("db down")}
	if _, err := failing.CompleteExperiment(ctx, CompleteExperimentCommand{ExperimentID: experimentID}); err == nil {
		t.Fatalf("expected completion to fail")
	}

	experiment, err := h.store.GetExperiment(ctx, experimentID)
	if err != nil {
		t.Fatalf("get experiment failed: %v", err)
	}
	if experiment.Status != entities.ExperimentStatusActive {
		t.Fatalf("expected status to stay active, got %s", experiment.Status)
	}
	snapshots, _ := h.store.ListResultSnapshots(ctx, experimentID)
	if len(snapshots) != 0 {
		t.Fatalf("expected no snapshots after failed completion, got %d", len(snapshots))
	}

	retried, err := h.lifecycle.CompleteExperiment(ctx, CompleteExperimentCommand{ExperimentID: experimentID})
	if err != nil || !retried.Completed {
		t.Fatalf("expected retry to complete, got %+v err=%v", retried, err)
	}
	snapshots, _ = h.store.ListResultSnapshots(ctx, experimentID)
	if len(snapshots) != 2 {
		t.Fatalf("expected one snapshot per variant after retry, got %d", len(snapshots))
	}
	pending, _ := h.store.ListPendingOutbox(ctx, 100)
	completed := 0
	for _, row := range pending {
		if row.EventType == "experiment.completed" {
			completed++
		}
	}
	if completed != 1 {
		t.Fatalf("expected one completed event, got %d", completed)
	}
}

func TestCreateExperimentConcurrentSameKeyStoresOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	cmd := CreateExperimentCommand{
		IdempotencyKey: "idem-race",
		Name:           "search ranking",
		TargetMetric:   "click",
	}

	const callers = 8
	results := make([]CreateExperimentResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.lifecycle.CreateExperiment(ctx, cmd)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].Experiment.ExperimentID != results[0].Experiment.ExperimentID {
			t.Fatalf("expected one experiment id, got %s and %s", results[0].Experiment.ExperimentID, results[i].Experiment.ExperimentID)
		}
		if !results[i].Replayed {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one non-replayed create, got %d", created)
	}
	stored, err := h.store.ListExperimentsByStatus(ctx, "")
	if err != nil {
		t.Fatalf("list experiments failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one stored experiment, got %d", len(stored))
	}
	pending, _ := h.store.ListPendingOutbox(ctx, 100)
	if len(pending) != 1 || pending[0].EventType != "experiment.created" {
		t.Fatalf("expected a single created event, got %+v", pending)
	}
}
