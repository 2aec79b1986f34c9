package queries

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/singleflight"

	"aegis/contexts/recommendation-optimization/experimentation-engine/adapters/memory"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

type seededExperiment struct {
	store        *memory.Store
	experimentID string
}

func seedExperiment(t *testing.T, threshold float64, minSample int) seededExperiment {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore([]entities.Experiment{{
		ExperimentID:     "exp-1",
		Name:             "checkout",
		TargetMetric:     "purchase",
		SuccessThreshold: threshold,
		MinSampleSize:    minSample,
		Status:           entities.ExperimentStatusDraft,
		StartDate:        now,
		EndDate:          now.Add(14 * 24 * time.Hour),
		CreatedAt:        now,
		UpdatedAt:        now,
	}})
	ctx := context.Background()
	for _, variant := range []entities.Variant{
		{VariantID: "a-control", ExperimentID: "exp-1", Name: "control", TrafficPercentage: 50, IsControl: true},
		{VariantID: "b-treatment", ExperimentID: "exp-1", Name: "treatment", TrafficPercentage: 50},
	} {
		if err := store.InsertVariant(ctx, variant); err != nil {
			t.Fatalf("insert variant failed: %v", err)
		}
	}
	return seededExperiment{store: store, experimentID: "exp-1"}
}

func (s seededExperiment) convert(t *testing.T, variantID string, subjectID string, values ...float64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := s.store.InsertAssignment(ctx, entities.Assignment{
		ExperimentID: s.experimentID,
		SubjectID:    subjectID,
		VariantID:    variantID,
		AssignedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("insert assignment failed: %v", err)
	}
	for i, value := range values {
		if err := s.store.AppendConversionEvent(ctx, entities.ConversionEvent{
			EventID:      fmt.Sprintf("%s-%d", subjectID, i),
			ExperimentID: s.experimentID,
			SubjectID:    subjectID,
			EventName:    "purchase",
			Value:        value,
			OccurredAt:   time.Now(),
		}); err != nil {
			t.Fatalf("append conversion failed: %v", err)
		}
	}
}

func (s seededExperiment) useCase() ResultsUseCase {
	return ResultsUseCase{
		Experiments:  s.store,
		Assignments:  s.store,
		Snapshots:    s.store,
		Significance: services.BandedTTest{},
		Policy:       services.FirstMatchPolicy{},
	}
}

func TestResultsZeroVarianceScenarioIsInconclusive(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	seeded.convert(t, "a-control", "user-1", 10)
	seeded.convert(t, "a-control", "user-2", 10)
	seeded.convert(t, "b-treatment", "user-3", 15)
	seeded.convert(t, "b-treatment", "user-4", 15)

	report, err := seeded.useCase().GetResults(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("get results failed: %v", err)
	}
	if report.Status != entities.ResultStatusInconclusive {
		t.Fatalf("expected inconclusive, got %s", report.Status)
	}
	if len(report.Variants) != 2 {
		t.Fatalf("expected two variant results, got %d", len(report.Variants))
	}
	control, treatment := report.Variants[0], report.Variants[1]
	if control.Variant.VariantID != "a-control" || control.Significance != nil {
		t.Fatalf("expected control first without verdict, got %+v", control)
	}
	if control.Metrics.ConversionRate != 100 || control.Metrics.AverageValue != 10 || control.Metrics.TotalValue != 20 {
		t.Fatalf("unexpected control metrics %+v", control.Metrics)
	}
	verdict := treatment.Significance
	if verdict == nil {
		t.Fatalf("expected treatment verdict")
	}
	if verdict.ComparedTo != "a-control" || verdict.PValue != 1.0 || verdict.IsSignificant || verdict.ConfidenceLevel != 0 {
		t.Fatalf("expected degenerate verdict, got %+v", verdict)
	}
	if verdict.ImprovementPercentage != 50 {
		t.Fatalf("expected improvement 50, got %f", verdict.ImprovementPercentage)
	}
}

func TestResultsCollectingDataBelowMinimum(t *testing.T) {
	seeded := seedExperiment(t, 5, 3)
	seeded.convert(t, "a-control", "user-1", 1, 2, 3)
	seeded.convert(t, "a-control", "user-2", 4, 5)
	seeded.convert(t, "a-control", "user-5")
	seeded.convert(t, "b-treatment", "user-3", 6, 7, 8)
	seeded.convert(t, "b-treatment", "user-4", 9, 10)

	report, err := seeded.useCase().GetResults(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("get results failed: %v", err)
	}
	if report.Status != entities.ResultStatusCollectingData {
		t.Fatalf("expected collecting_data, got %s", report.Status)
	}
	if report.Variants[0].Metrics.ConversionRate != 66.67 {
		t.Fatalf("expected control rate 66.67, got %f", report.Variants[0].Metrics.ConversionRate)
	}
}

func TestResultsWinnerFound(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	seeded.convert(t, "a-control", "user-1", 1, 2, 3)
	seeded.convert(t, "a-control", "user-2", 4, 5)
	seeded.convert(t, "b-treatment", "user-3", 6, 7, 8)
	seeded.convert(t, "b-treatment", "user-4", 9, 10)

	report, err := seeded.useCase().GetResults(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("get results failed: %v", err)
	}
	if report.Status != entities.ResultStatusWinnerFound || report.RecommendedVariant != "b-treatment" {
		t.Fatalf("expected treatment to win, got %s/%s", report.Status, report.RecommendedVariant)
	}
	verdict := report.Variants[1].Significance
	if verdict.PValue != 0.01 || verdict.ImprovementPercentage != 166.67 {
		t.Fatalf("unexpected verdict %+v", verdict)
	}
}

func TestResultsControlBetter(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	seeded.convert(t, "a-control", "user-1", 6, 7, 8)
	seeded.convert(t, "a-control", "user-2", 9, 10)
	seeded.convert(t, "b-treatment", "user-3", 1, 2, 3)
	seeded.convert(t, "b-treatment", "user-4", 4, 5)

	report, err := seeded.useCase().GetResults(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("get results failed: %v", err)
	}
	if report.Status != entities.ResultStatusControlBetter || report.RecommendedVariant != "a-control" {
		t.Fatalf("expected control_better recommending control, got %s/%s", report.Status, report.RecommendedVariant)
	}
}

func TestResultsMissingExperiment(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	_, err := seeded.useCase().GetResults(context.Background(), "missing")
	if !errors.Is(err, domainerrors.ErrExperimentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := seeded.useCase().GetResults(context.Background(), " "); !errors.Is(err, domainerrors.ErrInvalidExperimentInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestResultsSharedFlightReturnsSameReport(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	seeded.convert(t, "a-control", "user-1", 10)
	seeded.convert(t, "b-treatment", "user-2", 12)
	uc := seeded.useCase()
	uc.Flights = &singleflight.Group{}

	var wg sync.WaitGroup
	statuses := make([]entities.ResultStatus, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := uc.GetResults(context.Background(), "exp-1")
			if err != nil {
				t.Errorf("get results failed: %v", err)
				return
			}
			statuses[i] = report.Status
		}(i)
	}
	wg.Wait()
	for _, status := range statuses {
		if status != entities.ResultStatusCollectingData {
			t.Fatalf("expected collecting_data for every caller, got %s", status)
		}
	}
}

func TestListSnapshotsOrdersByRecordingTime(t *testing.T) {
	seeded := seedExperiment(t, 5, 2)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if err := seeded.store.InsertResultSnapshots(context.Background(), []entities.ResultSnapshot{
		{SnapshotID: "s2", ExperimentID: "exp-1", VariantID: "b-treatment", RecordedAt: base},
		{SnapshotID: "s1", ExperimentID: "exp-1", VariantID: "a-control", RecordedAt: base},
	}); err != nil {
		t.Fatalf("insert snapshots failed: %v", err)
	}
	snapshots, err := seeded.useCase().ListSnapshots(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("list snapshots failed: %v", err)
	}
	if len(snapshots) != 2 || snapshots[0].VariantID != "a-control" {
		t.Fatalf("unexpected snapshot order %+v", snapshots)
	}
}

// gatedExperiments holds GetExperiment until release is closed and then fails
// if the calling context was cancelled meanwhile.
type gatedExperiments struct {
	ports.ExperimentRepository
	entered chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (g gatedExperiments) GetExperiment(ctx context.Context, experimentID string) (entities.Experiment, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return entities.Experiment{}, err
	}
	return g.ExperimentRepository.GetExperiment(ctx, experimentID)
}

func TestResultsSharedFlightSurvivesFirstCallerCancel(t *testing.T) {
	seeded := seedExperiment(t, 5, 0)
	gate := gatedExperiments{
		ExperimentRepository: seeded.store,
		entered:              make(chan struct{}),
		release:              make(chan struct{}),
		once:                 &sync.Once{},
	}
	uc := seeded.useCase()
	uc.Experiments = gate
	uc.Flights = &singleflight.Group{}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := uc.GetResults(firstCtx, "exp-1")
		firstErr <- err
	}()
	<-gate.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := uc.GetResults(context.Background(), "exp-1")
		secondErr <- err
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to see its cancellation, got %v", err)
	}
	close(gate.release)
	if err := <-secondErr; err != nil {
		t.Fatalf("expected second caller to get the report, got %v", err)
	}
}
