//go:build integration

package postgresadapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
	"aegis/internal/platform/db"
)

// Run with: EXPERIMENTATION_TEST_POSTGRES_DSN=... go test -tags integration ./...
func newIntegrationRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("EXPERIMENTATION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EXPERIMENTATION_TEST_POSTGRES_DSN is not set")
	}
	pg, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { _ = pg.Close() })
	if err := pg.Migrate(context.Background(), Models()...); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return NewRepository(pg.DB, nil)
}

func seedExperiment(t *testing.T, repo *Repository, status entities.ExperimentStatus) entities.Experiment {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	experiment := entities.Experiment{
		ExperimentID: uuid.NewString(),
		Name:         "integration",
		TargetMetric: "purchase",
		Status:       status,
		StartDate:    now,
		EndDate:      now.Add(24 * time.Hour),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.InsertExperiment(context.Background(), experiment); err != nil {
		t.Fatalf("insert experiment failed: %v", err)
	}
	return experiment
}

func countOutbox(t *testing.T, repo *Repository, experimentID string) int64 {
	t.Helper()
	var count int64
	if err := repo.db.Model(&outboxModel{}).Where("partition_key = ?", experimentID).Count(&count).Error; err != nil {
		t.Fatalf("count outbox failed: %v", err)
	}
	return count
}

func TestRepositoryUpdateStatusIsCompareAndSet(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	experiment := seedExperiment(t, repo, entities.ExperimentStatusDraft)
	update := ports.StatusUpdate{
		ExperimentID: experiment.ExperimentID,
		From:         entities.ExperimentStatusDraft,
		To:           entities.ExperimentStatusActive,
		UpdatedAt:    time.Now().UTC(),
	}

	if err := repo.UpdateExperimentStatus(ctx, update); err != nil {
		t.Fatalf("first transition failed: %v", err)
	}
	if err := repo.UpdateExperimentStatus(ctx, update); !errors.Is(err, domainerrors.ErrConflict) {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}
	update.ExperimentID = uuid.NewString()
	if err := repo.UpdateExperimentStatus(ctx, update); !errors.Is(err, domainerrors.ErrExperimentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryInsertAssignmentConcurrentCallsCreateOnce(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	experiment := seedExperiment(t, repo, entities.ExperimentStatusActive)

	const callers = 8
	created := make([]bool, callers)
	variants := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stored, isNew, err := repo.InsertAssignment(ctx, entities.Assignment{
				ExperimentID: experiment.ExperimentID,
				SubjectID:    "user-1",
				VariantID:    fmt.Sprintf("variant-%d", i),
				AssignedAt:   time.Now().UTC(),
			})
			created[i], variants[i], errs[i] = isNew, stored.VariantID, err
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if created[i] {
			winners++
		}
		if variants[i] != variants[0] {
			t.Fatalf("expected every caller to see %s, got %s", variants[0], variants[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected one created assignment, got %d", winners)
	}
}

func TestRepositoryListAssignmentsForVariantJoinsEvents(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	experiment := seedExperiment(t, repo, entities.ExperimentStatusActive)
	now := time.Now().UTC()

	for subject, variant := range map[string]string{"user-1": "a", "user-2": "a", "user-3": "b"} {
		if _, _, err := repo.InsertAssignment(ctx, entities.Assignment{
			ExperimentID: experiment.ExperimentID,
			SubjectID:    subject,
			VariantID:    variant,
			AssignedAt:   now,
		}); err != nil {
			t.Fatalf("insert assignment failed: %v", err)
		}
	}
	for i, event := range []struct {
		subject string
		value   float64
	}{{"user-1", 10}, {"user-1", 20}, {"user-3", 99}} {
		if err := repo.AppendConversionEvent(ctx, entities.ConversionEvent{
			EventID:      uuid.NewString(),
			ExperimentID: experiment.ExperimentID,
			SubjectID:    event.subject,
			EventName:    "purchase",
			Value:        event.value,
			OccurredAt:   now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append conversion failed: %v", err)
		}
	}

	assignments, err := repo.ListAssignmentsForVariant(ctx, experiment.ExperimentID, "a")
	if err != nil {
		t.Fatalf("list assignments failed: %v", err)
	}
	if len(assignments) != 2 || assignments[0].SubjectID != "user-1" || assignments[1].SubjectID != "user-2" {
		t.Fatalf("unexpected assignments %+v", assignments)
	}
	purchases := assignments[0].Events["purchase"]
	if len(purchases) != 2 || purchases[0].Value != 10 || purchases[1].Value != 20 {
		t.Fatalf("expected user-1 events in recording order, got %+v", purchases)
	}
	if len(assignments[1].Events) != 0 {
		t.Fatalf("expected user-2 to have no events, got %+v", assignments[1].Events)
	}
}

func TestRepositoryCompleteWithSnapshotsRollsBackOnFailure(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	experiment := seedExperiment(t, repo, entities.ExperimentStatusActive)
	now := time.Now().UTC()
	update := ports.StatusUpdate{
		ExperimentID: experiment.ExperimentID,
		From:         entities.ExperimentStatusActive,
		To:           entities.ExperimentStatusCompleted,
		EndDate:      &now,
		UpdatedAt:    now,
	}
	event := ports.EventEnvelope{
		EventID:      uuid.NewString(),
		EventType:    "experiment.completed",
		PartitionKey: experiment.ExperimentID,
		OccurredAt:   now,
		Data:         []byte(`{}`),
	}
	duplicateID := uuid.NewString()
	broken := []entities.ResultSnapshot{
		{SnapshotID: duplicateID, ExperimentID: experiment.ExperimentID, VariantID: "a", RecordedAt: now},
		{SnapshotID: duplicateID, ExperimentID: experiment.ExperimentID, VariantID: "b", RecordedAt: now},
	}

	if err := repo.CompleteWithSnapshots(ctx, update, broken, event); err == nil {
		t.Fatalf("expected duplicate snapshot ids to fail")
	}
	stored, err := repo.GetExperiment(ctx, experiment.ExperimentID)
	if err != nil {
		t.Fatalf("get experiment failed: %v", err)
	}
	if stored.Status != entities.ExperimentStatusActive {
		t.Fatalf("expected status to roll back to active, got %s", stored.Status)
	}
	if snapshots, _ := repo.ListResultSnapshots(ctx, experiment.ExperimentID); len(snapshots) != 0 {
		t.Fatalf("expected no snapshots after rollback, got %d", len(snapshots))
	}
	if count := countOutbox(t, repo, experiment.ExperimentID); count != 0 {
		t.Fatalf("expected no outbox rows after rollback, got %d", count)
	}

	broken[1].SnapshotID = uuid.NewString()
	if err := repo.CompleteWithSnapshots(ctx, update, broken, event); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if snapshots, _ := repo.ListResultSnapshots(ctx, experiment.ExperimentID); len(snapshots) != 2 {
		t.Fatalf("expected two snapshots, got %d", len(snapshots))
	}
	if count := countOutbox(t, repo, experiment.ExperimentID); count != 1 {
		t.Fatalf("expected one outbox row, got %d", count)
	}
}

func TestRepositoryCreateExperimentWithOutboxSerializesSameKey(t *testing.T) {
	repo := newIntegrationRepository(t)
	ctx := context.Background()
	key := "integration-" + uuid.NewString()
	now := time.Now().UTC()

	const callers = 8
	ids := make([]string, callers)
	replays := make([]bool, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			experiment := entities.Experiment{
				ExperimentID: uuid.NewString(),
				Name:         "concurrent",
				TargetMetric: "click",
				Status:       entities.ExperimentStatusDraft,
				StartDate:    now,
				EndDate:      now.Add(24 * time.Hour),
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			stored, replayed, err := repo.CreateExperimentWithOutbox(ctx, experiment, ports.EventEnvelope{
				EventID:      uuid.NewString(),
				EventType:    "experiment.created",
				PartitionKey: experiment.ExperimentID,
				OccurredAt:   now,
				Data:         []byte(`{}`),
			}, &ports.IdempotencyRecord{
				Key:          key,
				RequestHash:  "same-request",
				ExperimentID: experiment.ExperimentID,
				ExpiresAt:    now.Add(time.Hour),
			})
			ids[i], replays[i], errs[i] = stored.ExperimentID, replayed, err
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected one experiment id, got %s and %s", ids[0], ids[i])
		}
		if !replays[i] {
			fresh++
		}
	}
	if fresh != 1 {
		t.Fatalf("expected exactly one fresh create, got %d", fresh)
	}
	if count := countOutbox(t, repo, ids[0]); count != 1 {
		t.Fatalf("expected one created event, got %d", count)
	}
}
