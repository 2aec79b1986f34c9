package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

type subjectKey struct {
	experimentID string
	subjectID    string
}

// Store is the in-process persistence used by tests and the memory backend.
// Every write happens under one lock, which makes assignment insert-or-fetch
// and control uniqueness atomic.
type Store struct {
	mu sync.RWMutex

	experiments map[string]entities.Experiment
	variants    map[string][]entities.Variant
	assignments map[subjectKey]entities.Assignment
	events      map[subjectKey][]entities.ConversionEvent
	snapshots   map[string][]entities.ResultSnapshot
	idempotency map[string]ports.IdempotencyRecord
	outbox      map[string]outboxRecord
}

func NewStore(seed []entities.Experiment) *Store {
	experiments := make(map[string]entities.Experiment, len(seed))
	for _, experiment := range seed {
		experiments[experiment.ExperimentID] = experiment
	}
	return &Store{
		experiments: experiments,
		variants:    make(map[string][]entities.Variant),
		assignments: make(map[subjectKey]entities.Assignment),
		events:      make(map[subjectKey][]entities.ConversionEvent),
		snapshots:   make(map[string][]entities.ResultSnapshot),
		idempotency: make(map[string]ports.IdempotencyRecord),
		outbox:      make(map[string]outboxRecord),
	}
}

func (s *Store) InsertExperiment(_ context.Context, experiment entities.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	experimentID := strings.TrimSpace(experiment.ExperimentID)
	if _, exists := s.experiments[experimentID]; exists {
		return domainerrors.ErrConflict
	}
	experiment.ExperimentID = experimentID
	s.experiments[experimentID] = experiment
	return nil
}

func (s *Store) UpdateExperimentStatus(_ context.Context, update ports.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateStatusLocked(update)
}

func (s *Store) updateStatusLocked(update ports.StatusUpdate) error {
	experimentID := strings.TrimSpace(update.ExperimentID)
	experiment, ok := s.experiments[experimentID]
	if !ok {
		return domainerrors.ErrExperimentNotFound
	}
	if experiment.Status != update.From {
		return domainerrors.ErrConflict
	}
	experiment.Status = update.To
	if update.StartDate != nil {
		experiment.StartDate = update.StartDate.UTC()
	}
	if update.EndDate != nil {
		experiment.EndDate = update.EndDate.UTC()
	}
	if update.WinningVariantID != nil {
		experiment.WinningVariantID = *update.WinningVariantID
	}
	experiment.UpdatedAt = update.UpdatedAt.UTC()
	s.experiments[experimentID] = experiment
	return nil
}

func (s *Store) GetExperiment(_ context.Context, experimentID string) (entities.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	experiment, ok := s.experiments[strings.TrimSpace(experimentID)]
	if !ok {
		return entities.Experiment{}, domainerrors.ErrExperimentNotFound
	}
	return experiment, nil
}

func (s *Store) ListExperimentsByStatus(_ context.Context, status entities.ExperimentStatus) ([]entities.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]entities.Experiment, 0)
	for _, experiment := range s.experiments {
		if status != "" && experiment.Status != status {
			continue
		}
		items = append(items, experiment)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ExperimentID < items[j].ExperimentID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) InsertVariant(_ context.Context, variant entities.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	experimentID := strings.TrimSpace(variant.ExperimentID)
	experiment, ok := s.experiments[experimentID]
	if !ok {
		return domainerrors.ErrExperimentNotFound
	}
	if experiment.Status != entities.ExperimentStatusDraft {
		return domainerrors.ErrExperimentNotEditable
	}
	for _, existing := range s.variants[experimentID] {
		if existing.VariantID == variant.VariantID {
			return domainerrors.ErrConflict
		}
		if variant.IsControl && existing.IsControl {
			return domainerrors.ErrControlAlreadyExists
		}
	}
	variant.ExperimentID = experimentID
	variant.Config = cloneRaw(variant.Config)
	s.variants[experimentID] = append(s.variants[experimentID], variant)
	return nil
}

func (s *Store) ListVariants(_ context.Context, experimentID string) ([]entities.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.variants[strings.TrimSpace(experimentID)]
	items := make([]entities.Variant, 0, len(stored))
	for _, variant := range stored {
		variant.Config = cloneRaw(variant.Config)
		items = append(items, variant)
	}
	return items, nil
}

func (s *Store) SumVariantTraffic(_ context.Context, experimentID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0.0
	for _, variant := range s.variants[strings.TrimSpace(experimentID)] {
		total += variant.TrafficPercentage
	}
	return total, nil
}

func (s *Store) GetAssignment(_ context.Context, experimentID string, subjectID string) (entities.Assignment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := subjectKey{experimentID: strings.TrimSpace(experimentID), subjectID: strings.TrimSpace(subjectID)}
	assignment, ok := s.assignments[key]
	if !ok {
		return entities.Assignment{}, false, nil
	}
	assignment.Events = s.eventLogLocked(key)
	return assignment, true, nil
}

func (s *Store) InsertAssignment(_ context.Context, assignment entities.Assignment) (entities.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subjectKey{
		experimentID: strings.TrimSpace(assignment.ExperimentID),
		subjectID:    strings.TrimSpace(assignment.SubjectID),
	}
	if existing, ok := s.assignments[key]; ok {
		existing.Events = s.eventLogLocked(key)
		return existing, false, nil
	}
	assignment.ExperimentID = key.experimentID
	assignment.SubjectID = key.subjectID
	assignment.AssignedAt = assignment.AssignedAt.UTC()
	assignment.Events = nil
	s.assignments[key] = assignment
	assignment.Events = entities.EventLog{}
	return assignment, true, nil
}

func (s *Store) ListAssignmentsForVariant(_ context.Context, experimentID string, variantID string) ([]entities.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	experimentID = strings.TrimSpace(experimentID)
	variantID = strings.TrimSpace(variantID)
	items := make([]entities.Assignment, 0)
	for key, assignment := range s.assignments {
		if key.experimentID != experimentID || assignment.VariantID != variantID {
			continue
		}
		assignment.Events = s.eventLogLocked(key)
		items = append(items, assignment)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].SubjectID < items[j].SubjectID
	})
	return items, nil
}

func (s *Store) AppendConversionEvent(_ context.Context, event entities.ConversionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subjectKey{
		experimentID: strings.TrimSpace(event.ExperimentID),
		subjectID:    strings.TrimSpace(event.SubjectID),
	}
	if _, ok := s.assignments[key]; !ok {
		return domainerrors.ErrConflict
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.Metadata = maps.Clone(event.Metadata)
	s.events[key] = append(s.events[key], event)
	return nil
}

func (s *Store) GetEventLog(_ context.Context, experimentID string, subjectID string) (entities.EventLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := subjectKey{experimentID: strings.TrimSpace(experimentID), subjectID: strings.TrimSpace(subjectID)}
	return s.eventLogLocked(key), nil
}

func (s *Store) InsertResultSnapshots(_ context.Context, snapshots []entities.ResultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.insertSnapshotsLocked(snapshots)
	return nil
}

func (s *Store) insertSnapshotsLocked(snapshots []entities.ResultSnapshot) {
	for _, snapshot := range snapshots {
		experimentID := strings.TrimSpace(snapshot.ExperimentID)
		s.snapshots[experimentID] = append(s.snapshots[experimentID], snapshot)
	}
}

func (s *Store) ListResultSnapshots(_ context.Context, experimentID string) ([]entities.ResultSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.snapshots[strings.TrimSpace(experimentID)]
	items := make([]entities.ResultSnapshot, len(stored))
	copy(items, stored)
	return items, nil
}

func (s *Store) Get(_ context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, exists := s.idempotency[key]
	if !exists {
		return ports.IdempotencyRecord{}, false, nil
	}
	if !record.ExpiresAt.After(now.UTC()) {
		delete(s.idempotency, key)
		return ports.IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *Store) Put(_ context.Context, record ports.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.TrimSpace(record.Key)
	existing, exists := s.idempotency[key]
	if exists {
		if existing.RequestHash != record.RequestHash || existing.ExperimentID != record.ExperimentID {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	s.putIdempotencyLocked(record)
	return nil
}

func (s *Store) putIdempotencyLocked(record ports.IdempotencyRecord) {
	key := strings.TrimSpace(record.Key)
	s.idempotency[key] = ports.IdempotencyRecord{
		Key:          key,
		RequestHash:  strings.TrimSpace(record.RequestHash),
		ExperimentID: strings.TrimSpace(record.ExperimentID),
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := outboxRecordFromEnvelope(envelope)
	if err != nil {
		return err
	}
	return s.appendOutboxLocked(record)
}

func (s *Store) appendOutboxLocked(record outboxRecord) error {
	if existing, ok := s.outbox[record.message.OutboxID]; ok {
		if !bytes.Equal(existing.message.Payload, record.message.Payload) {
			return domainerrors.ErrConflict
		}
		return nil
	}
	s.outbox[record.message.OutboxID] = record
	return nil
}

// CreateExperimentWithOutbox checks the idempotency key, inserts the
// experiment, queues its event and stores the key under one lock.
func (s *Store) CreateExperimentWithOutbox(
	_ context.Context,
	experiment entities.Experiment,
	event ports.EventEnvelope,
	idempotency *ports.IdempotencyRecord,
) (entities.Experiment, bool, error) {
	record, err := outboxRecordFromEnvelope(event)
	if err != nil {
		return entities.Experiment{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotency != nil {
		key := strings.TrimSpace(idempotency.Key)
		existing, exists := s.idempotency[key]
		if exists && existing.ExpiresAt.After(experiment.CreatedAt.UTC()) {
			if existing.RequestHash != strings.TrimSpace(idempotency.RequestHash) {
				return entities.Experiment{}, false, domainerrors.ErrIdempotencyConflict
			}
			stored, ok := s.experiments[existing.ExperimentID]
			if !ok {
				return entities.Experiment{}, false, domainerrors.ErrExperimentNotFound
			}
			return stored, true, nil
		}
	}

	experimentID := strings.TrimSpace(experiment.ExperimentID)
	if _, exists := s.experiments[experimentID]; exists {
		return entities.Experiment{}, false, domainerrors.ErrConflict
	}
	if _, exists := s.outbox[record.message.OutboxID]; exists {
		return entities.Experiment{}, false, domainerrors.ErrConflict
	}
	experiment.ExperimentID = experimentID
	s.experiments[experimentID] = experiment
	s.outbox[record.message.OutboxID] = record
	if idempotency != nil {
		s.putIdempotencyLocked(*idempotency)
	}
	return experiment, false, nil
}

// TransitionWithOutbox applies the status compare-and-set and queues the
// event only when the transition succeeds.
func (s *Store) TransitionWithOutbox(_ context.Context, update ports.StatusUpdate, event ports.EventEnvelope) error {
	record, err := outboxRecordFromEnvelope(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outbox[record.message.OutboxID]; exists {
		return domainerrors.ErrConflict
	}
	if err := s.updateStatusLocked(update); err != nil {
		return err
	}
	s.outbox[record.message.OutboxID] = record
	return nil
}

// CompleteWithSnapshots is TransitionWithOutbox plus the audit snapshots.
func (s *Store) CompleteWithSnapshots(
	_ context.Context,
	update ports.StatusUpdate,
	snapshots []entities.ResultSnapshot,
	event ports.EventEnvelope,
) error {
	record, err := outboxRecordFromEnvelope(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outbox[record.message.OutboxID]; exists {
		return domainerrors.ErrConflict
	}
	if err := s.updateStatusLocked(update); err != nil {
		return err
	}
	s.insertSnapshotsLocked(snapshots)
	s.outbox[record.message.OutboxID] = record
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].OutboxID < items[j].OutboxID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outboxID = strings.TrimSpace(outboxID)
	row, ok := s.outbox[outboxID]
	if !ok {
		return domainerrors.ErrConflict
	}
	row.published = true
	s.outbox[outboxID] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func outboxRecordFromEnvelope(envelope ports.EventEnvelope) (outboxRecord, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return outboxRecord{}, err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}, nil
}

// eventLogLocked copies metadata out so callers cannot edit stored history.
func (s *Store) eventLogLocked(key subjectKey) entities.EventLog {
	stored := s.events[key]
	events := make([]entities.ConversionEvent, 0, len(stored))
	for _, event := range stored {
		event.Metadata = maps.Clone(event.Metadata)
		events = append(events, event)
	}
	return entities.BuildEventLog(events)
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

var (
	_ ports.ExperimentRepository     = (*Store)(nil)
	_ ports.AssignmentRepository     = (*Store)(nil)
	_ ports.EventLogRepository       = (*Store)(nil)
	_ ports.ResultSnapshotRepository = (*Store)(nil)
	_ ports.IdempotencyStore         = (*Store)(nil)
	_ ports.OutboxWriter             = (*Store)(nil)
	_ ports.OutboxRepository         = (*Store)(nil)
	_ ports.LifecycleWriter          = (*Store)(nil)
	_ ports.Clock                    = (*Store)(nil)
	_ ports.IDGenerator              = (*Store)(nil)
)
