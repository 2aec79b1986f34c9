package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
	"aegis/internal/shared/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) InsertExperiment(ctx context.Context, experiment entities.Experiment) error {
	row := experimentModelFromEntity(experiment)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("experimentation_repo_insert_experiment_failed", err, "experiment_id", row.ID)
	}
	return nil
}

func (r *Repository) UpdateExperimentStatus(ctx context.Context, update ports.StatusUpdate) error {
	err := updateStatusTx(r.db.WithContext(ctx), update)
	if err != nil && !isDomainError(err) {
		return r.logError("experimentation_repo_update_status_failed", err,
			"experiment_id", strings.TrimSpace(update.ExperimentID),
			"from_status", string(update.From),
			"to_status", string(update.To),
		)
	}
	return err
}

// updateStatusTx is the status compare-and-set shared by the plain update and
// the transactional lifecycle writes.
func updateStatusTx(tx *gorm.DB, update ports.StatusUpdate) error {
	experimentID := strings.TrimSpace(update.ExperimentID)
	values := map[string]any{
		"status":     string(update.To),
		"updated_at": update.UpdatedAt.UTC(),
	}
	if update.StartDate != nil {
		values["start_date"] = update.StartDate.UTC()
	}
	if update.EndDate != nil {
		values["end_date"] = update.EndDate.UTC()
	}
	if update.WinningVariantID != nil {
		values["winning_variant_id"] = *update.WinningVariantID
	}

	result := tx.
		Model(&experimentModel{}).
		Where("id = ? AND status = ?", experimentID, string(update.From)).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// Nothing matched: either the experiment is missing or its status moved.
	var count int64
	if err := tx.Model(&experimentModel{}).Where("id = ?", experimentID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domainerrors.ErrExperimentNotFound
	}
	return domainerrors.ErrConflict
}

// CreateExperimentWithOutbox inserts the idempotency row first. A concurrent
// create with the same key blocks on that insert until the winner commits and
// then replays the winner's experiment.
func (r *Repository) CreateExperimentWithOutbox(
	ctx context.Context,
	experiment entities.Experiment,
	event ports.EventEnvelope,
	idempotency *ports.IdempotencyRecord,
) (entities.Experiment, bool, error) {
	outboxRow, err := outboxModelFromEnvelope(event)
	if err != nil {
		return entities.Experiment{}, false, r.logError("experimentation_repo_create_experiment_marshal_failed", err,
			"experiment_id", experiment.ExperimentID,
		)
	}
	row := experimentModelFromEntity(experiment)

	var (
		stored   entities.Experiment
		replayed bool
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if idempotency != nil {
			existing, reserved, err := reserveIdempotencyTx(tx, *idempotency, experiment.CreatedAt)
			if err != nil {
				return err
			}
			if !reserved {
				if existing.RequestHash != strings.TrimSpace(idempotency.RequestHash) {
					return domainerrors.ErrIdempotencyConflict
				}
				var winner experimentModel
				if err := tx.Where("id = ?", existing.ExperimentID).First(&winner).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return domainerrors.ErrExperimentNotFound
					}
					return err
				}
				stored = winner.toEntity()
				replayed = true
				return nil
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		if err := tx.Create(&outboxRow).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		stored = row.toEntity()
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return entities.Experiment{}, false, err
		}
		return entities.Experiment{}, false, r.logError("experimentation_repo_create_experiment_failed", err,
			"experiment_id", row.ID,
		)
	}
	return stored, replayed, nil
}

func (r *Repository) TransitionWithOutbox(ctx context.Context, update ports.StatusUpdate, event ports.EventEnvelope) error {
	return r.CompleteWithSnapshots(ctx, update, nil, event)
}

// CompleteWithSnapshots commits the status change, the per-variant audit rows
// and the outbox event together. Any failure rolls back the status change so
// a retry can complete the experiment again.
func (r *Repository) CompleteWithSnapshots(
	ctx context.Context,
	update ports.StatusUpdate,
	snapshots []entities.ResultSnapshot,
	event ports.EventEnvelope,
) error {
	outboxRow, err := outboxModelFromEnvelope(event)
	if err != nil {
		return r.logError("experimentation_repo_transition_marshal_failed", err,
			"experiment_id", strings.TrimSpace(update.ExperimentID),
		)
	}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateStatusTx(tx, update); err != nil {
			return err
		}
		if len(snapshots) > 0 {
			rows := make([]resultSnapshotModel, 0, len(snapshots))
			for _, snapshot := range snapshots {
				rows = append(rows, resultSnapshotModelFromEntity(snapshot))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&outboxRow).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil && !isDomainError(err) {
		return r.logError("experimentation_repo_transition_failed", err,
			"experiment_id", strings.TrimSpace(update.ExperimentID),
			"from_status", string(update.From),
			"to_status", string(update.To),
			"snapshot_count", len(snapshots),
		)
	}
	return err
}

func (r *Repository) GetExperiment(ctx context.Context, experimentID string) (entities.Experiment, error) {
	var row experimentModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(experimentID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Experiment{}, domainerrors.ErrExperimentNotFound
		}
		return entities.Experiment{}, r.logError("experimentation_repo_get_experiment_failed", err,
			"experiment_id", strings.TrimSpace(experimentID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListExperimentsByStatus(ctx context.Context, status entities.ExperimentStatus) ([]entities.Experiment, error) {
	tx := r.db.WithContext(ctx).Model(&experimentModel{})
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var rows []experimentModel
	if err := tx.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_experiments_failed", err, "status", string(status))
	}
	items := make([]entities.Experiment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// InsertVariant locks the owning experiment row so the draft check and the
// single-control check cannot race a concurrent insert or start.
func (r *Repository) InsertVariant(ctx context.Context, variant entities.Variant) error {
	row := variantModelFromEntity(variant)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var experiment experimentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", row.ExperimentID).
			First(&experiment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrExperimentNotFound
			}
			return err
		}
		if entities.ExperimentStatus(experiment.Status) != entities.ExperimentStatusDraft {
			return domainerrors.ErrExperimentNotEditable
		}
		if row.IsControl {
			var controls int64
			if err := tx.Model(&variantModel{}).
				Where("experiment_id = ? AND is_control = ?", row.ExperimentID, true).
				Count(&controls).Error; err != nil {
				return err
			}
			if controls > 0 {
				return domainerrors.ErrControlAlreadyExists
			}
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return r.logError("experimentation_repo_insert_variant_failed", err,
			"experiment_id", row.ExperimentID,
			"variant_id", row.ID,
		)
	}
	return nil
}

func (r *Repository) ListVariants(ctx context.Context, experimentID string) ([]entities.Variant, error) {
	var rows []variantModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ?", strings.TrimSpace(experimentID)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_variants_failed", err,
			"experiment_id", strings.TrimSpace(experimentID),
		)
	}
	items := make([]entities.Variant, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) SumVariantTraffic(ctx context.Context, experimentID string) (float64, error) {
	var total float64
	if err := r.db.WithContext(ctx).
		Model(&variantModel{}).
		Select("COALESCE(SUM(traffic_percentage), 0)").
		Where("experiment_id = ?", strings.TrimSpace(experimentID)).
		Scan(&total).Error; err != nil {
		return 0, r.logError("experimentation_repo_sum_variant_traffic_failed", err,
			"experiment_id", strings.TrimSpace(experimentID),
		)
	}
	return total, nil
}

func (r *Repository) GetAssignment(ctx context.Context, experimentID string, subjectID string) (entities.Assignment, bool, error) {
	experimentID = strings.TrimSpace(experimentID)
	subjectID = strings.TrimSpace(subjectID)
	var row assignmentModel
	err := r.db.WithContext(ctx).
		Where("experiment_id = ? AND subject_id = ?", experimentID, subjectID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Assignment{}, false, nil
		}
		return entities.Assignment{}, false, r.logError("experimentation_repo_get_assignment_failed", err,
			"experiment_id", experimentID,
			"subject_id", subjectID,
		)
	}
	events, err := r.GetEventLog(ctx, experimentID, subjectID)
	if err != nil {
		return entities.Assignment{}, false, err
	}
	return row.toEntity(events), true, nil
}

// InsertAssignment relies on the (experiment_id, subject_id) primary key:
// the losing writer of a race gets DoNothing and reads the winner's row.
func (r *Repository) InsertAssignment(ctx context.Context, assignment entities.Assignment) (entities.Assignment, bool, error) {
	row := assignmentModel{
		ExperimentID: strings.TrimSpace(assignment.ExperimentID),
		SubjectID:    strings.TrimSpace(assignment.SubjectID),
		VariantID:    strings.TrimSpace(assignment.VariantID),
		AssignedAt:   assignment.AssignedAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "experiment_id"}, {Name: "subject_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return entities.Assignment{}, false, r.logError("experimentation_repo_insert_assignment_failed", create.Error,
			"experiment_id", row.ExperimentID,
			"subject_id", row.SubjectID,
		)
	}
	if create.RowsAffected > 0 {
		return row.toEntity(nil), true, nil
	}

	existing, found, err := r.GetAssignment(ctx, row.ExperimentID, row.SubjectID)
	if err != nil {
		return entities.Assignment{}, false, err
	}
	if !found {
		return entities.Assignment{}, false, r.logError("experimentation_repo_insert_assignment_lost", domainerrors.ErrConflict,
			"experiment_id", row.ExperimentID,
			"subject_id", row.SubjectID,
		)
	}
	return existing, false, nil
}

func (r *Repository) ListAssignmentsForVariant(ctx context.Context, experimentID string, variantID string) ([]entities.Assignment, error) {
	experimentID = strings.TrimSpace(experimentID)
	variantID = strings.TrimSpace(variantID)

	var rows []assignmentModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ? AND variant_id = ?", experimentID, variantID).
		Order("subject_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_assignments_failed", err,
			"experiment_id", experimentID,
			"variant_id", variantID,
		)
	}

	var eventRows []conversionEventModel
	if err := r.db.WithContext(ctx).
		Table("experiment_conversion_events AS e").
		Select("e.*").
		Joins("JOIN experiment_assignments AS a ON a.experiment_id = e.experiment_id AND a.subject_id = e.subject_id").
		Where("a.experiment_id = ? AND a.variant_id = ?", experimentID, variantID).
		Order("e.seq ASC").
		Scan(&eventRows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_variant_events_failed", err,
			"experiment_id", experimentID,
			"variant_id", variantID,
		)
	}
	bySubject := make(map[string][]entities.ConversionEvent, len(rows))
	for _, eventRow := range eventRows {
		bySubject[eventRow.SubjectID] = append(bySubject[eventRow.SubjectID], eventRow.toEntity())
	}

	items := make([]entities.Assignment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(entities.BuildEventLog(bySubject[row.SubjectID])))
	}
	return items, nil
}

func (r *Repository) AppendConversionEvent(ctx context.Context, event entities.ConversionEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return r.logError("experimentation_repo_append_conversion_marshal_failed", err,
			"experiment_id", event.ExperimentID,
			"subject_id", event.SubjectID,
		)
	}
	row := conversionEventModel{
		ID:           strings.TrimSpace(event.EventID),
		ExperimentID: strings.TrimSpace(event.ExperimentID),
		SubjectID:    strings.TrimSpace(event.SubjectID),
		EventName:    strings.TrimSpace(event.EventName),
		Value:        event.Value,
		Metadata:     metadata,
		OccurredAt:   event.OccurredAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrConflict
		}
		return r.logError("experimentation_repo_append_conversion_failed", err,
			"experiment_id", row.ExperimentID,
			"subject_id", row.SubjectID,
			"event_name", row.EventName,
		)
	}
	return nil
}

func (r *Repository) GetEventLog(ctx context.Context, experimentID string, subjectID string) (entities.EventLog, error) {
	var rows []conversionEventModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ? AND subject_id = ?", strings.TrimSpace(experimentID), strings.TrimSpace(subjectID)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_get_event_log_failed", err,
			"experiment_id", strings.TrimSpace(experimentID),
			"subject_id", strings.TrimSpace(subjectID),
		)
	}
	events := make([]entities.ConversionEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEntity())
	}
	return entities.BuildEventLog(events), nil
}

func (r *Repository) InsertResultSnapshots(ctx context.Context, snapshots []entities.ResultSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([]resultSnapshotModel, 0, len(snapshots))
	for _, snapshot := range snapshots {
		rows = append(rows, resultSnapshotModelFromEntity(snapshot))
	}
	if err := r.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return r.logError("experimentation_repo_insert_result_snapshots_failed", err,
			"experiment_id", rows[0].ExperimentID,
			"snapshot_count", len(rows),
		)
	}
	return nil
}

func (r *Repository) ListResultSnapshots(ctx context.Context, experimentID string) ([]entities.ResultSnapshot, error) {
	var rows []resultSnapshotModel
	if err := r.db.WithContext(ctx).
		Where("experiment_id = ?", strings.TrimSpace(experimentID)).
		Order("recorded_at ASC").
		Order("variant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_result_snapshots_failed", err,
			"experiment_id", strings.TrimSpace(experimentID),
		)
	}
	items := make([]entities.ResultSnapshot, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) Get(ctx context.Context, key string, now time.Time) (ports.IdempotencyRecord, bool, error) {
	var row idempotencyModel
	err := r.db.WithContext(ctx).
		Where("key = ?", strings.TrimSpace(key)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.IdempotencyRecord{}, false, nil
		}
		return ports.IdempotencyRecord{}, false, r.logError("experimentation_repo_idempotency_get_failed", err,
			"idempotency_key", strings.TrimSpace(key),
		)
	}
	if !row.ExpiresAt.IsZero() && !row.ExpiresAt.UTC().After(now.UTC()) {
		if err := r.db.WithContext(ctx).
			Where("key = ?", strings.TrimSpace(key)).
			Delete(&idempotencyModel{}).Error; err != nil {
			return ports.IdempotencyRecord{}, false, r.logError("experimentation_repo_idempotency_expire_delete_failed", err,
				"idempotency_key", strings.TrimSpace(key),
			)
		}
		return ports.IdempotencyRecord{}, false, nil
	}
	return ports.IdempotencyRecord{
		Key:          row.Key,
		RequestHash:  row.RequestHash,
		ExperimentID: row.ExperimentID,
		ExpiresAt:    row.ExpiresAt.UTC(),
	}, true, nil
}

func (r *Repository) Put(ctx context.Context, record ports.IdempotencyRecord) error {
	row := idempotencyModel{
		Key:          strings.TrimSpace(record.Key),
		RequestHash:  strings.TrimSpace(record.RequestHash),
		ExperimentID: strings.TrimSpace(record.ExperimentID),
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("experimentation_repo_idempotency_put_failed", create.Error, "idempotency_key", row.Key)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing idempotencyModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return r.logError("experimentation_repo_idempotency_load_existing_failed", err, "idempotency_key", row.Key)
	}
	if existing.RequestHash != row.RequestHash || existing.ExperimentID != row.ExperimentID {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

// reserveIdempotencyTx claims the key for this request. When the key is held
// by a live record it returns that record and reserved=false; an expired
// record is taken over.
func reserveIdempotencyTx(tx *gorm.DB, record ports.IdempotencyRecord, now time.Time) (idempotencyModel, bool, error) {
	row := idempotencyModel{
		Key:          strings.TrimSpace(record.Key),
		RequestHash:  strings.TrimSpace(record.RequestHash),
		ExperimentID: strings.TrimSpace(record.ExperimentID),
		ExpiresAt:    record.ExpiresAt.UTC(),
	}
	create := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return idempotencyModel{}, false, create.Error
	}
	if create.RowsAffected > 0 {
		return row, true, nil
	}

	var existing idempotencyModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return idempotencyModel{}, false, err
	}
	if existing.ExpiresAt.IsZero() || existing.ExpiresAt.UTC().After(now.UTC()) {
		return existing, false, nil
	}
	if err := tx.Model(&idempotencyModel{}).
		Where("key = ?", row.Key).
		Updates(map[string]any{
			"request_hash":  row.RequestHash,
			"experiment_id": row.ExperimentID,
			"expires_at":    row.ExpiresAt,
		}).Error; err != nil {
		return idempotencyModel{}, false, err
	}
	return row, true, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	row, err := outboxModelFromEnvelope(envelope)
	if err != nil {
		return r.logError("experimentation_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("experimentation_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("experimentation_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !jsonEqual(existing.Payload, row.Payload) {
		return domainerrors.ErrConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outbox.StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("experimentation_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outbox.StatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("experimentation_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConflict
	}
	return nil
}

func outboxModelFromEnvelope(envelope ports.EventEnvelope) (outboxModel, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return outboxModel{}, err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outbox.StatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row, nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", application.ModuleName,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("experimentation repository operation failed", fields...)
	return err
}

func isDomainError(err error) bool {
	return errors.Is(err, domainerrors.ErrExperimentNotFound) ||
		errors.Is(err, domainerrors.ErrExperimentNotEditable) ||
		errors.Is(err, domainerrors.ErrControlAlreadyExists) ||
		errors.Is(err, domainerrors.ErrIdempotencyConflict) ||
		errors.Is(err, domainerrors.ErrConflict)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// jsonEqual compares payloads semantically; jsonb does not keep key order.
func jsonEqual(left []byte, right []byte) bool {
	if bytes.Equal(left, right) {
		return true
	}
	var a, b any
	if json.Unmarshal(left, &a) != nil || json.Unmarshal(right, &b) != nil {
		return false
	}
	normalizedLeft, _ := json.Marshal(a)
	normalizedRight, _ := json.Marshal(b)
	return bytes.Equal(normalizedLeft, normalizedRight)
}

var _ ports.ExperimentRepository = (*Repository)(nil)
var _ ports.AssignmentRepository = (*Repository)(nil)
var _ ports.EventLogRepository = (*Repository)(nil)
var _ ports.ResultSnapshotRepository = (*Repository)(nil)
var _ ports.IdempotencyStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.LifecycleWriter = (*Repository)(nil)
