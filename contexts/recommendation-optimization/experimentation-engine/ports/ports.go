package ports

import (
	"context"
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/entities"
	"aegis/internal/shared/events"
	"aegis/internal/shared/outbox"
)

// StatusUpdate is a compare-and-set transition: it applies only while the
// stored status still equals From, otherwise the store returns ErrConflict.
type StatusUpdate struct {
	ExperimentID     string
	From             entities.ExperimentStatus
	To               entities.ExperimentStatus
	StartDate        *time.Time
	EndDate          *time.Time
	WinningVariantID *string
	UpdatedAt        time.Time
}

type ExperimentRepository interface {
	InsertExperiment(ctx context.Context, experiment entities.Experiment) error
	UpdateExperimentStatus(ctx context.Context, update StatusUpdate) error
	GetExperiment(ctx context.Context, experimentID string) (entities.Experiment, error)
	ListExperimentsByStatus(ctx context.Context, status entities.ExperimentStatus) ([]entities.Experiment, error)

	// InsertVariant rejects a second control variant with
	// ErrControlAlreadyExists and non-draft experiments with
	// ErrExperimentNotEditable.
	InsertVariant(ctx context.Context, variant entities.Variant) error
	ListVariants(ctx context.Context, experimentID string) ([]entities.Variant, error)
	SumVariantTraffic(ctx context.Context, experimentID string) (float64, error)
}

type AssignmentRepository interface {
	GetAssignment(ctx context.Context, experimentID string, subjectID string) (entities.Assignment, bool, error)
	// InsertAssignment is insert-or-fetch on (experiment id, subject id). It
	// returns the stored assignment and whether this call created it.
	InsertAssignment(ctx context.Context, assignment entities.Assignment) (entities.Assignment, bool, error)
	// ListAssignmentsForVariant returns assignments with their event logs.
	ListAssignmentsForVariant(ctx context.Context, experimentID string, variantID string) ([]entities.Assignment, error)
}

// EventLogRepository stores conversions one row per event so concurrent
// appends to the same subject never overwrite each other.
type EventLogRepository interface {
	AppendConversionEvent(ctx context.Context, event entities.ConversionEvent) error
	GetEventLog(ctx context.Context, experimentID string, subjectID string) (entities.EventLog, error)
}

type ResultSnapshotRepository interface {
	InsertResultSnapshots(ctx context.Context, snapshots []entities.ResultSnapshot) error
	ListResultSnapshots(ctx context.Context, experimentID string) ([]entities.ResultSnapshot, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ExperimentID string
	ExpiresAt    time.Time
}

type IdempotencyStore interface {
	Get(ctx context.Context, key string, now time.Time) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, record IdempotencyRecord) error
}

type EventEnvelope = events.Envelope

type OutboxMessage = outbox.Message

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

// LifecycleWriter commits a lifecycle state change and its outbox event as
// one unit: either every row lands or none does.
type LifecycleWriter interface {
	// CreateExperimentWithOutbox reserves the idempotency key, when given,
	// before inserting. A live key with the same request hash returns the
	// stored experiment and replayed=true without writing anything; a
	// different hash returns ErrIdempotencyConflict.
	CreateExperimentWithOutbox(
		ctx context.Context,
		experiment entities.Experiment,
		event EventEnvelope,
		idempotency *IdempotencyRecord,
	) (entities.Experiment, bool, error)
	TransitionWithOutbox(ctx context.Context, update StatusUpdate, event EventEnvelope) error
	CompleteWithSnapshots(
		ctx context.Context,
		update StatusUpdate,
		snapshots []entities.ResultSnapshot,
		event EventEnvelope,
	) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type EventSubscriber interface {
	Subscribe(
		ctx context.Context,
		topic string,
		consumerGroup string,
		handler func(context.Context, EventEnvelope) error,
	) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
