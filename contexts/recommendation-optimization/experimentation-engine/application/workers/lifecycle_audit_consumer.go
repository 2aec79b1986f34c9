package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	application "aegis/contexts/recommendation-optimization/experimentation-engine/application"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
)

const (
	defaultAuditConsumerGroup = "experimentation-lifecycle-audit-cg"
	experimentCompletedTopic  = "experiment.completed"
)

// LifecycleTopics are the event types the lifecycle use case writes to the
// outbox.
var LifecycleTopics = []string{
	"experiment.created",
	"experiment.started",
	"experiment.paused",
	"experiment.resumed",
	"experiment.cancelled",
	experimentCompletedTopic,
}

// LifecycleAuditConsumer turns relayed lifecycle events into the audit trail
// and checks that every completion arrived with its result snapshots.
type LifecycleAuditConsumer struct {
	Subscriber    ports.EventSubscriber
	Snapshots     ports.ResultSnapshotRepository
	ConsumerGroup string
	Logger        *slog.Logger
}

type lifecycleEventPayload struct {
	ExperimentID     string `json:"experiment_id"`
	Status           string `json:"status"`
	FromStatus       string `json:"from_status"`
	WinningVariantID string `json:"winning_variant_id"`
	ResultStatus     string `json:"result_status"`
}

func (c LifecycleAuditConsumer) Start(ctx context.Context) error {
	group := c.ConsumerGroup
	if group == "" {
		group = defaultAuditConsumerGroup
	}
	for _, topic := range LifecycleTopics {
		if err := c.Subscriber.Subscribe(ctx, topic, group, c.Handle); err != nil {
			return err
		}
	}
	return nil
}

func (c LifecycleAuditConsumer) Handle(ctx context.Context, event ports.EventEnvelope) error {
	logger := application.ResolveLogger(c.Logger)

	var payload lifecycleEventPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		application.LifecycleEventsConsumedTotal.WithLabelValues(event.EventType, "invalid").Inc()
		return fmt.Errorf("decode lifecycle event payload: %w", err)
	}
	if payload.ExperimentID == "" {
		application.LifecycleEventsConsumedTotal.WithLabelValues(event.EventType, "invalid").Inc()
		return fmt.Errorf("lifecycle event %s missing experiment_id", event.EventID)
	}

	snapshotCount := 0
	if event.EventType == experimentCompletedTopic && c.Snapshots != nil {
		snapshots, err := c.Snapshots.ListResultSnapshots(ctx, payload.ExperimentID)
		if err != nil {
			application.LifecycleEventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
			return err
		}
		snapshotCount = len(snapshots)
		if snapshotCount == 0 {
			application.LifecycleEventsConsumedTotal.WithLabelValues(event.EventType, "missing_snapshots").Inc()
			logger.Error("completed experiment has no result snapshots",
				"event", "experimentation_audit_missing_snapshots",
				"module", application.ModuleName,
				"layer", "worker",
				"event_id", event.EventID,
				"experiment_id", payload.ExperimentID,
			)
			return fmt.Errorf("experiment %s completed without result snapshots", payload.ExperimentID)
		}
	}

	application.LifecycleEventsConsumedTotal.WithLabelValues(event.EventType, "recorded").Inc()
	logger.Info("experiment lifecycle event recorded",
		"event", "experimentation_audit_lifecycle_event",
		"module", application.ModuleName,
		"layer", "worker",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"occurred_at", event.OccurredAt,
		"experiment_id", payload.ExperimentID,
		"status", payload.Status,
		"from_status", payload.FromStatus,
		"winning_variant_id", payload.WinningVariantID,
		"result_status", payload.ResultStatus,
		"snapshot_count", snapshotCount,
	)
	return nil
}
