package commands

import (
	"time"

	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
	"aegis/internal/shared/events"
)

const SourceService = "experimentation-engine"

func newExperimentEnvelope(
	eventID string,
	eventType string,
	experimentID string,
	occurredAt time.Time,
	data map[string]any,
) (ports.EventEnvelope, error) {
	// Lifecycle events are partitioned by experiment so consumers see status
	// changes in order.
	return events.NewEnvelope(eventID, eventType, SourceService, "experiment_id", experimentID, occurredAt, data)
}
