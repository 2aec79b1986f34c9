package entities

import (
	"encoding/json"
	"time"
)

type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusActive    ExperimentStatus = "active"
	ExperimentStatusPaused    ExperimentStatus = "paused"
	ExperimentStatusCompleted ExperimentStatus = "completed"
	ExperimentStatusCancelled ExperimentStatus = "cancelled"
)

func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentStatusDraft,
		ExperimentStatusActive,
		ExperimentStatusPaused,
		ExperimentStatusCompleted,
		ExperimentStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (s ExperimentStatus) IsTerminal() bool {
	return s == ExperimentStatusCompleted || s == ExperimentStatusCancelled
}

// CanTransitionTo encodes the experiment state machine:
// draft -> active|cancelled, active -> paused|completed|cancelled,
// paused -> active|completed|cancelled.
func (s ExperimentStatus) CanTransitionTo(next ExperimentStatus) bool {
	switch s {
	case ExperimentStatusDraft:
		return next == ExperimentStatusActive || next == ExperimentStatusCancelled
	case ExperimentStatusActive:
		return next == ExperimentStatusPaused ||
			next == ExperimentStatusCompleted ||
			next == ExperimentStatusCancelled
	case ExperimentStatusPaused:
		return next == ExperimentStatusActive ||
			next == ExperimentStatusCompleted ||
			next == ExperimentStatusCancelled
	default:
		return false
	}
}

type Experiment struct {
	ExperimentID     string
	Name             string
	Description      string
	Hypothesis       string
	TargetMetric     string
	SuccessThreshold float64
	MinSampleSize    int
	Status           ExperimentStatus
	StartDate        time.Time
	EndDate          time.Time
	WinningVariantID string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Expired reports whether the experiment end date is at or before now.
func (e Experiment) Expired(now time.Time) bool {
	return !e.EndDate.IsZero() && !now.Before(e.EndDate)
}

type Variant struct {
	VariantID         string
	ExperimentID      string
	Name              string
	Description       string
	Config            json.RawMessage
	TrafficPercentage float64
	IsControl         bool
	CreatedAt         time.Time
}

type Assignment struct {
	ExperimentID string
	SubjectID    string
	VariantID    string
	AssignedAt   time.Time
	Events       EventLog
}

// ConversionEvent is one append-only entry in a subject's per-experiment log.
type ConversionEvent struct {
	EventID      string
	ExperimentID string
	SubjectID    string
	EventName    string
	Value        float64
	Metadata     map[string]any
	OccurredAt   time.Time
}

type EventEntry struct {
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventLog maps an event name to its entries in recording order.
type EventLog map[string][]EventEntry

// BuildEventLog folds append-only events into the per-name view, preserving
// the order events were supplied in.
func BuildEventLog(events []ConversionEvent) EventLog {
	log := make(EventLog)
	for _, event := range events {
		log[event.EventName] = append(log[event.EventName], EventEntry{
			Value:     event.Value,
			Timestamp: event.OccurredAt,
			Metadata:  event.Metadata,
		})
	}
	return log
}
