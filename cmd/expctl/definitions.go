package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	httpadapter "aegis/contexts/recommendation-optimization/experimentation-engine/adapters/http"
	httptransport "aegis/contexts/recommendation-optimization/experimentation-engine/transport/http"
)

type definitionFile struct {
	Experiments []experimentDefinition `yaml:"experiments"`
}

type experimentDefinition struct {
	Name             string              `yaml:"name"`
	Description      string              `yaml:"description"`
	Hypothesis       string              `yaml:"hypothesis"`
	TargetMetric     string              `yaml:"target_metric"`
	SuccessThreshold float64             `yaml:"success_threshold"`
	MinSampleSize    int                 `yaml:"min_sample_size"`
	DurationDays     int                 `yaml:"duration_days"`
	Start            bool                `yaml:"start"`
	Variants         []variantDefinition `yaml:"variants"`
}

type variantDefinition struct {
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description"`
	TrafficPercentage float64        `yaml:"traffic_percentage"`
	IsControl         bool           `yaml:"is_control"`
	Config            map[string]any `yaml:"config"`
}

type applyOutcome struct {
	Name         string   `json:"name"`
	ExperimentID string   `json:"experiment_id,omitempty"`
	Replayed     bool     `json:"replayed,omitempty"`
	VariantIDs   []string `json:"variant_ids,omitempty"`
	Started      bool     `json:"started,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func loadDefinitions(r io.Reader) ([]experimentDefinition, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file definitionFile
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("definition file is empty")
		}
		return nil, fmt.Errorf("decode definition file: %w", err)
	}
	if len(file.Experiments) == 0 {
		return nil, errors.New("definition file declares no experiments")
	}
	return file.Experiments, nil
}

// applyDefinitions creates each experiment keyed by its name, so re-applying
// the same file replays the earlier creation and leaves variants untouched.
// One failing definition does not stop the rest; the errors are joined.
func applyDefinitions(
	ctx context.Context,
	handler httpadapter.Handler,
	userID string,
	definitions []experimentDefinition,
) ([]applyOutcome, error) {
	outcomes := make([]applyOutcome, 0, len(definitions))
	var errs []error
	for _, definition := range definitions {
		outcome, err := applyDefinition(ctx, handler, userID, definition)
		if err != nil {
			outcome.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", definition.Name, err))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, errors.Join(errs...)
}

func applyDefinition(
	ctx context.Context,
	handler httpadapter.Handler,
	userID string,
	definition experimentDefinition,
) (applyOutcome, error) {
	outcome := applyOutcome{Name: definition.Name}

	createReq := httptransport.CreateExperimentRequest{
		Name:             definition.Name,
		Description:      definition.Description,
		Hypothesis:       definition.Hypothesis,
		TargetMetric:     definition.TargetMetric,
		SuccessThreshold: definition.SuccessThreshold,
		MinSampleSize:    definition.MinSampleSize,
		DurationDays:     definition.DurationDays,
	}
	if err := createReq.Validate(); err != nil {
		return outcome, err
	}
	idempotencyKey := "expctl:" + strings.ToLower(strings.TrimSpace(definition.Name))
	experiment, err := handler.CreateExperimentHandler(ctx, userID, idempotencyKey, createReq)
	if err != nil {
		return outcome, err
	}
	outcome.ExperimentID = experiment.ExperimentID
	outcome.Replayed = experiment.Replayed
	if experiment.Replayed {
		return outcome, nil
	}

	for _, variant := range definition.Variants {
		variantReq := httptransport.AddVariantRequest{
			Name:              variant.Name,
			Description:       variant.Description,
			TrafficPercentage: variant.TrafficPercentage,
			IsControl:         variant.IsControl,
		}
		if len(variant.Config) > 0 {
			raw, err := json.Marshal(variant.Config)
			if err != nil {
				return outcome, fmt.Errorf("encode config for variant %s: %w", variant.Name, err)
			}
			variantReq.Config = raw
		}
		if err := variantReq.Validate(); err != nil {
			return outcome, err
		}
		created, err := handler.AddVariantHandler(ctx, experiment.ExperimentID, variantReq)
		if err != nil {
			return outcome, err
		}
		outcome.VariantIDs = append(outcome.VariantIDs, created.VariantID)
	}

	if !definition.Start {
		return outcome, nil
	}
	started, err := handler.StartExperimentHandler(ctx, experiment.ExperimentID)
	if err != nil {
		return outcome, err
	}
	outcome.Started = started.Applied
	outcome.Reason = started.Reason
	return outcome, nil
}
