package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	experimentationengine "aegis/contexts/recommendation-optimization/experimentation-engine"
	httptransport "aegis/contexts/recommendation-optimization/experimentation-engine/transport/http"
)

func newTestServer() *Server {
	return New(experimentationengine.NewInMemoryModule(nil, nil), nil, ":0")
}

func doJSON(t *testing.T, server *Server, method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body failed: %v body=%s", err, rr.Body.String())
	}
	return out
}

func createExperiment(t *testing.T, server *Server, body string) httptransport.ExperimentResponse {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/v1/experiments", body, map[string]string{"X-User-Id": "user-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	return decodeBody[httptransport.ExperimentResponse](t, rr)
}

func addVariant(t *testing.T, server *Server, experimentID string, body string) httptransport.VariantResponse {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/v1/experiments/"+experimentID+"/variants", body, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	return decodeBody[httptransport.VariantResponse](t, rr)
}

func TestCreateExperimentRequiresUser(t *testing.T) {
	server := newTestServer()
	rr := doJSON(t, server, http.MethodPost, "/v1/experiments", `{"name":"checkout","target_metric":"purchase"}`, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestCreateExperimentRejectsInvalidPayloads(t *testing.T) {
	server := newTestServer()
	headers := map[string]string{"X-User-Id": "user-1"}

	rr := doJSON(t, server, http.MethodPost, "/v1/experiments", `{"name":`, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", rr.Code)
	}
	rr = doJSON(t, server, http.MethodPost, "/v1/experiments", `{"name":"checkout"}`, headers)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing target metric, got %d", rr.Code)
	}
	if decodeBody[httptransport.ErrorResponse](t, rr).Code != "invalid_request" {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}
}

func TestCreateExperimentIdempotencyReplayAndConflict(t *testing.T) {
	server := newTestServer()
	headers := map[string]string{"X-User-Id": "user-1", "Idempotency-Key": "idem-1"}
	body := `{"name":"checkout","target_metric":"purchase","success_threshold":5,"min_sample_size":10}`

	first := doJSON(t, server, http.MethodPost, "/v1/experiments", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", first.Code, first.Body.String())
	}
	replay := doJSON(t, server, http.MethodPost, "/v1/experiments", body, headers)
	if replay.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d body=%s", replay.Code, replay.Body.String())
	}
	firstBody := decodeBody[httptransport.ExperimentResponse](t, first)
	replayBody := decodeBody[httptransport.ExperimentResponse](t, replay)
	if firstBody.ExperimentID != replayBody.ExperimentID || !replayBody.Replayed {
		t.Fatalf("expected replayed experiment %s, got %+v", firstBody.ExperimentID, replayBody)
	}

	conflict := doJSON(t, server, http.MethodPost, "/v1/experiments", `{"name":"other","target_metric":"purchase"}`, headers)
	if conflict.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", conflict.Code, conflict.Body.String())
	}
}

func TestGetExperimentNotFound(t *testing.T) {
	server := newTestServer()
	rr := doJSON(t, server, http.MethodGet, "/v1/experiments/missing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestListExperimentsRejectsUnknownStatus(t *testing.T) {
	server := newTestServer()
	rr := doJSON(t, server, http.MethodGet, "/v1/experiments?status=archived", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestSecondControlVariantConflicts(t *testing.T) {
	server := newTestServer()
	experiment := createExperiment(t, server, `{"name":"checkout","target_metric":"purchase"}`)
	addVariant(t, server, experiment.ExperimentID, `{"name":"control","traffic_percentage":50,"is_control":true}`)

	rr := doJSON(t, server, http.MethodPost, "/v1/experiments/"+experiment.ExperimentID+"/variants",
		`{"name":"control-2","traffic_percentage":50,"is_control":true}`, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeBody[httptransport.ErrorResponse](t, rr).Code != "control_already_exists" {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}
}

func TestStartRefusalReportsReason(t *testing.T) {
	server := newTestServer()
	experiment := createExperiment(t, server, `{"name":"checkout","target_metric":"purchase"}`)
	addVariant(t, server, experiment.ExperimentID, `{"name":"control","traffic_percentage":100,"is_control":true}`)

	rr := doJSON(t, server, http.MethodPost, "/v1/experiments/"+experiment.ExperimentID+"/start", "", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[httptransport.TransitionResponse](t, rr)
	if resp.Applied || resp.Reason != "insufficient_variants" {
		t.Fatalf("unexpected transition response %+v", resp)
	}
}

func TestAssignOnDraftExperimentIsNotAssigned(t *testing.T) {
	server := newTestServer()
	experiment := createExperiment(t, server, `{"name":"checkout","target_metric":"purchase"}`)

	rr := doJSON(t, server, http.MethodPost, "/v1/experiments/"+experiment.ExperimentID+"/assignments", `{"subject_id":"user-9"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[httptransport.AssignResponse](t, rr)
	if resp.Assigned || resp.Reason != "experiment_not_active" {
		t.Fatalf("unexpected assign response %+v", resp)
	}
}

func TestExperimentFlowEndToEnd(t *testing.T) {
	server := newTestServer()
	experiment := createExperiment(t, server,
		`{"name":"checkout","target_metric":"purchase","success_threshold":5,"min_sample_size":1,"duration_days":7}`)
	if experiment.Status != "draft" {
		t.Fatalf("expected draft experiment, got %s", experiment.Status)
	}
	base := "/v1/experiments/" + experiment.ExperimentID

	control := addVariant(t, server, experiment.ExperimentID, `{"name":"control","traffic_percentage":50,"is_control":true}`)
	treatment := addVariant(t, server, experiment.ExperimentID, `{"name":"treatment","traffic_percentage":50,"config":{"color":"green"}}`)

	rr := doJSON(t, server, http.MethodGet, base+"/variants", "", nil)
	variants := decodeBody[httptransport.ListVariantsResponse](t, rr)
	if len(variants.Items) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants.Items))
	}

	rr = doJSON(t, server, http.MethodPost, base+"/start", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on start, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/v1/experiments?status=active", "", nil)
	active := decodeBody[httptransport.ListExperimentsResponse](t, rr)
	if len(active.Items) != 1 || active.Items[0].ExperimentID != experiment.ExperimentID {
		t.Fatalf("expected the started experiment in active list, got %+v", active.Items)
	}

	seen := map[string]int{}
	for i := 0; i < 40; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		rr = doJSON(t, server, http.MethodPost, base+"/assignments", `{"subject_id":"`+subject+`"}`, nil)
		assign := decodeBody[httptransport.AssignResponse](t, rr)
		if !assign.Assigned {
			t.Fatalf("expected assignment for %s, got %+v", subject, assign)
		}
		if assign.VariantID != control.VariantID && assign.VariantID != treatment.VariantID {
			t.Fatalf("unexpected variant %s", assign.VariantID)
		}
		seen[assign.VariantID]++

		again := decodeBody[httptransport.AssignResponse](t, doJSON(t, server, http.MethodPost, base+"/assignments", `{"subject_id":"`+subject+`"}`, nil))
		if again.VariantID != assign.VariantID || again.Created {
			t.Fatalf("expected sticky assignment for %s, got %+v", subject, again)
		}

		rr = doJSON(t, server, http.MethodPost, base+"/conversions",
			`{"subject_id":"`+subject+`","event_name":"purchase","value":10}`, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201 on conversion, got %d body=%s", rr.Code, rr.Body.String())
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected both variants to receive subjects, got %v", seen)
	}

	rr = doJSON(t, server, http.MethodPost, base+"/conversions", `{"subject_id":"stranger","event_name":"purchase"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for unassigned conversion, got %d", rr.Code)
	}
	if decodeBody[httptransport.ConversionResponse](t, rr).Reason != "not_assigned" {
		t.Fatalf("unexpected conversion refusal %s", rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, base+"/results", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on results, got %d body=%s", rr.Code, rr.Body.String())
	}
	results := decodeBody[httptransport.ResultsResponse](t, rr)
	if len(results.Variants) != 2 {
		t.Fatalf("expected two variant results, got %d", len(results.Variants))
	}
	// Every subject converted with value 10, so both sides have zero variance.
	if results.Status != "inconclusive" {
		t.Fatalf("expected inconclusive status, got %s", results.Status)
	}
	for _, variant := range results.Variants {
		if variant.Metrics.ConversionRate != 100 || variant.Metrics.AverageValue != 10 {
			t.Fatalf("unexpected metrics for %s: %+v", variant.VariantID, variant.Metrics)
		}
	}

	rr = doJSON(t, server, http.MethodPost, base+"/complete", `{"winning_variant_id":"`+treatment.VariantID+`"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on complete, got %d body=%s", rr.Code, rr.Body.String())
	}
	completed := decodeBody[httptransport.TransitionResponse](t, rr)
	if completed.Experiment.Status != "completed" || completed.Experiment.WinningVariantID != treatment.VariantID {
		t.Fatalf("unexpected completed experiment %+v", completed.Experiment)
	}

	rr = doJSON(t, server, http.MethodGet, base+"/snapshots", "", nil)
	snapshots := decodeBody[httptransport.ListSnapshotsResponse](t, rr)
	if len(snapshots.Items) != 2 {
		t.Fatalf("expected one snapshot per variant, got %d", len(snapshots.Items))
	}

	rr = doJSON(t, server, http.MethodPost, base+"/assignments", `{"subject_id":"late-subject"}`, nil)
	if decodeBody[httptransport.AssignResponse](t, rr).Assigned {
		t.Fatalf("expected no new assignment after completion")
	}

	rr = doJSON(t, server, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "experimentation_assignments_total") {
		t.Fatalf("expected assignment counter in metrics output")
	}
}

func TestPauseResumeCancelRoutes(t *testing.T) {
	server := newTestServer()
	experiment := createExperiment(t, server, `{"name":"checkout","target_metric":"purchase"}`)
	base := "/v1/experiments/" + experiment.ExperimentID
	addVariant(t, server, experiment.ExperimentID, `{"name":"control","traffic_percentage":50,"is_control":true}`)
	addVariant(t, server, experiment.ExperimentID, `{"name":"treatment","traffic_percentage":50}`)

	rr := doJSON(t, server, http.MethodPost, base+"/resume", "", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 resuming a draft, got %d", rr.Code)
	}
	for _, step := range []string{"start", "pause", "resume", "cancel"} {
		rr = doJSON(t, server, http.MethodPost, base+"/"+step, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200 on %s, got %d body=%s", step, rr.Code, rr.Body.String())
		}
	}
	rr = doJSON(t, server, http.MethodGet, base, "", nil)
	if decodeBody[httptransport.ExperimentResponse](t, rr).Status != "cancelled" {
		t.Fatalf("expected cancelled experiment, got %s", rr.Body.String())
	}
}

func TestSwaggerDocIsServed(t *testing.T) {
	server := newTestServer()
	rr := doJSON(t, server, http.MethodGet, "/swagger/doc.json", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "/v1/experiments") {
		t.Fatalf("expected experiment routes in swagger doc")
	}
}
