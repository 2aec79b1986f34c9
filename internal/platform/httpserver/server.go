package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	experimentationengine "aegis/contexts/recommendation-optimization/experimentation-engine"
	domainerrors "aegis/contexts/recommendation-optimization/experimentation-engine/domain/errors"
	httptransport "aegis/contexts/recommendation-optimization/experimentation-engine/transport/http"
	_ "aegis/internal/platform/httpserver/docs"
)

const maxRequestBodyBytes = 1 << 20

type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	addr        string
	httpServer  *http.Server
	experiments experimentationengine.Module
}

func New(experiments experimentationengine.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:         http.NewServeMux(),
		logger:      logger,
		addr:        addr,
		experiments: experiments,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routed mux for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("POST /v1/experiments", s.handleCreateExperiment)
	s.mux.HandleFunc("GET /v1/experiments", s.handleListExperiments)
	s.mux.HandleFunc("GET /v1/experiments/{experiment_id}", s.handleGetExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/variants", s.handleAddVariant)
	s.mux.HandleFunc("GET /v1/experiments/{experiment_id}/variants", s.handleListVariants)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/start", s.handleStartExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/pause", s.handlePauseExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/resume", s.handleResumeExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/cancel", s.handleCancelExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/complete", s.handleCompleteExperiment)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/assignments", s.handleAssign)
	s.mux.HandleFunc("POST /v1/experiments/{experiment_id}/conversions", s.handleRecordConversion)
	s.mux.HandleFunc("GET /v1/experiments/{experiment_id}/results", s.handleResults)
	s.mux.HandleFunc("GET /v1/experiments/{experiment_id}/snapshots", s.handleListSnapshots)
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeExperimentationError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req httptransport.CreateExperimentRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.experiments.Handler.CreateExperimentHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	resp, err := s.experiments.Handler.ListExperimentsHandler(r.Context(), status)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	resp, err := s.experiments.Handler.GetExperimentHandler(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	var req httptransport.AddVariantRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.experiments.Handler.AddVariantHandler(r.Context(), r.PathValue("experiment_id"), req)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	resp, err := s.experiments.Handler.ListVariantsHandler(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartExperiment(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, s.experiments.Handler.StartExperimentHandler)
}

func (s *Server) handlePauseExperiment(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, s.experiments.Handler.PauseExperimentHandler)
}

func (s *Server) handleResumeExperiment(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, s.experiments.Handler.ResumeExperimentHandler)
}

func (s *Server) handleCancelExperiment(w http.ResponseWriter, r *http.Request) {
	s.writeTransition(w, r, s.experiments.Handler.CancelExperimentHandler)
}

func (s *Server) handleCompleteExperiment(w http.ResponseWriter, r *http.Request) {
	var req httptransport.CompleteExperimentRequest
	if !decodeRequest(w, r, &req, true) {
		return
	}
	if err := req.Validate(); err != nil {
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.experiments.Handler.CompleteExperimentHandler(r.Context(), r.PathValue("experiment_id"), req)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, transitionStatus(resp), resp)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req httptransport.AssignRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.experiments.Handler.AssignHandler(r.Context(), r.PathValue("experiment_id"), req)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordConversion(w http.ResponseWriter, r *http.Request) {
	var req httptransport.RecordConversionRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	if err := req.Validate(); err != nil {
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.experiments.Handler.RecordConversionHandler(r.Context(), r.PathValue("experiment_id"), req)
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if resp.Recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.experiments.Handler.ResultsHandler(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	resp, err := s.experiments.Handler.ListSnapshotsHandler(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeTransition(
	w http.ResponseWriter,
	r *http.Request,
	transition func(context.Context, string) (httptransport.TransitionResponse, error),
) {
	resp, err := transition(r.Context(), r.PathValue("experiment_id"))
	if err != nil {
		s.writeExperimentationDomainError(w, r, err)
		return
	}
	writeJSON(w, transitionStatus(resp), resp)
}

// transitionStatus reports refused transitions as 409 with the refusal reason
// in the body.
func transitionStatus(resp httptransport.TransitionResponse) int {
	if resp.Applied {
		return http.StatusOK
	}
	return http.StatusConflict
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeExperimentationError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}

func (s *Server) writeExperimentationDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrInvalidExperimentInput),
		errors.Is(err, domainerrors.ErrInvalidVariantInput),
		errors.Is(err, domainerrors.ErrInvalidAssignmentInput),
		errors.Is(err, domainerrors.ErrInvalidConversionInput):
		writeExperimentationError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domainerrors.ErrIdempotencyKeyRequired):
		writeExperimentationError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	case errors.Is(err, domainerrors.ErrExperimentNotFound):
		writeExperimentationError(w, http.StatusNotFound, "experiment_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrVariantNotFound):
		writeExperimentationError(w, http.StatusNotFound, "variant_not_found", err.Error())
	case errors.Is(err, domainerrors.ErrControlAlreadyExists):
		writeExperimentationError(w, http.StatusConflict, "control_already_exists", err.Error())
	case errors.Is(err, domainerrors.ErrExperimentNotEditable):
		writeExperimentationError(w, http.StatusConflict, "experiment_not_editable", err.Error())
	case errors.Is(err, domainerrors.ErrIdempotencyConflict):
		writeExperimentationError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domainerrors.ErrConflict):
		writeExperimentationError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error("experimentation request failed",
			"event", "http_experimentation_request_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err.Error(),
		)
		writeExperimentationError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeExperimentationError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, httptransport.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
