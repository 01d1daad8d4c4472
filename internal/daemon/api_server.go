package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"docflow/internal/api"
	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/preflight"
	"docflow/internal/queue"
	"docflow/internal/services"
	"docflow/internal/stage"
)

// maxWebhookBody bounds callback payloads; output file lists are small.
const maxWebhookBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	jobs   *api.JobService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
		jobs:   api.NewJobService(d.store),
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.WebhookSecret),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(webhookSecret string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/documents/{id}/pipeline", s.handlePipeline)
	mux.HandleFunc("POST /api/documents/{id}/stages/{stage}", s.handleTriggerStage)
	mux.HandleFunc("POST /webhooks/stage", webhookAuthMiddleware(webhookSecret, s.handleStageWebhook))
	mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		DatabaseDriver: status.DatabaseDriver,
		LockFilePath:   status.LockFilePath,
		Workflow:       api.FromStatusSummary(status.Workflow),
		Checks:         checkStatuses(status.Checks),
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := api.ParseJobFilter(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []api.Job{}
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Items: items})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	item, err := s.jobs.Describe(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Item: *item})
}

func (s *apiServer) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.daemon.workflow.RetryJob(r.Context(), id)
	if err != nil {
		if job != nil && !errors.Is(err, queue.ErrActiveJobExists) {
			// The job exists but is not in a retryable state.
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Item: api.FromJob(job)})
}

func (s *apiServer) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.daemon.workflow.CancelJob(r.Context(), id, r.URL.Query().Get("reason"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.CancelResponse{Cancelled: cancelled})
}

func (s *apiServer) handlePipeline(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.workflow.PipelineStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromPipelineStatus(status))
}

func (s *apiServer) handleTriggerStage(w http.ResponseWriter, r *http.Request) {
	st, ok := stage.Parse(r.PathValue("stage"))
	if !ok || st == stage.Source {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", r.PathValue("stage")))
		return
	}
	job, created, err := s.daemon.workflow.TriggerStage(r.Context(), r.PathValue("id"), st)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.writeJSON(w, code, api.TriggerResponse{Item: api.FromJob(job), Created: created})
}

func (s *apiServer) handleStageWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := services.WithRequestID(r.Context(), uuid.NewString())
	r = r.WithContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	cb, err := api.DecodeStageCallback(r.URL.Query(), body)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ctx = services.WithJobID(ctx, cb.JobID)
	r = r.WithContext(ctx)
	outcome, err := s.daemon.workflow.HandleStageCallback(ctx, cb)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.WithContext(ctx, s.log()).Debug("stage callback handled",
		logging.String("outcome", outcome),
		logging.String("event", cb.Event),
	)
	s.writeJSON(w, http.StatusOK, api.WebhookResponse{Outcome: outcome})
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.daemon.store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *apiServer) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}

func checkStatuses(results []preflight.Result) []api.CheckStatus {
	out := make([]api.CheckStatus, 0, len(results))
	for _, r := range results {
		out = append(out, api.CheckStatus{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
	}
	return out
}

// statusCode maps service error markers to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound), errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrActiveJobExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.log()), "api request failed", "api_request_failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	} else {
		logging.WithContext(r.Context(), s.log()).Debug("api request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", code),
			logging.Error(err),
		)
	}
	s.writeError(w, code, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
