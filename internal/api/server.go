package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/id"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/dunamismax/flagbooth/internal/queue"
	"github.com/dunamismax/flagbooth/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger      *log.Logger
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	presignTTL  time.Duration
	catalog     *location.Catalog
	frames      frameSource
	rateLimiter RateLimiter
	userHeader  string
	metrics     *metrics
	tracer      trace.Tracer
	handler     http.Handler
}

type queueEnqueuer interface {
	EnqueueRender(ctx context.Context, payload queue.RenderPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type frameSource interface {
	Best(ctx context.Context, loc location.Location, f frame.Format) *image.NRGBA
}

type Options struct {
	Queue       queueEnqueuer
	JobStore    store.JobStore
	Storage     objectStorage
	PresignTTL  time.Duration
	Catalog     *location.Catalog
	Frames      frameSource
	RateLimiter RateLimiter
	// UserHeader identifies the caller for rate limiting.
	UserHeader string
	Tracer     trace.Tracer
}

func NewServer(logger *log.Logger, opts Options) *Server {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Frames == nil {
		opts.Frames = frame.NewProvider(nil, logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("flagbooth/api")
	}
	if strings.TrimSpace(opts.UserHeader) == "" {
		opts.UserHeader = "X-Kiosk-ID"
	}

	s := &Server{
		logger:      logger,
		queueClient: opts.Queue,
		jobStore:    opts.JobStore,
		storage:     opts.Storage,
		presignTTL:  opts.PresignTTL,
		catalog:     opts.Catalog,
		frames:      opts.Frames,
		rateLimiter: opts.RateLimiter,
		userHeader:  opts.UserHeader,
		metrics:     newMetrics(),
		tracer:      opts.Tracer,
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(mux)))
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.metricsHandler())
	mux.HandleFunc("POST /v1/renders", s.handleCreateRender)
	mux.HandleFunc("POST /v1/renders/{id}/start", s.handleStartRender)
	mux.HandleFunc("GET /v1/renders/{id}", s.handleGetRender)
	mux.HandleFunc("GET /v1/frames/{location}/{format}", s.handleFrame)
	mux.HandleFunc("GET /v1/locations", s.handleLocations)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRender(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRenderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	slug := strings.TrimSpace(req.Location)
	if _, err := s.catalog.Effective(slug); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	f, _ := frame.ParseFormat(req.Format)

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed job_id=%s err=%v", jobID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.RenderJob{
		ID:           jobID,
		Status:       domain.JobStatusCreated,
		SourceType:   sourceType,
		WebhookURL:   req.WebhookURL,
		ObjectKey:    objectKey,
		Location:     slug,
		Format:       string(f),
		Transform:    req.Transform,
		Gestures:     req.Gestures,
		OutputFormat: compose.NormalizeFormat(req.OutputFormat),
		Quality:      req.Quality,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create render failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create render"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"location": job.Location,
		"format":   job.Format,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/renders/%s/start", job.ID),
	})
}

func (s *Server) handleStartRender(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("render already %s", job.Status)})
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	payload := queue.RenderPayload{
		JobID:        job.ID,
		SourceType:   job.SourceType,
		WebhookURL:   job.WebhookURL,
		ObjectKey:    job.ObjectKey,
		Location:     job.Location,
		Format:       job.Format,
		Transform:    job.Transform,
		Gestures:     job.Gestures,
		OutputFormat: job.OutputFormat,
		Quality:      job.Quality,
		RequestedAt:  time.Now().UTC(),
	}

	// Queued is written before the task exists so a fast worker's terminal
	// status is never overwritten.
	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to queue render"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueRender(r.Context(), payload)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "render already queued"})
		return
	}
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, err := s.jobStore.UpdateStatus(context.WithoutCancel(r.Context()), job.ID, domain.JobStatusCreated); err != nil {
			s.logger.Printf("status rollback failed job_id=%s err=%v", job.ID, err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue render"})
		return
	}
	s.metrics.rendersQueued.WithLabelValues(job.Format, s.catalog.Phase()).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetRender(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	body := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"location":   job.Location,
		"format":     job.Format,
		"outputs":    job.Outputs,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Outputs == nil {
		body["outputs"] = []domain.RenderOutput{}
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.RenderJob, bool) {
	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid render id"})
		return domain.RenderJob{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch render failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load render"})
		return domain.RenderJob{}, false
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "render not found"})
		return domain.RenderJob{}, false
	}
	return job, true
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, err := frame.ParseFormat(r.PathValue("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	loc, err := s.catalog.Effective(r.PathValue("location"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	overlay := s.frames.Best(r.Context(), loc, f)
	data, err := compose.EncodeBytes(overlay, "png", 0)
	if err != nil {
		s.logger.Printf("encode frame failed location=%s format=%s err=%v", loc.Slug, f, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode frame"})
		return
	}

	s.metrics.framesServed.WithLabelValues(string(f), pairingLabel(loc.Knockout)).Inc()
	s.metrics.frameBytes.WithLabelValues(string(f)).Observe(float64(len(data)))
	w.Header().Set("Content-Type", compose.ContentType("png"))
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":     s.catalog.Phase(),
		"total":     s.catalog.Total(),
		"knockout":  s.catalog.Knockout(),
		"locations": s.catalog.All(),
	})
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.RenderJob) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source photo is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source photo check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source photo check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source photo is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
