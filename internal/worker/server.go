package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/dunamismax/flagbooth/internal/pipeline"
	"github.com/dunamismax/flagbooth/internal/queue"
	"github.com/dunamismax/flagbooth/internal/storage"
	"github.com/dunamismax/flagbooth/internal/store"
	"github.com/dunamismax/flagbooth/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	catalog         *location.Catalog
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	statsStore      store.StatsStore
	metrics         *metrics
	tracer          trace.Tracer

	// finalAttempt reports whether a failed task will not be retried again.
	finalAttempt func(context.Context) bool
}

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Deliver(ctx context.Context, endpoint string, ev webhook.Event) error
}

type Options struct {
	Queue      config.QueueConfig
	Worker     config.WorkerConfig
	Catalog    *location.Catalog
	Frames     pipeline.FrameSource
	Storage    pipeline.ObjectReadWriter
	Webhooks   *webhook.Client
	JobStore   store.JobStore
	StatsStore store.StatsStore
}

func NewServer(logger *log.Logger, opts Options) (*Server, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("location catalog is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(opts.Worker.LocalOutputDir, opts.Frames)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewProcessor(
		pipeline.ObjectStoreFetcher{Storage: opts.Storage},
		opts.Frames,
		pipeline.ObjectStoreEmitter{Storage: opts.Storage, OutputPrefix: "renders"},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	statsStore := opts.StatsStore
	if statsStore == nil {
		if jobAndStatsStore, ok := opts.JobStore.(store.StatsStore); ok {
			statsStore = jobAndStatsStore
		}
	}

	var sender webhookSender
	if opts.Webhooks != nil {
		sender = opts.Webhooks
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			opts.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: opts.Worker.Concurrency,
				Queues: map[string]int{
					opts.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, opts.Worker.MaxActiveJobs)),
		catalog:         opts.Catalog,
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   sender,
		jobStore:        opts.JobStore,
		statsStore:      statsStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("flagbooth/worker"),
		finalAttempt:    lastRetry,
	}
	return s, nil
}

// Run processes renders until the process receives SIGINT or SIGTERM.
func (s *Server) Run() error {
	return s.server.Run(s.mux())
}

// Start processes renders in the background until Shutdown is called.
func (s *Server) Start() error {
	return s.server.Start(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderComposite, s.handleRender)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRender(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseRenderPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.render_composite", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("render.location", payload.Location),
		attribute.String("render.format", payload.Format),
		attribute.Int("render.gestures", len(payload.Gestures)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Format, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Format, outcome).Inc()
	}()

	req, err := s.buildRequest(payload)
	if err != nil {
		s.fail(ctx, span, payload, err)
		return fmt.Errorf("resolve render: %v: %w", err, asynq.SkipRetry)
	}

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Rendering... job_id=%s location=%s format=%s source_type=%s object_key=%s",
		payload.JobID,
		req.Location.Slug,
		req.Format,
		payload.SourceType,
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, req)
	default:
		result, err = s.objectProcessor.Process(ctx, req)
	}
	if err != nil {
		if permanent(err) {
			s.fail(ctx, span, payload, err)
			return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
		}
		if s.isFinalAttempt(ctx) {
			s.fail(ctx, span, payload, err)
			return fmt.Errorf("run pipeline: %w", err)
		}
		// The job stays open; only the attempt that gives up marks it failed.
		outcome = "retrying"
		span.RecordError(err)
		span.SetStatus(codes.Error, "render will be retried")
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		s.logger.Printf("render retrying job_id=%s err=%v", payload.JobID, err)
		return fmt.Errorf("run pipeline: %w", err)
	}

	outputs := renderOutputs(result.Outputs)
	s.logger.Printf("Rendered job_id=%s outputs=%d", payload.JobID, len(outputs))
	s.finishJob(ctx, payload.JobID, domain.JobStatusSucceeded, outputs, "")
	s.metrics.outputsTotal.Add(float64(len(outputs)))
	s.recordStats(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload.WebhookURL, webhook.Event{
		Type:     webhook.EventRenderCompleted,
		JobID:    payload.JobID,
		Location: req.Location.Slug,
		Country:  req.Location.Country,
		Format:   string(req.Format),
		Outputs:  outputs,
	}); err != nil {
		// The render is stored; a retry would only duplicate it.
		span.RecordError(err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "rendered")
	return nil
}

// buildRequest resolves the payload's location against the catalog so that
// knockout pairings apply at render time.
func (s *Server) buildRequest(payload queue.RenderPayload) (pipeline.Request, error) {
	f, err := frame.ParseFormat(payload.Format)
	if err != nil {
		return pipeline.Request{}, err
	}
	loc, err := s.catalog.Effective(payload.Location)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		JobID:        payload.JobID,
		SourceType:   payload.SourceType,
		ObjectKey:    payload.ObjectKey,
		Location:     loc,
		Format:       f,
		Transform:    payload.Transform,
		Gestures:     payload.Gestures,
		OutputFormat: payload.OutputFormat,
		Quality:      payload.Quality,
	}, nil
}

func (s *Server) isFinalAttempt(ctx context.Context) bool {
	if s.finalAttempt == nil {
		return lastRetry(ctx)
	}
	return s.finalAttempt(ctx)
}

// lastRetry reads the retry budget asynq attaches to the task context. A
// context without one is treated as a single attempt.
func lastRetry(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) fail(ctx context.Context, span trace.Span, payload queue.RenderPayload, err error) {
	s.finishJob(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
	span.RecordError(err)
	span.SetStatus(codes.Error, "render failed")
	_ = s.dispatchWebhook(ctx, payload.WebhookURL, webhook.Event{
		Type:     webhook.EventRenderFailed,
		JobID:    payload.JobID,
		Location: payload.Location,
		Format:   payload.Format,
		Error:    err.Error(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) finishJob(ctx context.Context, jobID, status string, outputs []domain.RenderOutput, failure string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Finish(ctx, jobID, status, outputs, failure); err != nil {
		s.logger.Printf("job finish failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, endpoint string, ev webhook.Event) error {
	if endpoint == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Deliver(ctx, endpoint, ev); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", ev.JobID, ev.Type, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordStats(ctx context.Context, payload queue.RenderPayload, result pipeline.Result, computeDuration time.Duration) {
	var (
		pixelsRendered int64
		outputBytes    int64
	)
	for _, output := range result.Outputs {
		pixelsRendered += int64(output.Width * output.Height)
		outputBytes += int64(output.Bytes)
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	s.metrics.pixelsRenderedTotal.Add(float64(pixelsRendered))
	s.metrics.outputBytesTotal.Add(float64(outputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.statsStore == nil {
		return
	}

	stat := domain.RenderStat{
		JobID:          payload.JobID,
		Location:       payload.Location,
		Format:         payload.Format,
		PixelsRendered: pixelsRendered,
		OutputBytes:    outputBytes,
		ComputeTimeMS:  computeTimeMS,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.statsStore.CreateRenderStat(ctx, stat); err != nil {
		s.logger.Printf("render stat write failed job_id=%s err=%v", payload.JobID, err)
	}
}

// permanent reports pipeline failures that a retry would repeat.
func permanent(err error) bool {
	return errors.Is(err, pipeline.ErrUndecodablePhoto) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, storage.ErrObjectTooLarge)
}

func renderOutputs(in []pipeline.Output) []domain.RenderOutput {
	out := make([]domain.RenderOutput, 0, len(in))
	for _, o := range in {
		if !o.Success {
			continue
		}
		out = append(out, domain.RenderOutput{
			Kind:   o.Kind,
			Format: o.Format,
			Path:   o.Path,
			Bytes:  o.Bytes,
			Width:  o.Width,
			Height: o.Height,
		})
	}
	return out
}
