package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/dunamismax/flagbooth/internal/pipeline"
	"github.com/dunamismax/flagbooth/internal/queue"
	"github.com/dunamismax/flagbooth/internal/storage"
	"github.com/dunamismax/flagbooth/internal/store"
	"github.com/dunamismax/flagbooth/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestRecordStatsWritesRenderStat(t *testing.T) {
	stats := &captureStatsStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		statsStore: stats,
		metrics:    newMetrics(),
	}

	s.recordStats(context.Background(), queue.RenderPayload{
		JobID:    "job-1",
		Location: "west-end",
		Format:   "portrait",
	}, pipeline.Result{
		SourceBytes: 1_000,
		Outputs: []pipeline.Output{
			{Width: 10, Height: 10, Bytes: 300},
			{Width: 20, Height: 20, Bytes: 400},
		},
	}, 250*time.Millisecond)

	if !stats.called {
		t.Fatal("expected render stat to be written")
	}
	if stats.stat.Location != "west-end" || stats.stat.Format != "portrait" {
		t.Fatalf("unexpected stat labels: %+v", stats.stat)
	}
	if stats.stat.PixelsRendered != 500 {
		t.Fatalf("expected pixels_rendered=500, got %d", stats.stat.PixelsRendered)
	}
	if stats.stat.OutputBytes != 700 {
		t.Fatalf("expected output_bytes=700, got %d", stats.stat.OutputBytes)
	}
	if stats.stat.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", stats.stat.ComputeTimeMS)
	}
}

func TestRecordStatsClampsComputeTime(t *testing.T) {
	stats := &captureStatsStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		statsStore: stats,
		metrics:    newMetrics(),
	}

	s.recordStats(context.Background(), queue.RenderPayload{JobID: "job-2"}, pipeline.Result{}, 0)

	if stats.stat.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", stats.stat.ComputeTimeMS)
	}
}

func TestHandleRenderResolvesKnockoutPairing(t *testing.T) {
	catalog, err := location.NewCatalog(location.PhaseKnockoutR16, []location.Override{
		{LocationID: "west-end", Phase: location.PhaseKnockoutR16, Country: "Brazil", Tagline: "Samba on the Westside"},
	})
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-ko")

	proc := &captureProcessor{result: pipeline.Result{Outputs: []pipeline.Output{
		{Kind: domain.OutputFull, Format: "jpeg", Path: "renders/job-ko/full.jpg", Bytes: 10, Width: 1080, Height: 1350, Success: true},
		{Kind: domain.OutputThumbnail, Format: "jpeg", Path: "renders/job-ko/thumb.jpg", Bytes: 5, Width: 480, Height: 600, Success: true},
	}}}
	hooks := &captureWebhooks{}
	s := newTestServer(catalog, jobs, proc, hooks)

	task := renderTask(t, queue.RenderPayload{
		JobID:      "job-ko",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-ko/source",
		Location:   "west-end",
		Format:     "portrait",
		WebhookURL: "https://example.test/hook",
	})
	if err := s.handleRender(context.Background(), task); err != nil {
		t.Fatalf("handle render: %v", err)
	}

	if proc.req.Location.Country != "Brazil" || !proc.req.Location.Knockout {
		t.Fatalf("expected knockout pairing, got %+v", proc.req.Location)
	}

	job, _, _ := jobs.Get(context.Background(), "job-ko")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if len(job.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(job.Outputs))
	}
	if len(jobs.Stats()) != 1 {
		t.Fatalf("expected one render stat, got %d", len(jobs.Stats()))
	}
	if len(hooks.events) != 1 || hooks.events[0] != "render.completed" {
		t.Fatalf("unexpected webhook events %v", hooks.events)
	}
}

func TestHandleRenderUnknownLocationSkipsRetry(t *testing.T) {
	catalog, _ := location.NewCatalog(location.PhaseGroupStage, nil)
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-missing")
	hooks := &captureWebhooks{}
	s := newTestServer(catalog, jobs, &captureProcessor{}, hooks)

	err := s.handleRender(context.Background(), renderTask(t, queue.RenderPayload{
		JobID:      "job-missing",
		SourceType: domain.SourceTypeS3Presigned,
		Location:   "nowhere",
		Format:     "square",
		WebhookURL: "https://example.test/hook",
	}))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-missing")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", job)
	}
	if len(hooks.events) != 1 || hooks.events[0] != "render.failed" {
		t.Fatalf("unexpected webhook events %v", hooks.events)
	}
}

func TestHandleRenderRetriesTransientFailures(t *testing.T) {
	catalog, _ := location.NewCatalog(location.PhaseGroupStage, nil)
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-flaky")
	s := newTestServer(catalog, jobs, &captureProcessor{err: errors.New("connection reset")}, nil)

	err := s.handleRender(context.Background(), renderTask(t, queue.RenderPayload{
		JobID:      "job-flaky",
		SourceType: domain.SourceTypeS3Presigned,
		Location:   "piedmont-park",
		Format:     "story",
	}))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestHandleRenderKeepsJobOpenUntilFinalAttempt(t *testing.T) {
	catalog, _ := location.NewCatalog(location.PhaseGroupStage, nil)
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-retry")
	hooks := &captureWebhooks{}
	s := newTestServer(catalog, jobs, &captureProcessor{err: errors.New("connection reset")}, hooks)
	final := false
	s.finalAttempt = func(context.Context) bool { return final }

	task := renderTask(t, queue.RenderPayload{
		JobID:      "job-retry",
		SourceType: domain.SourceTypeS3Presigned,
		Location:   "piedmont-park",
		Format:     "square",
		WebhookURL: "https://example.test/hook",
	})

	if err := s.handleRender(context.Background(), task); err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	job, _, _ := jobs.Get(context.Background(), "job-retry")
	if job.Status != domain.JobStatusQueued || job.Error != "" {
		t.Fatalf("expected job to stay queued between attempts, got %+v", job)
	}
	if len(hooks.events) != 0 {
		t.Fatalf("expected no webhook before the final attempt, got %v", hooks.events)
	}

	final = true
	if err := s.handleRender(context.Background(), task); err == nil {
		t.Fatal("expected error on final attempt")
	}
	job, _, _ = jobs.Get(context.Background(), "job-retry")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job after final attempt, got %+v", job)
	}
	if len(hooks.events) != 1 || hooks.events[0] != "render.failed" {
		t.Fatalf("unexpected webhook events %v", hooks.events)
	}
}

func TestHandleRenderWebhookFailureDoesNotRetry(t *testing.T) {
	catalog, _ := location.NewCatalog(location.PhaseGroupStage, nil)
	jobs := store.NewMemoryJobStore()
	seedJob(t, jobs, "job-hook")
	proc := &captureProcessor{result: pipeline.Result{Outputs: []pipeline.Output{
		{Kind: domain.OutputFull, Format: "jpeg", Path: "renders/job-hook/full.jpg", Bytes: 10, Width: 1080, Height: 1080, Success: true},
	}}}
	hooks := &captureWebhooks{err: errors.New("receiver unavailable")}
	s := newTestServer(catalog, jobs, proc, hooks)

	err := s.handleRender(context.Background(), renderTask(t, queue.RenderPayload{
		JobID:      "job-hook",
		SourceType: domain.SourceTypeS3Presigned,
		Location:   "piedmont-park",
		Format:     "square",
		WebhookURL: "https://example.test/hook",
	}))
	if err != nil {
		t.Fatalf("expected stored render to complete despite webhook error, got %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-hook")
	if job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s", job.Status)
	}
	if len(jobs.Stats()) != 1 {
		t.Fatalf("expected one render stat, got %d", len(jobs.Stats()))
	}
	if len(hooks.events) != 1 || hooks.events[0] != "render.completed" {
		t.Fatalf("unexpected webhook events %v", hooks.events)
	}
}

func TestLastRetryWithoutTaskContext(t *testing.T) {
	if !lastRetry(context.Background()) {
		t.Fatal("expected a plain context to count as the final attempt")
	}
}

func newTestServer(catalog *location.Catalog, jobs *store.MemoryJobStore, proc processor, hooks *captureWebhooks) *Server {
	s := &Server{
		logger:          log.New(io.Discard, "", 0),
		sem:             make(chan struct{}, 1),
		catalog:         catalog,
		localProcessor:  proc,
		objectProcessor: proc,
		jobStore:        jobs,
		statsStore:      jobs,
		metrics:         newMetrics(),
		tracer:          noop.NewTracerProvider().Tracer("test"),
	}
	if hooks != nil {
		s.webhookClient = hooks
	}
	return s
}

func seedJob(t *testing.T, jobs *store.MemoryJobStore, id string) {
	t.Helper()
	now := time.Now().UTC()
	if err := jobs.Create(context.Background(), domain.RenderJob{
		ID:        id,
		Status:    domain.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func renderTask(t *testing.T, payload queue.RenderPayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewRenderTask(payload)
	if err != nil {
		t.Fatalf("new render task: %v", err)
	}
	return task
}

type captureProcessor struct {
	req    pipeline.Request
	result pipeline.Result
	err    error
}

func (p *captureProcessor) Process(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	p.req = req
	return p.result, p.err
}

type captureWebhooks struct {
	events []string
	err    error
}

func (w *captureWebhooks) Deliver(_ context.Context, _ string, ev webhook.Event) error {
	w.events = append(w.events, ev.Type)
	return w.err
}

type captureStatsStore struct {
	called bool
	stat   domain.RenderStat
}

func (s *captureStatsStore) CreateRenderStat(_ context.Context, stat domain.RenderStat) error {
	s.called = true
	s.stat = stat
	return nil
}

func TestPermanentFailures(t *testing.T) {
	if !permanent(fmt.Errorf("fetch source: %w", storage.ErrObjectTooLarge)) {
		t.Fatal("expected oversized source to be permanent")
	}
	if !permanent(pipeline.ErrUndecodablePhoto) {
		t.Fatal("expected undecodable photo to be permanent")
	}
	if permanent(errors.New("connection reset")) {
		t.Fatal("expected transport errors to be retried")
	}
}
