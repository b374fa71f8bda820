// Package render submits compositions to the remote render executor and
// tracks each job through submitted, polling, done and error.
package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/therealutkarshpriyadarshi/composer/internal/logging"
	"github.com/therealutkarshpriyadarshi/composer/internal/metrics"
	"github.com/therealutkarshpriyadarshi/composer/internal/tracing"
	"github.com/therealutkarshpriyadarshi/composer/internal/urlresolve"
	"github.com/therealutkarshpriyadarshi/composer/pkg/models"
)

// Progress bounds while a job is polling
const (
	MinProgress = 0.03
	MaxProgress = 0.99
)

// UnknownErrorMessage is reported when the executor fails without a message
const UnknownErrorMessage = "unknown error"

var (
	// ErrInvalidComposition is returned when a composition cannot be rendered
	ErrInvalidComposition = errors.New("invalid composition")
	// ErrSubmitRejected is returned when the executor refuses a job
	ErrSubmitRejected = errors.New("render submission rejected")
	// ErrInvalidHandle is returned for progress checks without a render id
	ErrInvalidHandle = errors.New("render id is required")
)

// Composition is everything the executor needs to render
type Composition struct {
	ID               string
	Overlays         []models.Overlay
	DurationInFrames int
	FPS              int
	Width            int
	Height           int
}

func (c Composition) validate() error {
	switch {
	case len(c.Overlays) == 0:
		return fmt.Errorf("%w: no overlays", ErrInvalidComposition)
	case c.DurationInFrames <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidComposition)
	case c.FPS <= 0:
		return fmt.Errorf("%w: fps must be positive", ErrInvalidComposition)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidComposition)
	}
	return nil
}

// Orchestrator drives render jobs. Polling is caller driven: each
// CheckProgress call performs at most one executor request.
type Orchestrator struct {
	executor Executor
	jobs     JobStore
	logger   *logging.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(executor Executor, jobs JobStore, logger *logging.Logger) *Orchestrator {
	if jobs == nil {
		jobs = NewMemoryJobStore(DefaultJobTTL)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		executor: executor,
		jobs:     jobs,
		logger:   logger,
		now:      time.Now,
	}
}

// Submit sends the composition to the executor with every media URL in origin
// form. On rejection the returned job is in the error state together with an
// error wrapping ErrSubmitRejected.
func (o *Orchestrator) Submit(ctx context.Context, comp Composition) (job *models.RenderJob, err error) {
	span, ctx := tracing.StartSpan(ctx, "render.submit")
	tracing.SetTag(span, "composition.id", comp.ID)
	defer func() { tracing.FinishSpan(span, err) }()

	if err := comp.validate(); err != nil {
		return nil, err
	}

	now := o.now()
	job = &models.RenderJob{
		CompositionID: comp.ID,
		State:         models.RenderStateSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	req := models.RenderRequest{
		CompositionID:    comp.ID,
		Overlays:         urlresolve.RewriteOverlayURLs(comp.Overlays, urlresolve.ToOrigin),
		DurationInFrames: comp.DurationInFrames,
		FPS:              comp.FPS,
		Width:            comp.Width,
		Height:           comp.Height,
	}

	handle, err := o.executor.Submit(ctx, req)
	metrics.RecordRenderSubmission(err)
	if err != nil {
		job.State = models.RenderStateError
		job.ErrorMessage = rejectionMessage(err)
		o.logger.WithCompositionID(comp.ID).WithError(err).Warn("Render submission rejected")
		return job, fmt.Errorf("%w: %w", ErrSubmitRejected, err)
	}

	job.RenderID = handle.RenderID
	job.BucketName = handle.BucketName
	job.State = models.RenderStatePolling
	job.Progress = MinProgress
	job.UpdatedAt = o.now()

	if err := o.jobs.Save(ctx, job); err != nil {
		return job, fmt.Errorf("failed to save render job: %w", err)
	}

	tracing.SetTag(span, "render.id", job.RenderID)
	o.logger.WithCompositionID(comp.ID).LogRenderProgress(job.RenderID, string(job.State), job.Progress)
	return job, nil
}

// Job returns a tracked job, nil when unknown
func (o *Orchestrator) Job(ctx context.Context, renderID string) (*models.RenderJob, error) {
	return o.jobs.Get(ctx, renderID)
}

// Discard drops a tracked job once its result has been handed out. Later
// checks for the same handle are adopted like any unknown handle.
func (o *Orchestrator) Discard(ctx context.Context, renderID string) error {
	if err := o.jobs.Delete(ctx, renderID); err != nil {
		return fmt.Errorf("failed to delete render job: %w", err)
	}
	return nil
}

// CheckProgress performs one progress check. Terminal jobs are answered from
// the job store without contacting the executor. Transport failures are
// reported as a transport_error response and leave the job polling.
func (o *Orchestrator) CheckProgress(ctx context.Context, handle models.RenderHandle) (resp models.ProgressResponse, err error) {
	if handle.RenderID == "" {
		return models.ProgressResponse{}, ErrInvalidHandle
	}

	span, ctx := tracing.StartSpan(ctx, "render.progress")
	tracing.SetTag(span, "render.id", handle.RenderID)
	defer func() { tracing.FinishSpan(span, err) }()

	job, err := o.jobs.Get(ctx, handle.RenderID)
	if err != nil {
		return models.ProgressResponse{}, fmt.Errorf("failed to load render job: %w", err)
	}
	if job == nil {
		// Jobs submitted before a restart are adopted from their handle
		now := o.now()
		job = &models.RenderJob{
			RenderID:   handle.RenderID,
			BucketName: handle.BucketName,
			State:      models.RenderStatePolling,
			Progress:   MinProgress,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if job.State.Terminal() {
		return terminalResponse(job), nil
	}

	logger := o.logger.WithRenderID(job.RenderID)

	report, err := o.executor.Progress(ctx, models.RenderHandle{RenderID: job.RenderID, BucketName: job.BucketName})
	if err != nil {
		metrics.RecordRenderPoll(string(models.ErrorKindTransport), false)
		logger.WithError(err).Warn("Render progress check failed")
		return models.ProgressResponse{
			Type:    models.ProgressTypeError,
			Kind:    models.ErrorKindTransport,
			Message: err.Error(),
		}, nil
	}

	apply(job, report)
	job.UpdatedAt = o.now()
	if err := o.jobs.Save(ctx, job); err != nil {
		return models.ProgressResponse{}, fmt.Errorf("failed to save render job: %w", err)
	}

	resp = responseFor(job)
	metrics.RecordRenderPoll(string(resp.Type), job.State.Terminal())
	if job.State == models.RenderStateDone {
		metrics.RecordRenderOutput(job.ResultSizeBytes)
	}
	logger.LogRenderProgress(job.RenderID, string(job.State), job.Progress)
	return resp, nil
}

// apply moves a polling job according to an executor report
func apply(job *models.RenderJob, report *ExecutorProgress) {
	switch {
	case report.FatalErrorEncountered:
		job.State = models.RenderStateError
		job.ErrorMessage = firstMessage(report.Errors)
	case report.Done:
		job.State = models.RenderStateDone
		job.Progress = 1
		job.ResultURL = report.OutputFile
		job.ResultSizeBytes = report.OutputSizeInBytes
	default:
		job.State = models.RenderStatePolling
		job.Progress = ClampProgress(report.OverallProgress)
	}
}

func responseFor(job *models.RenderJob) models.ProgressResponse {
	if job.State.Terminal() {
		return terminalResponse(job)
	}
	return models.ProgressResponse{Type: models.ProgressTypeProgress, Progress: job.Progress}
}

func terminalResponse(job *models.RenderJob) models.ProgressResponse {
	if job.State == models.RenderStateDone {
		return models.ProgressResponse{
			Type: models.ProgressTypeDone,
			URL:  job.ResultURL,
			Size: job.ResultSizeBytes,
		}
	}
	return models.ProgressResponse{
		Type:    models.ProgressTypeError,
		Kind:    models.ErrorKindExecutorFatal,
		Message: job.ErrorMessage,
	}
}

// ClampProgress bounds a polling fraction to [MinProgress, MaxProgress]
func ClampProgress(p float64) float64 {
	if p < MinProgress || math.IsNaN(p) {
		return MinProgress
	}
	if p > MaxProgress {
		return MaxProgress
	}
	return p
}

func firstMessage(errs []ExecutorMessage) string {
	for _, e := range errs {
		if e.Message != "" {
			return e.Message
		}
	}
	return UnknownErrorMessage
}

func rejectionMessage(err error) string {
	var execErr *ExecutorError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}
