// Package dispatch decides per request whether generation runs on the job
// queue or inline, and answers cancel and status lookups for either mode.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/metrics"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/pipeline"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/progress"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/queue"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Queue is the job queue as seen by the dispatcher
type Queue interface {
	Enqueue(ctx context.Context, req *types.GenerationRequest) error
	Get(ctx context.Context, id string) (*queue.Job, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
	RemoveIfPending(ctx context.Context, id string) (bool, error)
	Counts(ctx context.Context) (map[string]int64, error)
	Ping(ctx context.Context) error
	Active(ctx context.Context, staleAfter time.Duration) (bool, error)
}

// Runner executes one generation request inline
type Runner interface {
	Run(ctx context.Context, req *types.GenerationRequest, cancel pipeline.CancellationSource) (*types.GenerationResult, error)
}

// Submission is the immediate answer to a submit
type Submission struct {
	RequestID string
	Mode      types.Mode
	Status    types.Status
	// Result is set for synchronous runs that completed
	Result *types.GenerationResult
}

// CancelResult is the answer to a cancel request
type CancelResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Dispatcher routes requests between the queue and inline execution
type Dispatcher struct {
	queue       Queue
	runner      Runner
	registry    *cancellation.Registry
	cache       *progress.Cache
	metrics     *metrics.Metrics
	log         *zap.Logger
	pingTimeout time.Duration
	now         func() time.Time
}

// New builds a dispatcher. A nil q means no queue is configured and every
// request runs inline.
func New(q Queue, runner Runner, registry *cancellation.Registry, cache *progress.Cache, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:       q,
		runner:      runner,
		registry:    registry,
		cache:       cache,
		metrics:     m,
		log:         log,
		pingTimeout: time.Second,
		now:         time.Now,
	}
}

// QueueConfigured reports whether a job queue was wired in
func (d *Dispatcher) QueueConfigured() bool {
	return d.queue != nil
}

func (d *Dispatcher) queueReachable(ctx context.Context) bool {
	if d.queue == nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, d.pingTimeout)
	defer cancel()
	if err := d.queue.Ping(pctx); err != nil {
		d.log.Warn("job queue unreachable", zap.Error(err))
		return false
	}
	return true
}

// Submit enqueues req when the queue is reachable and otherwise runs it
// inline, returning the pipeline's error unchanged.
func (d *Dispatcher) Submit(ctx context.Context, req *types.GenerationRequest) (*Submission, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = d.now().UTC()
	}
	req.SubscriptionTier = types.NormalizeTier(req.SubscriptionTier)
	log := d.log.With(zap.String("request_id", req.RequestID))

	if d.queueReachable(ctx) {
		req.Mode = types.ModeQueued
		err := d.queue.Enqueue(ctx, req)
		if err == nil {
			log.Info("generation queued")
			return &Submission{RequestID: req.RequestID, Mode: types.ModeQueued, Status: types.StatusProcessing}, nil
		}
		if errors.Is(err, queue.ErrJobExists) {
			return nil, apperrors.NewValidationError("request id already submitted")
		}
		log.Warn("enqueue failed, running inline", zap.Error(err))
	}

	req.Mode = types.ModeSynchronous
	d.registry.Register(req.RequestID)
	log.Info("running generation inline")

	result, err := d.runner.Run(ctx, req, nil)
	if err != nil {
		return &Submission{RequestID: req.RequestID, Mode: types.ModeSynchronous, Status: statusOf(err)}, err
	}
	return &Submission{RequestID: req.RequestID, Mode: types.ModeSynchronous, Status: types.StatusCompleted, Result: result}, nil
}

func statusOf(err error) types.Status {
	if apperrors.IsCancelled(err) {
		return types.StatusCancelled
	}
	return types.StatusFailed
}

// Cancel asks the run for requestID to stop. Unknown ids return a
// not-found error.
func (d *Dispatcher) Cancel(ctx context.Context, requestID string) (*CancelResult, error) {
	log := d.log.With(zap.String("request_id", requestID))

	if d.queue != nil {
		job, err := d.queue.Get(ctx, requestID)
		switch {
		case err == nil:
			return d.cancelJob(ctx, job, log)
		case errors.Is(err, queue.ErrJobNotFound):
		default:
			log.Warn("job lookup failed during cancel", zap.Error(err))
		}
	}

	if d.registry.Cancel(requestID) {
		log.Info("cancellation requested for inline run")
		return &CancelResult{Success: true, Message: "cancellation requested"}, nil
	}
	if d.registry.Finalizing(requestID) {
		return finishing(), nil
	}

	return d.cancelResidual(ctx, requestID, log)
}

func (d *Dispatcher) cancelJob(ctx context.Context, job *queue.Job, log *zap.Logger) (*CancelResult, error) {
	switch job.State {
	case queue.StateCancelled:
		return &CancelResult{Success: true, Message: "generation already cancelled"}, nil
	case queue.StateCompleted, queue.StateFailed:
		return &CancelResult{Success: false, Message: "generation already finished"}, nil
	}
	if job.Finalizing {
		return finishing(), nil
	}

	if job.State == queue.StateWaiting || job.State == queue.StateDelayed {
		removed, err := d.queue.RemoveIfPending(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if removed {
			log.Info("removed pending job")
			return &CancelResult{Success: true, Message: "generation cancelled before it started"}, nil
		}
	}

	flagged, err := d.queue.MarkCancelled(ctx, job.ID)
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return d.cancelResidual(ctx, job.ID, log)
	case err != nil:
		return nil, err
	case !flagged:
		// the worker committed to finishing, or the job ended, since the lookup
		return finishing(), nil
	}
	d.registry.Cancel(job.ID)
	log.Info("cancellation flagged on active job")
	return &CancelResult{Success: true, Message: "cancellation requested"}, nil
}

func finishing() *CancelResult {
	return &CancelResult{Success: false, Message: "generation already finishing"}
}

// cancelResidual handles ids with no job and no live run. Leftover progress
// means the run ended before the cancel arrived.
func (d *Dispatcher) cancelResidual(ctx context.Context, requestID string, log *zap.Logger) (*CancelResult, error) {
	marker, err := d.cache.Terminal(ctx, requestID)
	if err != nil {
		log.Warn("terminal marker read failed", zap.Error(err))
	}
	if marker != nil {
		if marker.Status == types.StatusCancelled {
			return &CancelResult{Success: true, Message: "generation already cancelled"}, nil
		}
		return &CancelResult{Success: false, Message: "generation already finished"}, nil
	}

	snap, err := d.cache.ReadPartial(ctx, requestID)
	if err != nil {
		log.Warn("progress read failed", zap.Error(err))
	}
	if snap == nil {
		return nil, apperrors.NewNotFoundError(requestID)
	}

	if err := d.cache.Cleanup(ctx, requestID); err != nil {
		log.Warn("residual progress cleanup failed", zap.Error(err))
	}
	if err := d.cache.MarkTerminal(ctx, requestID, types.TerminalMarker{
		Status: types.StatusCancelled,
		Reason: "generation was cancelled",
	}); err != nil {
		log.Warn("terminal marker write failed", zap.Error(err))
	}
	log.Info("cleaned up residual progress on cancel")
	return &CancelResult{Success: true, Message: "generation already stopped, partial results cleaned up"}, nil
}

// Status reports the state of requestID. Lookups go job record first,
// then terminal marker, then live registry and cached progress.
func (d *Dispatcher) Status(ctx context.Context, requestID string) (*types.StatusReport, error) {
	log := d.log.With(zap.String("request_id", requestID))

	if d.queue != nil {
		job, err := d.queue.Get(ctx, requestID)
		switch {
		case err == nil:
			return d.jobStatus(ctx, job), nil
		case errors.Is(err, queue.ErrJobNotFound):
		default:
			log.Warn("job lookup failed during status", zap.Error(err))
		}
	}

	marker, err := d.cache.Terminal(ctx, requestID)
	if err != nil {
		log.Warn("terminal marker read failed", zap.Error(err))
	}
	if marker != nil {
		return markerStatus(requestID, marker), nil
	}

	snap, err := d.cache.ReadPartial(ctx, requestID)
	if err != nil {
		log.Warn("progress read failed", zap.Error(err))
	}
	live := d.registry.Known(requestID)

	switch {
	case snap != nil && !live && snap.Draft.LooksFinal():
		return &types.StatusReport{
			RequestID: requestID,
			Status:    types.StatusCompleted,
			Recipe:    snap.Draft,
			Progress:  intPtr(100),
		}, nil
	case snap != nil:
		return processing(requestID, "", snap), nil
	case live:
		return processing(requestID, "", nil), nil
	}
	return &types.StatusReport{RequestID: requestID, Status: types.StatusNotFound}, nil
}

func (d *Dispatcher) jobStatus(ctx context.Context, job *queue.Job) *types.StatusReport {
	switch job.State {
	case queue.StateCompleted:
		r := &types.StatusReport{RequestID: job.ID, Status: types.StatusCompleted, State: string(job.State), Progress: intPtr(100)}
		if job.Result != nil {
			r.Recipe = job.Result.Recipe
		}
		return r
	case queue.StateFailed:
		return &types.StatusReport{RequestID: job.ID, Status: types.StatusFailed, State: string(job.State), Reason: job.FailedReason}
	case queue.StateCancelled:
		return &types.StatusReport{RequestID: job.ID, Status: types.StatusCancelled, State: string(job.State)}
	}

	snap, err := d.cache.ReadPartial(ctx, job.ID)
	if err != nil {
		d.log.Warn("progress read failed", zap.String("request_id", job.ID), zap.Error(err))
	}
	return processing(job.ID, string(job.State), snap)
}

func processing(requestID, state string, snap *types.ProgressSnapshot) *types.StatusReport {
	r := &types.StatusReport{
		RequestID:          requestID,
		Status:             types.StatusProcessing,
		State:              state,
		PollingRecommended: true,
	}
	if snap != nil {
		r.Progress = intPtr(snap.ProgressPercent)
		r.PartialRecipe = snap.Draft
	}
	return r
}

func markerStatus(requestID string, m *types.TerminalMarker) *types.StatusReport {
	r := &types.StatusReport{RequestID: requestID, Status: m.Status, Reason: m.Reason}
	if m.Status == types.StatusCompleted {
		r.Recipe = m.Recipe
		r.Progress = intPtr(100)
	}
	return r
}

// Health describes the queue and whether clients should poll
func (d *Dispatcher) Health(ctx context.Context) types.QueueHealth {
	h := types.QueueHealth{QueueConfigured: d.queue != nil, Counts: map[string]int64{}}
	if !d.queueReachable(ctx) {
		return h
	}
	h.QueueConnected = true

	active, err := d.queue.Active(ctx, queue.HeartbeatStaleAfter)
	if err != nil {
		d.log.Warn("worker heartbeat read failed", zap.Error(err))
	}
	h.IsQueueActive = active

	counts, err := d.queue.Counts(ctx)
	if err != nil {
		d.log.Warn("job count failed", zap.Error(err))
	} else {
		h.Counts = counts
		d.metrics.SetQueueCounts(counts)
	}
	h.PollingRecommended = h.QueueConnected && h.IsQueueActive
	return h
}

func intPtr(v int) *int { return &v }
