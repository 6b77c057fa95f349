package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/pipeline"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// Runner executes one generation request
type Runner interface {
	Run(ctx context.Context, req *types.GenerationRequest, cancel pipeline.CancellationSource) (*types.GenerationResult, error)
}

// PoolOptions configures a worker pool
type PoolOptions struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	JobRetention time.Duration
	// ClaimTimeout bounds one blocking claim so workers notice shutdown
	ClaimTimeout time.Duration
	// Housekeeping is the interval for promoting retries, pruning and heartbeats
	Housekeeping time.Duration
}

func (o *PoolOptions) setDefaults() {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 5 * time.Second
	}
	if o.JobRetention <= 0 {
		o.JobRetention = time.Hour
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = 2 * time.Second
	}
	if o.Housekeeping <= 0 {
		o.Housekeeping = 5 * time.Second
	}
}

// HeartbeatStaleAfter is how long a silent pool still counts as active
const HeartbeatStaleAfter = 30 * time.Second

// Pool runs queued jobs on a fixed number of goroutines
type Pool struct {
	id       string
	queue    *RedisQueue
	runner   Runner
	registry *cancellation.Registry
	opts     PoolOptions
	log      *zap.Logger
}

func NewPool(q *RedisQueue, runner Runner, registry *cancellation.Registry, opts PoolOptions, log *zap.Logger) *Pool {
	opts.setDefaults()
	id := "pool-" + uuid.NewString()
	return &Pool{
		id:       id,
		queue:    q,
		runner:   runner,
		registry: registry,
		opts:     opts,
		log:      log.With(zap.String("pool_id", id)),
	}
}

// Run blocks until ctx is done and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info("starting worker pool", zap.Int("workers", p.opts.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.work(ctx, p.log.With(zap.Int("worker", n)))
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.housekeep(ctx)
	}()

	wg.Wait()
	if err := p.queue.Leave(context.WithoutCancel(ctx), p.id); err != nil {
		p.log.Warn("failed to remove heartbeat", zap.Error(err))
	}
	p.log.Info("worker pool stopped")
}

func (p *Pool) work(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		job, err := p.queue.Claim(ctx, p.opts.ClaimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		p.process(ctx, job, log.With(zap.String("job_id", job.ID)))
	}
}

// process runs one claimed job and records its outcome. Only external
// service failures are retried.
func (p *Pool) process(ctx context.Context, job *Job, log *zap.Logger) {
	rctx := context.WithoutCancel(ctx)

	if job.Cancelled || job.Request == nil {
		reason := "generation was cancelled"
		if job.Request == nil {
			reason = "job payload missing"
		}
		if err := p.queue.Cancel(rctx, job.ID, reason); err != nil {
			log.Error("failed to record skipped job", zap.Error(err))
		}
		return
	}

	req := *job.Request
	req.Mode = types.ModeQueued
	req.Attempt = job.Attempts
	req.MaxAttempts = p.opts.MaxAttempts
	p.registry.Register(job.ID)

	log.Info("processing job", zap.Int("attempt", job.Attempts))
	flag := jobFlag{queue: p.queue, log: log}
	result, err := p.runner.Run(ctx, &req, pipeline.AnyOf(pipeline.RegistrySource(p.registry), flag))

	switch {
	case err == nil:
		err = p.queue.Complete(rctx, job.ID, result)
	case apperrors.IsCancelled(err):
		err = p.queue.Cancel(rctx, job.ID, apperrors.UserMessage(err))
	case req.RetryPending(err):
		delay := p.backoff(job.Attempts)
		log.Warn("job failed, scheduling retry", zap.Duration("delay", delay), zap.Error(err))
		err = p.queue.Retry(rctx, job.ID, apperrors.UserMessage(err), time.Now().Add(delay))
	default:
		err = p.queue.Fail(rctx, job.ID, apperrors.UserMessage(err))
	}
	if err != nil {
		log.Error("failed to record job outcome", zap.Error(err))
	}
}

// backoff doubles the base delay for each attempt already made
func (p *Pool) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return p.opts.RetryBackoff << (attempts - 1)
}

// jobFlag reads the cancelled flag other processes set on the job record
// and marks the record finalizing when the run commits.
type jobFlag struct {
	queue *RedisQueue
	log   *zap.Logger
}

func (f jobFlag) IsCancelled(ctx context.Context, requestID string) bool {
	cancelled, err := f.queue.IsCancelled(context.WithoutCancel(ctx), requestID)
	if err != nil {
		f.log.Warn("cancel flag check failed", zap.Error(err))
		return false
	}
	return cancelled
}

func (f jobFlag) Finalize(ctx context.Context, requestID string) bool {
	ok, err := f.queue.MarkFinalizing(context.WithoutCancel(ctx), requestID)
	if err != nil {
		f.log.Warn("finalize flag write failed", zap.Error(err))
		return true
	}
	return ok
}

func (p *Pool) housekeep(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Housekeeping)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	if err := p.queue.Heartbeat(ctx, p.id); err != nil {
		p.log.Warn("heartbeat failed", zap.Error(err))
	}
	if n, err := p.queue.PromoteDue(ctx); err != nil {
		p.log.Warn("promoting delayed jobs failed", zap.Error(err))
	} else if n > 0 {
		p.log.Debug("promoted delayed jobs", zap.Int("count", n))
	}
	if n, err := p.queue.Prune(ctx, p.opts.JobRetention); err != nil {
		p.log.Warn("pruning finished jobs failed", zap.Error(err))
	} else if n > 0 {
		p.log.Debug("pruned finished jobs", zap.Int("count", n))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

