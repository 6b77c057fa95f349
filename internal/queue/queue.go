// Package queue is a Redis-backed job queue for generation requests.
//
// Layout under the key prefix:
//
//	job:{id}   hash with state, payload, cancelled and finalizing flags,
//	           result and timestamps
//	waiting    list of ids ready to run, consumed from the right
//	active     list of ids claimed by a worker
//	delayed    zset of ids waiting for a retry, scored by due time
//	completed, failed, cancelled
//	           zsets of finished ids, scored by finish time
//	workers    zset of worker pools, scored by last heartbeat
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

// DefaultPrefix namespaces every queue key
const DefaultPrefix = "genqueue:"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
)

// State is the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the job has finished
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is one queued generation request
type Job struct {
	ID           string
	State        State
	Request      *types.GenerationRequest
	Cancelled    bool
	Finalizing   bool
	Result       *types.GenerationResult
	FailedReason string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RedisQueue stores jobs in Redis
type RedisQueue struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger
	now    func() time.Time
}

func NewRedisQueue(client redis.UniversalClient, log *zap.Logger) *RedisQueue {
	return &RedisQueue{client: client, prefix: DefaultPrefix, log: log, now: time.Now}
}

// WithPrefix returns a queue using a different key namespace
func (q *RedisQueue) WithPrefix(prefix string) *RedisQueue {
	c := *q
	c.prefix = prefix
	return &c
}

func (q *RedisQueue) jobKey(id string) string { return q.prefix + "job:" + id }
func (q *RedisQueue) key(name string) string  { return q.prefix + name }

func (q *RedisQueue) stamp() string {
	return strconv.FormatInt(q.now().UnixMilli(), 10)
}

// Enqueue stores the request as a waiting job keyed by its request id.
func (q *RedisQueue) Enqueue(ctx context.Context, req *types.GenerationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	key := q.jobKey(req.RequestID)
	created, err := q.client.HSetNX(ctx, key, "state", string(StateWaiting)).Result()
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", req.RequestID, err)
	}
	if !created {
		return ErrJobExists
	}

	now := q.stamp()
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"payload", payload,
			"cancelled", "0",
			"attempts", 0,
			"created_at", now,
			"updated_at", now,
		)
		p.LPush(ctx, q.key("waiting"), req.RequestID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", req.RequestID, err)
	}
	return nil
}

// Get loads a job. Missing jobs return ErrJobNotFound.
func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(id, fields)
}

func decodeJob(id string, f map[string]string) (*Job, error) {
	job := &Job{
		ID:           id,
		State:        State(f["state"]),
		Cancelled:    f["cancelled"] == "1",
		Finalizing:   f["finalizing"] == "1",
		FailedReason: f["failed_reason"],
	}
	job.Attempts, _ = strconv.Atoi(f["attempts"])
	job.CreatedAt = fromMillis(f["created_at"])
	job.UpdatedAt = fromMillis(f["updated_at"])

	if raw := f["payload"]; raw != "" {
		var req types.GenerationRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			return nil, fmt.Errorf("failed to decode job payload %s: %w", id, err)
		}
		job.Request = &req
	}
	if raw := f["result"]; raw != "" {
		var res types.GenerationResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("failed to decode job result %s: %w", id, err)
		}
		job.Result = &res
	}
	return job, nil
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// IsCancelled reads only the cancelled flag of a job
func (q *RedisQueue) IsCancelled(ctx context.Context, id string) (bool, error) {
	v, err := q.client.HGet(ctx, q.jobKey(id), "cancelled").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag for %s: %w", id, err)
	}
	return v == "1", nil
}

// markCancelledScript sets the flag only on jobs that exist, have not
// finished and are not finalizing, so the hash is never recreated after
// pruning.
var markCancelledScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state == 'completed' or state == 'failed' or state == 'cancelled' then return 0 end
if redis.call('HGET', KEYS[1], 'finalizing') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'cancelled', '1', 'updated_at', ARGV[1])
return 1
`)

// MarkCancelled sets the cancelled flag of an unfinished job. It reports
// false for finished or finalizing jobs and ErrJobNotFound for unknown ones.
func (q *RedisQueue) MarkCancelled(ctx context.Context, id string) (bool, error) {
	n, err := markCancelledScript.Run(ctx, q.client, []string{q.jobKey(id)}, q.stamp()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	if n < 0 {
		return false, ErrJobNotFound
	}
	return n == 1, nil
}

var finalizeScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if redis.call('HGET', KEYS[1], 'cancelled') == '1' then return 0 end
redis.call('HSET', KEYS[1], 'finalizing', '1', 'updated_at', ARGV[1])
return 1
`)

// MarkFinalizing records that the run for id is past its last checkpoint.
// It reports false when the job was cancelled first.
func (q *RedisQueue) MarkFinalizing(ctx context.Context, id string) (bool, error) {
	n, err := finalizeScript.Run(ctx, q.client, []string{q.jobKey(id)}, q.stamp()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	if n < 0 {
		return false, ErrJobNotFound
	}
	return n == 1, nil
}

var removePendingScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'waiting' then
  if redis.call('LREM', KEYS[2], 0, ARGV[1]) == 0 then return 0 end
elseif state == 'delayed' then
  if redis.call('ZREM', KEYS[3], ARGV[1]) == 0 then return 0 end
else
  return 0
end
redis.call('HSET', KEYS[1], 'state', 'cancelled', 'cancelled', '1', 'updated_at', ARGV[2])
redis.call('ZADD', KEYS[4], ARGV[2], ARGV[1])
return 1
`)

// RemoveIfPending cancels a job that no worker has claimed yet and reports
// whether it did.
func (q *RedisQueue) RemoveIfPending(ctx context.Context, id string) (bool, error) {
	keys := []string{q.jobKey(id), q.key("waiting"), q.key("delayed"), q.key("cancelled")}
	n, err := removePendingScript.Run(ctx, q.client, keys, id, q.stamp()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove pending job %s: %w", id, err)
	}
	return n == 1, nil
}

// Claim blocks up to timeout for a waiting job and marks it active. It
// returns nil when nothing arrived or the claimed id has no record.
func (q *RedisQueue) Claim(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.key("waiting"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	key := q.jobKey(id)
	exists, err := q.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if exists == 0 {
		q.log.Warn("claimed job without record, dropping", zap.String("job_id", id))
		q.client.LRem(ctx, q.key("active"), 0, id)
		return nil, nil
	}

	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "state", string(StateActive), "updated_at", q.stamp())
		p.HIncrBy(ctx, key, "attempts", 1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate job %s: %w", id, err)
	}
	return q.Get(ctx, id)
}

// finish moves an active job into a finished set
func (q *RedisQueue) finish(ctx context.Context, id string, state State, fields ...interface{}) error {
	now := q.stamp()
	args := append([]interface{}{"state", string(state), "updated_at", now}, fields...)
	score, _ := strconv.ParseFloat(now, 64)
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), args...)
		p.LRem(ctx, q.key("active"), 0, id)
		p.ZAdd(ctx, q.key(string(state)), redis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s %s: %w", id, state, err)
	}
	return nil
}

// Complete records the result of a finished job
func (q *RedisQueue) Complete(ctx context.Context, id string, result *types.GenerationResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}
	return q.finish(ctx, id, StateCompleted, "result", raw)
}

// Fail records a job that will not be retried
func (q *RedisQueue) Fail(ctx context.Context, id, reason string) error {
	return q.finish(ctx, id, StateFailed, "failed_reason", reason)
}

// Cancel records a job that stopped on request
func (q *RedisQueue) Cancel(ctx context.Context, id, reason string) error {
	return q.finish(ctx, id, StateCancelled, "cancelled", "1", "failed_reason", reason)
}

// Retry parks an active job in the delayed set until at
func (q *RedisQueue) Retry(ctx context.Context, id, reason string, at time.Time) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.jobKey(id), "state", string(StateDelayed), "failed_reason", reason, "updated_at", q.stamp())
		p.HDel(ctx, q.jobKey(id), "finalizing")
		p.LRem(ctx, q.key("active"), 0, id)
		p.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(at.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", id, err)
	}
	return nil
}

var promoteScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[3], 'state', 'waiting', 'updated_at', ARGV[2])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// PromoteDue moves delayed jobs whose time has come back to waiting
func (q *RedisQueue) PromoteDue(ctx context.Context) (int, error) {
	now := q.now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	promoted := 0
	for _, id := range ids {
		keys := []string{q.key("delayed"), q.key("waiting"), q.jobKey(id)}
		n, err := promoteScript.Run(ctx, q.client, keys, id, q.stamp()).Int()
		if err != nil {
			return promoted, fmt.Errorf("failed to promote job %s: %w", id, err)
		}
		promoted += n
	}
	return promoted, nil
}

// Prune deletes finished jobs older than retention
func (q *RedisQueue) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := strconv.FormatInt(q.now().Add(-retention).UnixMilli(), 10)
	removed := 0
	for _, set := range []State{StateCompleted, StateFailed, StateCancelled} {
		ids, err := q.client.ZRangeByScore(ctx, q.key(string(set)), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to read %s jobs: %w", set, err)
		}
		if len(ids) == 0 {
			continue
		}
		keys := make([]string, len(ids))
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			keys[i] = q.jobKey(id)
			members[i] = id
		}
		_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, keys...)
			p.ZRem(ctx, q.key(string(set)), members...)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s jobs: %w", set, err)
		}
		removed += len(ids)
	}
	return removed, nil
}

// Counts returns the number of jobs per state
func (q *RedisQueue) Counts(ctx context.Context) (map[string]int64, error) {
	var waiting, active, delayed, completed, failed, cancelled *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		waiting = p.LLen(ctx, q.key("waiting"))
		active = p.LLen(ctx, q.key("active"))
		delayed = p.ZCard(ctx, q.key("delayed"))
		completed = p.ZCard(ctx, q.key("completed"))
		failed = p.ZCard(ctx, q.key("failed"))
		cancelled = p.ZCard(ctx, q.key("cancelled"))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return map[string]int64{
		string(StateWaiting):   waiting.Val(),
		string(StateActive):    active.Val(),
		string(StateDelayed):   delayed.Val(),
		string(StateCompleted): completed.Val(),
		string(StateFailed):    failed.Val(),
		string(StateCancelled): cancelled.Val(),
	}, nil
}

// Ping checks the connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Heartbeat records that the worker pool poolID is alive
func (q *RedisQueue) Heartbeat(ctx context.Context, poolID string) error {
	return q.client.ZAdd(ctx, q.key("workers"), redis.Z{Score: float64(q.now().UnixMilli()), Member: poolID}).Err()
}

// Leave removes a worker pool from the heartbeat set
func (q *RedisQueue) Leave(ctx context.Context, poolID string) error {
	return q.client.ZRem(ctx, q.key("workers"), poolID).Err()
}

// Active reports whether any worker pool sent a heartbeat within staleAfter
func (q *RedisQueue) Active(ctx context.Context, staleAfter time.Duration) (bool, error) {
	since := strconv.FormatInt(q.now().Add(-staleAfter).UnixMilli(), 10)
	n, err := q.client.ZCount(ctx, q.key("workers"), since, "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("failed to read worker heartbeats: %w", err)
	}
	return n > 0, nil
}
