package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"analysis-pipeline/internal/pipeline"
)

type Priority int

const (
	PriorityNormal Priority = iota
	PriorityRetry
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority Priority) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	Touch(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// LanesFor derives the normal and retry lane keys from the base keys.
func LanesFor(queueKey, processingKey string) (normal, retry Lane) {
	normal = Lane{QueueKey: queueKey + ":normal", ProcessingKey: processingKey + ":normal"}
	retry = Lane{QueueKey: queueKey + ":retry", ProcessingKey: processingKey + ":retry"}
	return normal, retry
}

// redisPriorityQueue is a reliable queue over Redis lists with two lanes.
// Claim: BRPOPLPUSH lane.queue -> lane.processing, retry lane first.
// The processing map remembers which processing list holds an id and when
// it was claimed, for Ack and the stale-claim reaper.
type redisPriorityQueue struct {
	rdb              *redis.Client
	processingMapKey string
	claimedAtKey     string

	normal Lane
	retry  Lane
}

func NewRedisPriorityQueue(rdb *redis.Client, processingMapKey string, normal, retry Lane) Queue {
	return &redisPriorityQueue{
		rdb:              rdb,
		processingMapKey: processingMapKey,
		claimedAtKey:     processingMapKey + ":claimed_at",
		normal:           normal,
		retry:            retry,
	}
}

func (q *redisPriorityQueue) lanes() []Lane {
	return []Lane{q.retry, q.normal}
}

func (q *redisPriorityQueue) laneFor(p Priority) Lane {
	if p == PriorityRetry {
		return q.retry
	}
	return q.normal
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, jobID string, priority Priority) error {
	return q.rdb.LPush(ctx, q.laneFor(priority).QueueKey, jobID).Err()
}

// ClaimBlocking polls the lanes in priority order with short blocking slots.
// A timeout <= 0 waits until ctx is done.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !forever && time.Now().After(deadline) {
			return "", redis.Nil
		}

		for _, ln := range q.lanes() {
			wait := slot
			if !forever {
				remain := time.Until(deadline)
				if remain <= 0 {
					return "", redis.Nil
				}
				if remain < wait {
					wait = remain
				}
			}

			id, err := q.rdb.BRPopLPush(ctx, ln.QueueKey, ln.ProcessingKey, wait).Result()
			if err == nil {
				pipe := q.rdb.TxPipeline()
				pipe.HSet(ctx, q.processingMapKey, id, ln.ProcessingKey)
				pipe.HSet(ctx, q.claimedAtKey, id, time.Now().Unix())
				if _, hErr := pipe.Exec(ctx); hErr != nil {
					return "", hErr
				}
				return id, nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", err
		}
	}
}

func (q *redisPriorityQueue) Ack(ctx context.Context, jobID string) error {
	processingKey, err := q.rdb.HGet(ctx, q.processingMapKey, jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			for _, ln := range q.lanes() {
				_ = q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err()
			}
			_ = q.rdb.HDel(ctx, q.claimedAtKey, jobID).Err()
			return nil
		}
		return err
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, q.processingMapKey, jobID)
	pipe.HDel(ctx, q.claimedAtKey, jobID)
	_, _ = pipe.Exec(ctx)
	return nil
}

// Touch refreshes the claim time of a job still in processing so the reaper
// leaves it alone. Unclaimed ids are ignored.
func (q *redisPriorityQueue) Touch(ctx context.Context, jobID string) error {
	claimed, err := q.rdb.HExists(ctx, q.processingMapKey, jobID).Result()
	if err != nil || !claimed {
		return err
	}
	return q.rdb.HSet(ctx, q.claimedAtKey, jobID, time.Now().Unix()).Err()
}

// RequeueStale moves claims older than olderThan from processing back to
// their queue. Delivery is at-least-once; ids without a claim time count as
// stale.
func (q *redisPriorityQueue) RequeueStale(ctx context.Context, olderThan time.Duration, maxPerLane int64) (int64, error) {
	var moved int64
	cutoff := time.Now().Add(-olderThan).Unix()

	for _, ln := range q.lanes() {
		ids, err := q.rdb.LRange(ctx, ln.ProcessingKey, 0, -1).Result()
		if err != nil {
			return moved, err
		}
		var lane int64
		for _, id := range ids {
			if lane >= maxPerLane {
				break
			}
			claimed, err := q.rdb.HGet(ctx, q.claimedAtKey, id).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return moved, err
			}
			if err == nil {
				if ts, convErr := strconv.ParseInt(claimed, 10, 64); convErr == nil && ts > cutoff {
					continue
				}
			}

			removed, err := q.rdb.LRem(ctx, ln.ProcessingKey, 1, id).Result()
			if err != nil {
				return moved, err
			}
			if removed == 0 {
				continue
			}
			pipe := q.rdb.TxPipeline()
			pipe.LPush(ctx, ln.QueueKey, id)
			pipe.HDel(ctx, q.processingMapKey, id)
			pipe.HDel(ctx, q.claimedAtKey, id)
			if _, err := pipe.Exec(ctx); err != nil {
				return moved, err
			}
			moved++
			lane++
		}
	}
	return moved, nil
}

// RetryDispatcher puts retried jobs on the retry lane.
type RetryDispatcher struct {
	queue Queue
}

func NewRetryDispatcher(queue Queue) *RetryDispatcher {
	return &RetryDispatcher{queue: queue}
}

func (d *RetryDispatcher) DispatchRetry(ctx context.Context, jobID uuid.UUID) error {
	return d.queue.Enqueue(ctx, jobID.String(), PriorityRetry)
}

var _ pipeline.Dispatcher = (*RetryDispatcher)(nil)
