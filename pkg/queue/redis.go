package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	applogger "FinScan/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a redis-list backed job queue. One instance can both
// publish and consume: workers start only when at least one job was
// registered before Start, so a queue with no jobs acts as a pure
// publisher.
type RedisQueue struct {
	l         *applogger.Logger
	cfg       *Config
	client    *redis.Client
	jobs      map[string]Job
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	keyPrefix string
}

var _ Publisher = (*RedisQueue)(nil)

// RedisOption configures a RedisQueue.
type RedisOption func(*RedisQueue)

// WithKeyPrefix overrides the redis key prefix for the message list and
// its retry and dead letter companions.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisQueue) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// NewRedis builds a queue on top of an existing redis client. The client
// is owned by the caller and may be shared with other components.
func NewRedis(l *applogger.Logger, cfg *Config, client *redis.Client, opts ...RedisOption) *RedisQueue {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	rq := &RedisQueue{
		l:         l,
		cfg:       cfg,
		client:    client,
		jobs:      make(map[string]Job),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		keyPrefix: "finscan:labeling",
	}

	for _, opt := range opts {
		opt(rq)
	}

	return rq
}

// RegisterJob registers the handler for one message type. Must be called
// before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.l.Warn("job already registered", applogger.String("job", job.Name()))
		return
	}

	r.jobs[job.Type()] = job
	r.l.Info("queue job registered",
		applogger.String("job", job.Name()),
		applogger.String("type", job.Type()))
}

// Start verifies the redis connection and, when jobs are registered,
// spawns the workers and the retry processor.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	r.running = true
	consume := len(r.jobs) > 0
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("redis ping: %w", err)
	}

	if consume {
		for i := 0; i < r.cfg.Workers; i++ {
			r.wg.Add(1)
			go r.worker()
		}
		r.wg.Add(1)
		go r.retryProcessor()
		r.l.Info("queue started",
			applogger.Int("workers", r.cfg.Workers),
			applogger.String("prefix", r.keyPrefix))
	} else {
		r.l.Info("queue publisher started", applogger.String("prefix", r.keyPrefix))
	}

	return nil
}

// Stop drains the workers, waiting at most until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.l.Warn("timeout waiting for queue workers", applogger.Error(ctx.Err()))
		return fmt.Errorf("queue stop: %w", ctx.Err())
	case <-done:
		r.l.Info("queue stopped")
		return nil
	}
}

// Publish pushes one message onto the queue.
func (r *RedisQueue) Publish(ctx context.Context, msgType string, payload interface{}) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return fmt.Errorf("queue not running")
	}
	if len(r.jobs) > 0 {
		if _, exists := r.jobs[msgType]; !exists {
			return fmt.Errorf("no job registered for type %q", msgType)
		}
	}

	msg := Message{
		ID:        strconv.FormatInt(time.Now().UnixNano(), 10),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := r.client.LPush(ctx, r.queueKey(), b).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", r.queueKey(), err)
	}
	return nil
}

// Depth reports the number of messages waiting to be consumed.
func (r *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", r.queueKey(), err)
	}
	return n, nil
}

func (r *RedisQueue) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		default:
			r.consumeNext()
		}
	}
}

func (r *RedisQueue) consumeNext() {
	ctx, cancel := context.WithTimeout(r.ctx, 2*time.Second)
	defer cancel()

	result, err := r.client.BRPop(ctx, time.Second, r.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) ||
			errors.Is(err, context.DeadlineExceeded) ||
			errors.Is(err, context.Canceled) {
			return
		}
		r.l.Error("brpop", applogger.Error(err))
		time.Sleep(time.Second)
		return
	}
	if len(result) < 2 {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.l.Error("unmarshal queue message", applogger.Error(err))
		return
	}

	r.process(msg)
}

func (r *RedisQueue) process(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.l.Error("no job for message type",
			applogger.String("type", msg.Type),
			applogger.String("id", msg.ID))
		return
	}

	start := time.Now()
	err := job.Handle(r.ctx, normalizePayload(msg.Payload))
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		r.l.Warn("message cancelled",
			applogger.String("id", msg.ID),
			applogger.String("job", job.Name()),
			applogger.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return
	}
	r.handleFailure(msg, job, err)
}

// normalizePayload re-encodes a decoded JSON object so job handlers can
// unmarshal it into their own types via ParsePayload.
func normalizePayload(payload interface{}) interface{} {
	m, ok := payload.(map[string]interface{})
	if !ok {
		return payload
	}
	b, err := json.Marshal(m)
	if err != nil {
		return payload
	}
	return json.RawMessage(b)
}

func (r *RedisQueue) handleFailure(msg Message, job Job, err error) {
	r.l.Error("queue job failed",
		applogger.String("id", msg.ID),
		applogger.String("job", job.Name()),
		applogger.Int("attempt", msg.Attempts+1),
		applogger.Error(err))

	if msg.Attempts >= r.cfg.RetryLimit {
		r.l.Error("queue retries exhausted",
			applogger.String("id", msg.ID),
			applogger.String("job", job.Name()))
		r.deadLetter(msg)
		return
	}

	msg.Attempts++
	r.scheduleRetry(msg, time.Now().Add(r.cfg.RetryDelay))
}

func (r *RedisQueue) scheduleRetry(msg Message, at time.Time) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.l.Error("marshal retry message", applogger.Error(err))
		return
	}
	err = r.client.ZAdd(context.Background(), r.retryKey(), redis.Z{
		Score:  float64(at.Unix()),
		Member: b,
	}).Err()
	if err != nil {
		r.l.Error("schedule retry", applogger.Error(err))
	}
}

func (r *RedisQueue) deadLetter(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		r.l.Error("marshal dead letter", applogger.Error(err))
		return
	}
	if err := r.client.LPush(context.Background(), r.dlqKey(), b).Err(); err != nil {
		r.l.Error("push dead letter", applogger.Error(err))
	}
}

// retryProcessor periodically moves due retries back onto the queue.
func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.drainDueRetries()
		}
	}
}

func (r *RedisQueue) drainDueRetries() {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	due, err := r.client.ZRangeByScore(r.ctx, r.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: now,
	}).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.l.Error("fetch due retries", applogger.Error(err))
		return
	}

	for _, member := range due {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		pipe := r.client.TxPipeline()
		pipe.ZRem(r.ctx, r.retryKey(), member)
		pipe.LPush(r.ctx, r.queueKey(), member)
		if _, err := pipe.Exec(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.l.Error("requeue retry", applogger.Error(err))
		}
	}
}

func (r *RedisQueue) queueKey() string { return r.keyPrefix + ":messages" }
func (r *RedisQueue) retryKey() string { return r.keyPrefix + ":retry" }
func (r *RedisQueue) dlqKey() string   { return r.keyPrefix + ":dlq" }
