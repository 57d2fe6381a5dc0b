// Package queue 提供有界的内存 worker 池。
//
// 提醒消费者把从 Stream 读到的每条消息包装成 Job 提交到这里；队列满时提交方阻塞，
// 从而对 Stream 读取形成背压。
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"preptracker/internal/pkg/metrics"
)

// ErrClosed 表示队列已经开始排空，不再接受新任务。
var ErrClosed = errors.New("queue closed")

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// Queue 是固定数量 worker 消费的有界任务通道。
type Queue struct {
	logger  *slog.Logger
	workers int
	jobs    chan Job

	// mu 保护 jobs 的关闭：提交方持读锁发送，Drain 持写锁关闭。
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats 是队列计数的快照。
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Rejected  int64 // TrySubmit 因队列满或已关闭被拒绝
	Panics    int64
}

// NewQueue 创建队列，workers 与 capacity 至少为 1。
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// Start 启动 worker，直到 ctx 被取消或 Drain 关闭通道。
func (q *Queue) Start(ctx context.Context) {
	metrics.WorkerPoolSize.Set(float64(q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx, i)
	}
}

func (q *Queue) run(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.reportDepth()
			q.execute(ctx, job, id)
		}
	}
}

func (q *Queue) execute(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	q.succeeded.Add(1)
}

// Submit 阻塞直到任务入队、ctx 被取消或队列关闭。
func (q *Queue) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		q.reportDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit 非阻塞入队，队列满或已关闭时返回 false。
func (q *Queue) TrySubmit(job Job) bool {
	if job == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return false
	}

	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		q.reportDepth()
		return true
	default:
		q.rejected.Add(1)
		return false
	}
}

// Drain 关闭队列并等待 worker 退出，最多等待 timeout。
//
// ctx 未取消时 worker 会先执行完通道中剩余的任务。
func (q *Queue) Drain(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue drained", slog.Any("stats", q.Stats()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("drain timeout after %s", timeout)
	}
}

// Stats 返回计数快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Rejected:  q.rejected.Load(),
		Panics:    q.panics.Load(),
	}
}

// Len 返回排队中的任务数。
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Cap 返回队列容量。
func (q *Queue) Cap() int {
	return cap(q.jobs)
}

func (q *Queue) reportDepth() {
	metrics.WorkerQueueDepth.Set(float64(len(q.jobs)))
}
