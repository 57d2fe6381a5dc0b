// Package reminder 从 Redis Stream 消费到期提醒消息并通过邮件发送。
package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/metrics"
	"preptracker/internal/pkg/notify"
	"preptracker/internal/pkg/queue"
	"preptracker/internal/pkg/taskqueue"
	"preptracker/internal/store"
)

// TargetLoader 重新加载消息对应的任务与收件人。
type TargetLoader interface {
	ReminderTarget(ctx context.Context, userID, taskID string) (*model.ReminderTarget, error)
}

// Limiter 阻塞直到拿到发信配额。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// StreamConsumer 是 worker 依赖的 taskqueue.Consumer 子集。
type StreamConsumer interface {
	Read(ctx context.Context) ([]*taskqueue.Delivery, error)
	Ack(ctx context.Context, msgID string) error
	Fail(ctx context.Context, d *taskqueue.Delivery, cause error) (taskqueue.Outcome, error)
}

// Worker 读取提醒消息并分发到有界的 worker 池。
type Worker struct {
	consumer    StreamConsumer
	queue       *queue.Queue
	targets     TargetLoader
	notifier    notify.Notifier
	limiter     Limiter
	logger      *slog.Logger
	sendTimeout time.Duration
	// 须小于 Consumer 的 claimIdle，否则等待配额的消息会被自己重新认领
	acquireTimeout time.Duration
	// inflight 记录已提交到池中且尚未处理完的消息 ID。
	inflight sync.Map
}

// NewWorker 创建 Worker。limiter 为 nil 时不限速。
func NewWorker(consumer StreamConsumer, q *queue.Queue, targets TargetLoader, notifier notify.Notifier, limiter Limiter, logger *slog.Logger) *Worker {
	return &Worker{
		consumer:       consumer,
		queue:          q,
		targets:        targets,
		notifier:       notifier,
		limiter:        limiter,
		logger:         logger,
		sendTimeout:    30 * time.Second,
		acquireTimeout: 30 * time.Second,
	}
}

// Run 持续消费 Stream 直到 ctx 取消，然后排空 worker 池。
func (w *Worker) Run(ctx context.Context) error {
	w.queue.Start(ctx)
	w.logger.Info("reminder worker started", slog.Int("queue_capacity", w.queue.Cap()))

	for {
		if ctx.Err() != nil {
			break
		}
		msgs, err := w.consumer.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break
			}
			w.logger.Error("read reminder stream failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			w.enqueueMessage(ctx, msg)
		}
	}

	w.logger.Info("reminder worker stopping")
	if err := w.queue.Drain(30 * time.Second); err != nil {
		w.logger.Error("queue shutdown timeout", slog.String("error", err.Error()))
		return err
	}
	w.logger.Info("reminder worker stopped")
	return nil
}

// enqueueMessage 在池满时阻塞。未能提交的消息保持 pending，
// 之后通过 XAUTOCLAIM 重新认领。仍在池中的消息被重新认领时直接忽略。
func (w *Worker) enqueueMessage(ctx context.Context, msg *taskqueue.Delivery) {
	if _, busy := w.inflight.LoadOrStore(msg.ID, struct{}{}); busy {
		w.logger.Debug("reminder still in flight, ignoring reclaim", slog.String("msg_id", msg.ID))
		return
	}
	err := w.queue.Submit(ctx, func(jobCtx context.Context) error {
		defer w.inflight.Delete(msg.ID)
		return w.handleMessage(jobCtx, msg)
	})
	if err != nil {
		w.inflight.Delete(msg.ID)
		w.logger.Warn("enqueue reminder blocked or canceled",
			slog.String("msg_id", msg.ID),
			slog.String("error", err.Error()),
			slog.Int("queue_len", w.queue.Len()),
			slog.Int("queue_cap", w.queue.Cap()))
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *taskqueue.Delivery) error {
	m := msg.Reminder
	target, err := w.targets.ReminderTarget(ctx, m.UserID, m.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		return w.skip(ctx, msg, "task not found")
	}
	if err != nil {
		return w.fail(ctx, msg, err)
	}
	if target.Status == model.StatusDone {
		return w.skip(ctx, msg, "task done")
	}
	if !sameInstant(target.DueDate, m.DueDate) {
		return w.skip(ctx, msg, "due date changed")
	}

	if w.limiter != nil {
		acquireCtx, cancel := context.WithTimeout(ctx, w.acquireTimeout)
		err := w.limiter.Acquire(acquireCtx)
		expired := ctx.Err() == nil && errors.Is(acquireCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if expired {
				return w.deferMessage(msg)
			}
			return w.fail(ctx, msg, err)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
	err = w.notifier.SendTaskReminder(sendCtx, target)
	cancel()
	if err != nil {
		return w.fail(ctx, msg, err)
	}

	metrics.ReminderSentTotal.WithLabelValues("sent").Inc()
	if err := w.consumer.Ack(ctx, msg.ID); err != nil {
		w.logger.Error("ack reminder failed", slog.String("msg_id", msg.ID), slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (w *Worker) skip(ctx context.Context, msg *taskqueue.Delivery, reason string) error {
	metrics.ReminderSentTotal.WithLabelValues("skipped").Inc()
	w.logger.Info("reminder skipped",
		slog.String("task_id", msg.Reminder.TaskID),
		slog.String("reason", reason))
	return w.consumer.Ack(ctx, msg.ID)
}

// deferMessage 既不 ack 也不重试，消息保持 pending 等待 XAUTOCLAIM。
func (w *Worker) deferMessage(msg *taskqueue.Delivery) error {
	metrics.ReminderSentTotal.WithLabelValues("deferred").Inc()
	w.logger.Info("reminder deferred, send budget exhausted",
		slog.String("task_id", msg.Reminder.TaskID),
		slog.String("msg_id", msg.ID))
	return nil
}

func (w *Worker) fail(ctx context.Context, msg *taskqueue.Delivery, cause error) error {
	outcome, err := w.consumer.Fail(ctx, msg, cause)
	metrics.ReminderSentTotal.WithLabelValues("failed").Inc()
	w.logger.Warn("reminder delivery failed",
		slog.String("task_id", msg.Reminder.TaskID),
		slog.String("outcome", string(outcome)),
		slog.Int("retry", msg.Reminder.Retry),
		slog.String("error", cause.Error()))
	if err != nil {
		w.logger.Error("handle reminder failure", slog.String("msg_id", msg.ID), slog.String("error", err.Error()))
	}
	return cause
}

func sameInstant(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
