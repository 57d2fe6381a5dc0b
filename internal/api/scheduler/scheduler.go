package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/metrics"
	"preptracker/internal/pkg/taskqueue"
)

// DueTaskSource 按 ID 游标分批提供即将到期的未完成任务。
type DueTaskSource interface {
	DueTasks(ctx context.Context, from, to time.Time, afterID string, limit int) ([]model.Task, error)
}

// Deduper 为每个 (任务, 截止日期) 只放行一次提醒。
type Deduper interface {
	Claim(ctx context.Context, taskID string, due time.Time) (bool, error)
	Release(ctx context.Context, taskID string, due time.Time) error
}

// Publisher 把提醒消息发布到 Redis Stream。
type Publisher interface {
	SubmitReminder(ctx context.Context, msg *taskqueue.ReminderMessage) error
}

// Scheduler 周期扫描即将到期的任务并把提醒发布到 Redis Stream。
//
// 它运行在 API 进程内，只负责生产消息；发送由独立的 reminder 进程消费完成。
type Scheduler struct {
	tasks     DueTaskSource
	deduper   Deduper
	producer  Publisher
	logger    *slog.Logger
	interval  time.Duration
	lookahead time.Duration
	batchSize int
	now       func() time.Time
}

// NewScheduler 创建一个新的调度器实例。
//
// 参数:
//
//	tasks: 到期任务来源
//	deduper: 去重器
//	producer: Stream 生产者
//	logger: 日志记录器
//	interval: 扫描间隔
//	lookahead: 提醒窗口，扫描 [now, now+lookahead] 内到期的任务
//	batchSize: 单批加载数量
func NewScheduler(tasks DueTaskSource, deduper Deduper, producer Publisher, logger *slog.Logger, interval, lookahead time.Duration, batchSize int) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if lookahead <= 0 {
		lookahead = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Scheduler{
		tasks:     tasks,
		deduper:   deduper,
		producer:  producer,
		logger:    logger,
		interval:  interval,
		lookahead: lookahead,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run 立即扫描一次，然后按 interval 周期扫描，直到 ctx 被取消。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("reminder scheduler started",
		slog.String("interval", s.interval.String()),
		slog.String("lookahead", s.lookahead.String()),
		slog.Int("batch_size", s.batchSize))

	s.safeScan(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.safeScan(ctx)
		}
	}
}

func (s *Scheduler) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in reminder scan", slog.Any("panic", r))
		}
	}()

	published, err := s.ScanOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("reminder scan failed", slog.String("error", err.Error()))
		return
	}
	if published > 0 {
		s.logger.Info("reminders published", slog.Int("count", published))
	}
}

// ScanOnce 扫描一次提醒窗口，返回本次新发布的提醒数量。
//
// 每条提醒先占用去重键再发布；发布失败会释放去重键，让下一轮扫描重试。
func (s *Scheduler) ScanOnce(ctx context.Context) (int, error) {
	now := s.now().UTC()
	to := now.Add(s.lookahead)

	published := 0
	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return published, err
		}

		batch, err := s.tasks.DueTasks(ctx, now, to, afterID, s.batchSize)
		if err != nil {
			return published, fmt.Errorf("load due tasks: %w", err)
		}
		if len(batch) == 0 {
			return published, nil
		}
		metrics.ReminderScannedTotal.Add(float64(len(batch)))

		for i := range batch {
			ok, err := s.publish(ctx, &batch[i])
			if err != nil {
				s.logger.Warn("publish reminder failed",
					slog.String("task_id", batch[i].ID),
					slog.String("error", err.Error()))
			}
			if ok {
				published++
			}
			afterID = batch[i].ID
		}

		if len(batch) < s.batchSize {
			return published, nil
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, task *model.Task) (bool, error) {
	claimed, err := s.deduper.Claim(ctx, task.ID, task.DueDate)
	if err != nil {
		return false, err
	}
	if !claimed {
		metrics.ReminderDuplicatePreventedTotal.Inc()
		return false, nil
	}

	msg := taskqueue.NewReminderMessage(task.ID, task.UserID, task.DueDate, taskqueue.SourcePeriodic)
	if err := s.producer.SubmitReminder(ctx, msg); err != nil {
		if delErr := s.deduper.Release(ctx, task.ID, task.DueDate); delErr != nil {
			s.logger.Warn("release dedup key failed",
				slog.String("task_id", task.ID),
				slog.String("error", delErr.Error()))
		}
		return false, err
	}
	metrics.ReminderPublishedTotal.Inc()
	return true, nil
}
