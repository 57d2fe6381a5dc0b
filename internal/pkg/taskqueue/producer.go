package taskqueue

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer 由 API 进程内的调度器使用，把到期任务写入提醒 Stream。
type Producer struct {
	stream *stream
	logger *slog.Logger
}

// NewProducer 创建生产者；streamName 为空时使用 DefaultStream。
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	return &Producer{stream: newStream(rdb, logger, streamName), logger: logger}
}

// SubmitReminder 发布一条提醒，缺少任务或用户 ID 时拒绝。
func (p *Producer) SubmitReminder(ctx context.Context, msg *ReminderMessage) error {
	if err := p.stream.appendReminder(ctx, msg); err != nil {
		attrs := []any{slog.String("error", err.Error())}
		if msg != nil {
			attrs = append(attrs, slog.String("task_id", msg.TaskID), slog.String("source", msg.Source))
		}
		p.logger.Error("submit reminder failed", attrs...)
		return err
	}
	return nil
}

// QueueLength 返回 Stream 中的消息数（含已确认但未裁剪的消息）。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.stream.length(ctx)
}
