// Package taskqueue 通过 Redis Stream 传递到期提醒。
//
// API 侧的 Producer 追加消息；reminder 进程的 Consumer 通过消费组读取，
// 认领崩溃消费者遗留的消息，并把反复失败的消息移入 "<stream>:dlq"。
package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultStream 是未配置时使用的 Stream 名称。
const DefaultStream = "preptracker:reminder:queue"

const (
	payloadField  = "data"
	streamMaxLen  = 100000
	deadLetterSfx = ":dlq"
)

// stream 是 Producer 与 Consumer 共用的 Redis Stream 句柄。
type stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

func newStream(rdb *redis.Client, logger *slog.Logger, name string) *stream {
	if name == "" {
		name = DefaultStream
	}
	return &stream{rdb: rdb, logger: logger, name: name}
}

func (s *stream) deadLetterName() string {
	return s.name + deadLetterSfx
}

// appendReminder 把提醒写入主 Stream。
func (s *stream) appendReminder(ctx context.Context, m *ReminderMessage) error {
	data, err := encodeReminder(m)
	if err != nil {
		return err
	}
	id, err := s.xadd(ctx, s.name, map[string]interface{}{payloadField: data})
	if err != nil {
		return err
	}
	s.logger.Debug("reminder appended",
		slog.String("stream", s.name),
		slog.String("msg_id", id),
		slog.String("task_id", m.TaskID),
		slog.Int("retry", m.Retry))
	return nil
}

func (s *stream) xadd(ctx context.Context, name string, values map[string]interface{}) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: name,
		MaxLen: streamMaxLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", name, err)
	}
	return id, nil
}

// ensureGroup 创建消费者组，已存在时忽略。
func (s *stream) ensureGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (s *stream) length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", s.name, err)
	}
	return n, nil
}
