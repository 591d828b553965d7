package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"freightdesk/internal/infrastructure/mq"
	"freightdesk/internal/model"
	"freightdesk/internal/repository"
)

// OutboxSender 轮询本地消息表，把订单状态和流水事件投递到 Kafka
// 投递失败累加重试次数，超过上限标记为 FAILED，需要人工处理
type OutboxSender struct {
	store      repository.OutboxStore
	publisher  mq.Publisher
	log        *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
}

func NewOutboxSender(store repository.OutboxStore, publisher mq.Publisher, interval time.Duration, maxRetries int, log *zap.Logger) *OutboxSender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxSender{
		store:      store,
		publisher:  publisher,
		log:        log.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  100,
		maxRetries: maxRetries,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本轮发送成功的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := []zap.Field{
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.String("key", msg.MessageKey),
		zap.String("event_type", msg.EventType),
	}

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.UpdateOutboxStatus(ctx, msg.ID, model.OutboxStatusSent); updateErr != nil {
			s.log.Error("更新消息状态失败", append(fields, zap.Error(updateErr))...)
			return false
		}
		s.log.Debug("消息发送成功", fields...)
		return true
	}

	s.log.Warn("消息发送失败", append(fields, zap.Int("retry_count", msg.RetryCount), zap.Error(err))...)

	if err := s.store.IncrementOutboxRetry(ctx, msg.ID); err != nil {
		s.log.Error("增加重试次数失败", append(fields, zap.Error(err))...)
	}

	if msg.RetryCount+1 >= s.maxRetries {
		if err := s.store.MarkOutboxFailed(ctx, msg.ID); err != nil {
			s.log.Error("标记消息失败状态失败", append(fields, zap.Error(err))...)
		} else {
			s.log.Error("消息超过最大重试次数，标记为失败", fields...)
		}
	}
	return false
}
