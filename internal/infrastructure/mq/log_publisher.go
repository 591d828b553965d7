package mq

import "go.uber.org/zap"

// LogPublisher 未启用 Kafka 时使用，只记录日志，outbox 照常标记为已发送
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("mq")}
}

func (p *LogPublisher) SendMessage(topic, key, value string) error {
	p.log.Debug("kafka disabled, message dropped",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int("bytes", len(value)),
	)
	return nil
}
