// Package notify delivers push notifications to customers. Delivery is best-effort:
// callers log failures and never retry the business operation because of them.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier is the notification sink.
type Notifier interface {
	Notify(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// LogNotifier 未接入推送渠道时只记录日志
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, tokens []string, title, body string, data map[string]string) error {
	n.log.Info("push notification",
		zap.Int("recipients", len(tokens)),
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("data", data),
	)
	return nil
}
