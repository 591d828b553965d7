package notify

import (
	"context"
	"errors"
	"fmt"

	"freightdesk/internal/config"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// FCM 单次多播最多 500 个 token
const fcmMulticastLimit = 500

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMNotifier 通过 Firebase Cloud Messaging 推送
type FCMNotifier struct {
	client multicastSender
	log    *zap.Logger
}

func NewFCMNotifier(ctx context.Context, cfg config.FirebaseConfig, log *zap.Logger) (*FCMNotifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase messaging client: %w", err)
	}

	return newFCMNotifier(client, log), nil
}

func newFCMNotifier(client multicastSender, log *zap.Logger) *FCMNotifier {
	return &FCMNotifier{client: client, log: log.Named("fcm")}
}

func (n *FCMNotifier) Notify(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	var errs []error
	for start := 0; start < len(tokens); start += fcmMulticastLimit {
		end := start + fcmMulticastLimit
		if end > len(tokens) {
			end = len(tokens)
		}

		resp, err := n.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       tokens[start:end],
			Notification: &messaging.Notification{Title: title, Body: body},
			Data:         data,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if resp.FailureCount > 0 {
			n.log.Warn("部分推送失败",
				zap.Int("success", resp.SuccessCount),
				zap.Int("failure", resp.FailureCount),
			)
		}
	}
	return errors.Join(errs...)
}
